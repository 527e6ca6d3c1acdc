// Package pipeline runs the full analysis: normalize the input, segment
// it, fan the stages out, and assemble the report.
package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/patent-insight/internal/analysis"
	"github.com/joelkehle/patent-insight/internal/patentdoc"
	"github.com/joelkehle/patent-insight/internal/report"
	"github.com/joelkehle/patent-insight/internal/segmenter"
	"github.com/joelkehle/patent-insight/internal/telemetry"
)

type StageProgressFn func(stage, message string)

// AnalysisRequest carries either a patent identifier or uploaded XML.
// When both are set the upload wins and the identifier is ignored.
type AnalysisRequest struct {
	Identifier string
	XML        []byte
	Filename   string
	// Stages optionally narrows the analysis; empty means all stages.
	Stages []analysis.StageKind
}

type Config struct {
	// ChunkBudget is the maximum chunk size in characters.
	ChunkBudget int
	// ChunkOverlap is the trailing overlap carried between chunks.
	ChunkOverlap int
	// RunTimeout bounds the whole run. Zero disables the bound.
	RunTimeout time.Duration
	// Weights feed the overall confidence mean.
	Weights map[analysis.StageKind]float64
	// SubjectSimilarity tunes the cross-reference conflict check.
	SubjectSimilarity float64
}

const defaultChunkBudget = 12000

func (c *Config) applyDefaults() {
	if c.ChunkBudget <= 0 {
		c.ChunkBudget = defaultChunkBudget
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
}

type Runner struct {
	normalizer *patentdoc.Normalizer
	orch       *analysis.Orchestrator
	cfg        Config
}

func NewRunner(normalizer *patentdoc.Normalizer, orch *analysis.Orchestrator, cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{normalizer: normalizer, orch: orch, cfg: cfg}
}

func (r *Runner) Run(ctx context.Context, req AnalysisRequest) (report.Report, error) {
	return r.RunWithProgress(ctx, req, nil)
}

// RunWithProgress executes the pipeline. Input-stage errors and
// segmentation errors abort the run; individual stage failures degrade
// the report instead, and only the loss of every stage is fatal.
func (r *Runner) RunWithProgress(ctx context.Context, req AnalysisRequest, progress StageProgressFn) (report.Report, error) {
	runID := uuid.NewString()
	started := time.Now()
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID))

	emit(progress, "normalize", "Normalizing patent input...")
	doc, err := r.normalizer.Normalize(ctx, patentdoc.Input{
		Identifier: req.Identifier,
		XML:        req.XML,
		Filename:   req.Filename,
	})
	if err != nil {
		return report.Report{}, r.fail(span, runID, "normalize", err)
	}
	span.SetAttributes(attribute.String("patent.id", doc.ID))

	emit(progress, "segment", "Segmenting document...")
	chunks, err := segmenter.Segment(doc, segmenter.Options{Budget: r.cfg.ChunkBudget, Overlap: r.cfg.ChunkOverlap})
	if err != nil {
		return report.Report{}, r.fail(span, runID, "segment", err)
	}
	span.SetAttributes(attribute.Int("chunk.count", len(chunks)))

	emit(progress, "analyze", "Running analysis stages...")
	results, err := r.orch.RunStages(ctx, chunks, req.Stages)
	if err != nil {
		return report.Report{}, r.fail(span, runID, "analyze", err)
	}

	emit(progress, "assemble", "Assembling report...")
	rep, err := report.Assemble(results, report.Options{
		Weights:           r.cfg.Weights,
		SubjectSimilarity: r.cfg.SubjectSimilarity,
	})
	if err != nil {
		return report.Report{}, r.fail(span, runID, "assemble", err)
	}
	rep.PatentID = doc.ID
	rep.RunID = runID

	log.Printf("patent-insight run_complete run=%s patent=%s mode=%s chunks=%d confidence=%.2f elapsed_ms=%d",
		runID, doc.ID, rep.Mode, len(chunks), rep.OverallConfidence, time.Since(started).Milliseconds())
	return rep, nil
}

func (r *Runner) fail(span trace.Span, runID, stage string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	log.Printf("patent-insight run_failed run=%s stage=%s err=%q", runID, stage, err.Error())
	return err
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}

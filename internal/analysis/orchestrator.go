package analysis

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/joelkehle/patent-insight/internal/fault"
	"github.com/joelkehle/patent-insight/internal/patentdoc"
	"github.com/joelkehle/patent-insight/internal/segmenter"
	"github.com/joelkehle/patent-insight/internal/telemetry"
)

const (
	defaultMaxAttempts = 3
	defaultMaxInFlight = 3
	defaultCallTimeout = 90 * time.Second
	defaultSimilarity  = 0.85
)

type Config struct {
	// MaxAttempts bounds transient retries per gateway call.
	MaxAttempts int
	// BackoffBase is doubled on each retry. Tests shrink it.
	BackoffBase time.Duration
	// CallTimeout bounds a single gateway call.
	CallTimeout time.Duration
	// MaxInFlight caps concurrent gateway calls across all stages.
	MaxInFlight int64
	// SimilarityThreshold controls near-duplicate finding merges.
	SimilarityThreshold float64
	// StageOrder lists the stages to run when the caller passes none.
	StageOrder []StageKind
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = defaultMaxInFlight
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = defaultSimilarity
	}
	if len(c.StageOrder) == 0 {
		c.StageOrder = DefaultStageOrder
	}
}

// Orchestrator fans the configured stages out over a shared concurrency
// limit and merges each stage's chunk-level responses into one result.
type Orchestrator struct {
	gw  Gateway
	cfg Config
	sem *semaphore.Weighted
}

func NewOrchestrator(gw Gateway, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{gw: gw, cfg: cfg, sem: semaphore.NewWeighted(cfg.MaxInFlight)}
}

// RunStages analyzes the chunks with every requested stage. Stages run
// concurrently and independently: one stage exhausting its retries
// degrades that stage only. The returned map always carries an entry per
// requested stage. An AnalysisUnavailable error is returned only when
// every stage failed; a context error is returned on cancellation, with
// the completed stage results still present in the map.
func (o *Orchestrator) RunStages(ctx context.Context, chunks []segmenter.Chunk, stages []StageKind) (map[StageKind]StageResult, error) {
	if len(stages) == 0 {
		stages = o.cfg.StageOrder
	}
	for _, s := range stages {
		if !ValidStage(s) {
			return nil, fault.New(fault.UnsupportedFormat, fmt.Sprintf("unknown analysis stage %q", s))
		}
	}

	var (
		mu       sync.Mutex
		results  = make(map[StageKind]StageResult, len(stages))
		failures = make(map[StageKind]error)
		wg       sync.WaitGroup
	)
	for _, stage := range stages {
		wg.Add(1)
		go func(stage StageKind) {
			defer wg.Done()
			res, err := o.runStage(ctx, stage, chunks)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("patent-insight stage_failed stage=%s err=%q", stage, err.Error())
				failures[stage] = err
				results[stage] = StageResult{Stage: stage}
				return
			}
			results[stage] = res
		}(stage)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	if len(failures) == len(stages) {
		return results, fault.New(fault.AnalysisUnavailable, "all analysis stages failed")
	}
	return results, nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage StageKind, chunks []segmenter.Chunk) (StageResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "analysis.stage",
		trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()

	relevant := relevantChunks(stage, chunks)
	if len(relevant) == 0 {
		return StageResult{}, fault.New(fault.MalformedResponse, fmt.Sprintf("%s stage has no text to analyze", stage))
	}

	responses := make([]StageResponse, len(relevant))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range relevant {
		i, ch := i, ch
		g.Go(func() error {
			if err := o.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer o.sem.Release(1)
			resp, err := o.callWithRetry(gctx, StageRequest{Stage: stage, PromptContext: promptContext(ch)})
			if err != nil {
				return err
			}
			responses[i] = filterResponse(resp, ch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StageResult{}, err
	}
	return mergeStage(stage, relevant, responses, o.cfg.SimilarityThreshold), nil
}

// callWithRetry retries RateLimited and Timeout failures with exponential
// backoff, and retries a MalformedResponse exactly once with the strict
// re-prompt.
func (o *Orchestrator) callWithRetry(ctx context.Context, req StageRequest) (StageResponse, error) {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		resp, err := o.gw.Analyze(callCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return StageResponse{}, ctx.Err()
		}
		if fault.Is(err, fault.MalformedResponse) && !req.Strict {
			log.Printf("patent-insight stage_content_retry stage=%s err=%q", req.Stage, err.Error())
			req.Strict = true
			continue
		}
		if fault.Retryable(err) && attempt < o.cfg.MaxAttempts {
			delay := o.backoffDelay(attempt)
			log.Printf("patent-insight stage_transient_retry stage=%s attempt=%d delay_ms=%d err=%q", req.Stage, attempt, delay.Milliseconds(), err.Error())
			if err := sleepCtx(ctx, delay); err != nil {
				return StageResponse{}, err
			}
			continue
		}
		return StageResponse{}, err
	}
}

func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	d := o.cfg.BackoffBase << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(o.cfg.BackoffBase)/2 + 1))
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// relevantChunks applies the stage routing rule: the biological and
// chemical passes read everything, the innovation pass reads only the
// title, abstract, and claims. When a document has none of those the
// innovation pass falls back to the full text.
func relevantChunks(stage StageKind, chunks []segmenter.Chunk) []segmenter.Chunk {
	if stage != StageInnovation {
		return chunks
	}
	var out []segmenter.Chunk
	for _, ch := range chunks {
		kinds := ch.Kinds()
		if kinds[patentdoc.SectionTitle] || kinds[patentdoc.SectionAbstract] || kinds[patentdoc.SectionClaim] {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return chunks
	}
	return out
}

// promptContext turns a chunk's refs into labeled blocks, preserving
// document order and marking overlap text as non-citable.
func promptContext(ch segmenter.Chunk) []ContextBlock {
	blocks := make([]ContextBlock, 0, len(ch.SectionRefs))
	pos := 0
	for _, r := range ch.SectionRefs {
		n := r.End - r.Start
		if pos+n > len(ch.Text) {
			n = len(ch.Text) - pos
		}
		text := ch.Text[pos : pos+n]
		pos += n
		// refs are separated by the section separator in the chunk text
		for pos < len(ch.Text) && (ch.Text[pos] == '\n' || ch.Text[pos] == ' ') {
			pos++
		}
		blocks = append(blocks, ContextBlock{
			SectionIndex: r.SectionIndex,
			Kind:         string(r.Kind),
			Text:         text,
			ContextOnly:  r.Overlap,
		})
	}
	return blocks
}

// filterResponse drops citations of sections the chunk does not own, so
// overlap text never counts as a distinct finding source.
func filterResponse(resp StageResponse, ch segmenter.Chunk) StageResponse {
	allowed := map[int]bool{}
	for _, idx := range ch.SectionIndices() {
		allowed[idx] = true
	}
	for i, f := range resp.Findings {
		kept := f.SupportingSectionIndices[:0]
		for _, idx := range f.SupportingSectionIndices {
			if allowed[idx] {
				kept = append(kept, idx)
			}
		}
		resp.Findings[i].SupportingSectionIndices = kept
	}
	return resp
}

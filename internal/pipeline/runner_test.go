package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/patent-insight/internal/analysis"
	"github.com/joelkehle/patent-insight/internal/fault"
	"github.com/joelkehle/patent-insight/internal/patentdoc"
	"github.com/joelkehle/patent-insight/internal/report"
)

const pipelineXML = `<?xml version="1.0" encoding="UTF-8"?>
<wo-patent-publication>
  <bibliographic-data>
    <publication-reference>
      <document-id>
        <country>WO</country>
        <doc-number>2024033280</doc-number>
        <kind>A1</kind>
      </document-id>
    </publication-reference>
    <invention-title lang="en">Imidazopyrazine PI4K inhibitors</invention-title>
  </bibliographic-data>
  <abstract lang="en"><p>Compounds that inhibit PI4K for the treatment of malaria.</p></abstract>
  <claims lang="en">
    <claim><claim-text>A compound of formula I.</claim-text></claim>
  </claims>
  <description lang="en"><p>The compounds described herein inhibit PI4K kinase.</p></description>
</wo-patent-publication>`

type stubGateway struct {
	fail map[analysis.StageKind]error
}

func (s *stubGateway) Analyze(_ context.Context, req analysis.StageRequest) (analysis.StageResponse, error) {
	if err := s.fail[req.Stage]; err != nil {
		return analysis.StageResponse{}, err
	}
	supports := []int{}
	for _, b := range req.PromptContext {
		if !b.ContextOnly {
			supports = append(supports, b.SectionIndex)
		}
	}
	return analysis.StageResponse{
		Findings:   []analysis.Finding{{ClaimText: string(req.Stage) + " finding", SupportingSectionIndices: supports, Confidence: 0.9}},
		Confidence: 0.9,
	}, nil
}

func (s *stubGateway) ModelName() string { return "test-model" }

func newTestRunner(gw analysis.Gateway) *Runner {
	orch := analysis.NewOrchestrator(gw, analysis.Config{MaxAttempts: 2, BackoffBase: time.Millisecond, CallTimeout: time.Second})
	return NewRunner(patentdoc.NewNormalizer(nil), orch, Config{ChunkBudget: 4000})
}

func TestRunXMLUploadEndToEnd(t *testing.T) {
	r := newTestRunner(&stubGateway{})

	var stages []string
	rep, err := r.RunWithProgress(context.Background(), AnalysisRequest{
		XML:      []byte(pipelineXML),
		Filename: "wo2024033280.xml",
	}, func(stage, _ string) { stages = append(stages, stage) })
	if err != nil {
		t.Fatalf("RunWithProgress: %v", err)
	}
	if rep.PatentID != "WO2024033280A1" {
		t.Fatalf("unexpected patent id %q", rep.PatentID)
	}
	if rep.RunID == "" {
		t.Fatal("run id not set")
	}
	if rep.Mode != report.ModeComplete {
		t.Fatalf("unexpected mode %s", rep.Mode)
	}
	if got := rep.OverallConfidence; got < 0.89 || got > 0.91 {
		t.Fatalf("overall confidence = %v, want 0.9", got)
	}
	if len(rep.Sections) != 3 {
		t.Fatalf("expected all three stages, got %d", len(rep.Sections))
	}
	if len(rep.CrossReferenceFlags) != 0 {
		t.Fatalf("unexpected conflicts: %+v", rep.CrossReferenceFlags)
	}
	want := []string{"normalize", "segment", "analyze", "assemble"}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Fatalf("progress stages = %v, want %v", stages, want)
	}
}

func TestRunDegradesOnSingleStageFailure(t *testing.T) {
	r := newTestRunner(&stubGateway{fail: map[analysis.StageKind]error{
		analysis.StageChemical: fault.New(fault.Timeout, "slow upstream"),
	}})

	rep, err := r.Run(context.Background(), AnalysisRequest{XML: []byte(pipelineXML)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Mode != report.ModeDegraded {
		t.Fatalf("expected degraded report, got %s", rep.Mode)
	}
	if !rep.Sections[analysis.StageChemical].Degraded() {
		t.Fatalf("chemical stage should be degraded: %+v", rep.Sections[analysis.StageChemical])
	}
	if rep.Sections[analysis.StageBiological].Degraded() {
		t.Fatal("biological stage should have survived")
	}
}

func TestRunAbortsWhenAllStagesFail(t *testing.T) {
	r := newTestRunner(&stubGateway{fail: map[analysis.StageKind]error{
		analysis.StageBiological: fault.New(fault.Timeout, "down"),
		analysis.StageChemical:   fault.New(fault.Timeout, "down"),
		analysis.StageInnovation: fault.New(fault.Timeout, "down"),
	}})

	_, err := r.Run(context.Background(), AnalysisRequest{XML: []byte(pipelineXML)})
	if !fault.Is(err, fault.AnalysisUnavailable) {
		t.Fatalf("expected AnalysisUnavailable, got %v", err)
	}
}

func TestRunRejectsInvalidIdentifier(t *testing.T) {
	r := newTestRunner(&stubGateway{})
	_, err := r.Run(context.Background(), AnalysisRequest{Identifier: "not-a-patent"})
	if !fault.Is(err, fault.InvalidIdentifier) {
		t.Fatalf("expected InvalidIdentifier, got %v", err)
	}
}

func TestRunRejectsBudgetTooSmall(t *testing.T) {
	gw := &stubGateway{}
	orch := analysis.NewOrchestrator(gw, analysis.Config{MaxAttempts: 2, BackoffBase: time.Millisecond})
	r := NewRunner(patentdoc.NewNormalizer(nil), orch, Config{ChunkBudget: 5})

	_, err := r.Run(context.Background(), AnalysisRequest{XML: []byte(pipelineXML)})
	if !fault.Is(err, fault.BudgetTooSmall) {
		t.Fatalf("expected BudgetTooSmall, got %v", err)
	}
}

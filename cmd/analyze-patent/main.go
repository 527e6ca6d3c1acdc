package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joelkehle/patent-insight/internal/analysis"
	"github.com/joelkehle/patent-insight/internal/config"
	"github.com/joelkehle/patent-insight/internal/fault"
	"github.com/joelkehle/patent-insight/internal/patentdoc"
	"github.com/joelkehle/patent-insight/internal/pipeline"
	"github.com/joelkehle/patent-insight/internal/registry"
	"github.com/joelkehle/patent-insight/internal/report"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	xmlPath := flag.String("xml", "", "Path to a registry XML export instead of an identifier")
	format := flag.String("format", "markdown", "Output format: markdown, json, or pdf")
	out := flag.String("out", "", "Output file (default stdout; required for pdf)")
	flag.Parse()

	identifier := flag.Arg(0)
	if identifier == "" && *xmlPath == "" {
		fmt.Fprintln(os.Stderr, "usage: analyze-patent [flags] <identifier> | analyze-patent -xml <file>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *format == "pdf" && *out == "" {
		log.Fatal("-out is required with -format pdf")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}

	gateway, err := analysis.NewAnthropicGatewayFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	source := registry.NewClient(registry.Config{
		BaseURL:            cfg.Registry.BaseURL,
		MaxAttempts:        cfg.Registry.MaxAttempts,
		RateLimitPerMinute: cfg.Registry.RateLimitPerMinute,
	})
	orch := analysis.NewOrchestrator(gateway, analysis.Config{
		MaxAttempts:         cfg.Analysis.MaxAttempts,
		BackoffBase:         cfg.Analysis.BackoffBase(),
		CallTimeout:         cfg.Analysis.CallTimeout(),
		MaxInFlight:         cfg.Analysis.MaxInFlight,
		SimilarityThreshold: cfg.Analysis.SimilarityThreshold,
	})
	runner := pipeline.NewRunner(patentdoc.NewNormalizer(source), orch, pipeline.Config{
		ChunkBudget:       cfg.Segmenter.ChunkBudget,
		ChunkOverlap:      cfg.Segmenter.ChunkOverlap,
		RunTimeout:        cfg.Analysis.RunTimeout(),
		SubjectSimilarity: cfg.Report.SubjectSimilarity,
	})

	req := pipeline.AnalysisRequest{Identifier: identifier}
	if *xmlPath != "" {
		blob, err := os.ReadFile(*xmlPath)
		if err != nil {
			log.Fatal(err)
		}
		req = pipeline.AnalysisRequest{XML: blob, Filename: filepath.Base(*xmlPath)}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rep, err := runner.RunWithProgress(ctx, req, func(stage, message string) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", stage, message)
	})
	if err != nil {
		log.Fatal(fault.UserMessage(err))
	}

	var rendered []byte
	switch *format {
	case "json":
		rendered, err = json.MarshalIndent(rep, "", "  ")
		if err != nil {
			log.Fatal(err)
		}
		rendered = append(rendered, '\n')
	case "pdf":
		rendered, err = report.NewPDFRenderer().Render(ctx, report.BuildMarkdown(rep))
		if err != nil {
			log.Fatal(err)
		}
	case "markdown":
		rendered = []byte(report.BuildMarkdown(rep))
	default:
		log.Fatalf("unknown format %q", *format)
	}

	if *out == "" {
		os.Stdout.Write(rendered)
		return
	}
	if err := os.WriteFile(*out, rendered, 0o644); err != nil {
		log.Fatal(err)
	}
	log.Printf("patent-insight report_written path=%s bytes=%d", *out, len(rendered))
}

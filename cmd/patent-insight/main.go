package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joelkehle/patent-insight/internal/analysis"
	"github.com/joelkehle/patent-insight/internal/config"
	"github.com/joelkehle/patent-insight/internal/httpapi"
	"github.com/joelkehle/patent-insight/internal/patentdoc"
	"github.com/joelkehle/patent-insight/internal/pipeline"
	"github.com/joelkehle/patent-insight/internal/registry"
	"github.com/joelkehle/patent-insight/internal/telemetry"
	"github.com/joelkehle/patent-insight/internal/watchlist"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if shutdown := telemetry.Init(ctx, telemetry.Config{ServiceName: "patent-insight"}); shutdown != nil {
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = shutdown(shutdownCtx)
		}()
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
		StageOrder:          stageOrder(cfg.Analysis.Stages),
	})

	runner := pipeline.NewRunner(patentdoc.NewNormalizer(source), orch, pipeline.Config{
		ChunkBudget:       cfg.Segmenter.ChunkBudget,
		ChunkOverlap:      cfg.Segmenter.ChunkOverlap,
		RunTimeout:        cfg.Analysis.RunTimeout(),
		Weights:           stageWeights(cfg.Analysis.Weights),
		SubjectSimilarity: cfg.Report.SubjectSimilarity,
	})

	store, err := watchlist.NewStore(cfg.Watchlist.DatabasePath, source)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           httpapi.NewServer(runner, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
		defer c()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("patent-insight listening addr=%s model=%s", cfg.Server.Addr(), gateway.ModelName())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func stageOrder(names []string) []analysis.StageKind {
	var out []analysis.StageKind
	for _, n := range names {
		s := analysis.StageKind(n)
		if analysis.ValidStage(s) {
			out = append(out, s)
		}
	}
	return out
}

func stageWeights(raw map[string]float64) map[analysis.StageKind]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[analysis.StageKind]float64, len(raw))
	for k, v := range raw {
		out[analysis.StageKind(k)] = v
	}
	return out
}

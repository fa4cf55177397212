package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"exovision/config"
	"exovision/db"
	exohttp "exovision/http"
	"exovision/llm"
	"exovision/logger"
	"exovision/monitoring"
	"exovision/pipeline"
	"exovision/scheduler"
	"exovision/store"
	"exovision/training"
)

func main() {
	// 1. Load config; EXOVISION_CONFIG names a file other than config.yaml.
	cfg, err := config.Load(os.Getenv("EXOVISION_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	lg, err := logger.Init(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("exovision stopped with error", zap.Error(err))
	}
	lg.Info("exiting")
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Database
	if err := db.InitDB(cfg.Database.Path); err != nil {
		return err
	}
	defer db.Close()
	lg.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 4. Model store
	models, err := store.Open(cfg.Store.Dir, store.Options{
		CacheSize: cfg.Store.CacheSize,
		Debounce:  cfg.Store.Debounce,
		OnReload: func(names []string) {
			monitoring.SetModelsLoaded(len(names))
		},
	})
	if err != nil {
		return err
	}
	monitoring.SetModelsLoaded(models.Len())
	lg.Info("models loaded", zap.Strings("models", models.Names()))

	datasets, err := pipeline.NewDataIngester(pipeline.IngestionConfig{
		Dir:          cfg.Datasets.Dir,
		MaxFileBytes: cfg.Datasets.MaxFileBytes,
	})
	if err != nil {
		return err
	}

	chat := newChat(ctx, cfg.LLM, lg)

	hub := monitoring.NewWebSocketHub(cfg.HTTP.AllowedOrigins)
	go hub.Start()
	defer hub.Stop()

	trainer := training.NewRunner(cfg.Training, models, hub)

	// 5. Scheduled retraining
	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = scheduler.New(cfg.Schedule.Cron, cfg.Schedule.Model, trainer, datasets)
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	// 6. HTTP server
	var limiter *rate.Limiter
	if cfg.LLM.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.LLM.RatePerMinute/60), max(cfg.LLM.Burst, 1))
	}
	server, err := exohttp.NewServer(cfg.HTTP, exohttp.Deps{
		Store:       models,
		Datasets:    datasets,
		Trainer:     trainer,
		Chat:        chat,
		Hub:         hub,
		ChatLimiter: limiter,
		Scheduler:   sched,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	if cfg.Store.Watch {
		g.Go(func() error { return models.Watch(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newChat builds the configured relay. A provider that cannot be built
// leaves the chat endpoint answering 503 instead of failing startup.
func newChat(ctx context.Context, cfg config.LLMConfig, lg *zap.Logger) llm.ChatProvider {
	opts := llm.Options{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.GeminiAPIKey,
		Timeout:   cfg.Timeout,
		MaxTokens: cfg.MaxTokens,
	}
	if cfg.Provider == "openai" || cfg.Provider == "deepseek" {
		opts.APIKey = cfg.OpenAIAPIKey
	}

	relay, err := llm.New(ctx, opts)
	if err != nil {
		lg.Warn("chat provider unavailable, chat disabled", zap.String("provider", cfg.Provider), zap.Error(err))
		relay, _ = llm.New(ctx, llm.Options{Provider: "none"})
	}
	return relay
}

// Package http serves the ExoVision web pages and JSON API.
package http

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"exovision/config"
	"exovision/llm"
	"exovision/logger"
	"exovision/monitoring"
	"exovision/pipeline"
	"exovision/scheduler"
	"exovision/store"
	"exovision/training"
)

//go:embed templates/*.html
var templateFS embed.FS

// Deps are the services behind the handlers.
type Deps struct {
	Store    *store.Store
	Datasets *pipeline.DataIngester
	Trainer  *training.Runner
	Chat     llm.ChatProvider
	Hub      *monitoring.WebSocketHub
	// ChatLimiter throttles /chat; nil disables throttling.
	ChatLimiter *rate.Limiter
	// Scheduler is reported by /api/health when retraining is scheduled.
	Scheduler *scheduler.Scheduler
}

// Server is the HTTP front end.
type Server struct {
	server  *http.Server
	config  config.HTTPConfig
	deps    Deps
	pages   *template.Template
	handler http.Handler
	started time.Time
	log     *zap.Logger
}

// NewServer builds the mux and middleware chain.
func NewServer(cfg config.HTTPConfig, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Datasets == nil || deps.Trainer == nil || deps.Chat == nil || deps.Hub == nil {
		return nil, errors.New("http: store, datasets, trainer, chat and hub are required")
	}
	if cfg.MaxBatchRows <= 0 {
		cfg.MaxBatchRows = 100
	}

	pages, err := template.New("pages").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		config:  cfg,
		deps:    deps,
		pages:   pages,
		started: time.Now(),
		log:     logger.L().With(zap.String("component", "http")),
	}

	chain := Chain(
		RecoveryMiddleware,
		LoggerMiddleware,
		SecurityHeadersMiddleware,
		CORSMiddleware(cfg.AllowedOrigins),
		RequestSizeMiddleware(cfg.MaxBodyBytes),
		MetricsMiddleware,
	)
	s.handler = chain(s.routes())

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	quick := TimeoutMiddleware(s.config.RequestTimeout)
	page := Chain(GzipMiddleware, quick)

	mux.Handle("GET /{$}", page(http.HandlerFunc(s.handleIndex)))
	mux.Handle("GET /learn", page(s.staticPage("learn.html", "Learn")))
	mux.Handle("GET /model-info", page(s.staticPage("model_info.html", "Model info")))
	mux.Handle("GET /tales-from-the-stars", page(s.staticPage("tales.html", "Tales from the stars")))
	mux.Handle("GET /test-model", page(s.staticPage("test_model.html", "Test a model")))
	mux.Handle("GET /static/", GzipMiddleware(http.StripPrefix("/static/", http.FileServer(http.Dir(s.config.StaticDir)))))

	mux.Handle("POST /predict/manual", quick(http.HandlerFunc(s.handleManualPredict)))
	mux.Handle("POST /predict/csv", quick(http.HandlerFunc(s.handleCSVPredict)))
	mux.Handle("POST /api/predict/csv", quick(http.HandlerFunc(s.handleAPICSVPredict)))

	mux.Handle("GET /models", quick(http.HandlerFunc(s.handleModels)))
	mux.Handle("GET /model/{name}", quick(http.HandlerFunc(s.handleModelInfo)))
	mux.Handle("GET /model/{name}/confusion-matrix", quick(http.HandlerFunc(s.handleConfusionMatrix)))

	var train http.Handler = http.HandlerFunc(s.handleTrain)
	if s.config.TrainToken != "" {
		train = AuthMiddleware(StaticToken(s.config.TrainToken))(train)
	}
	mux.Handle("POST /custom-model/train", train)
	mux.HandleFunc("GET /train", s.handleTrainEvents)
	mux.HandleFunc("GET /ws/train", s.deps.Hub.HandleWebSocket)
	mux.Handle("GET /api/training/history", quick(http.HandlerFunc(s.handleTrainingHistory)))
	mux.Handle("GET /api/predictions/stats", quick(http.HandlerFunc(s.handlePredictionStats)))

	mux.Handle("POST /chat", RateLimitMiddleware(s.deps.ChatLimiter)(http.HandlerFunc(s.handleChat)))

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", monitoring.Handler())

	return mux
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

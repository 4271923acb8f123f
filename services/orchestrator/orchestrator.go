// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the truthwindow conversation service.
//
// This package contains the Service type that coordinates all components of
// the service: the session store, the archive retriever, the answer
// composer, the access gate, HTTP routing, and observability.
//
// # Extension Points
//
// The service accepts an extensions.AuditLogger via ServiceOptions. It
// receives chat deletions, gate denials, credential reloads, and retention
// passes. With nil options those events go to the structured log.
//
// A non-nop extensions.AuthProvider validates bearer tokens that are not in
// the configured key set.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210, WeaviateURL: "http://weaviate:8080"}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/truthwindow/pkg/extensions"
	"github.com/AleutianAI/truthwindow/services/llm"
	"github.com/AleutianAI/truthwindow/services/orchestrator/composer"
	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
	"github.com/AleutianAI/truthwindow/services/orchestrator/handlers"
	"github.com/AleutianAI/truthwindow/services/orchestrator/middleware"
	"github.com/AleutianAI/truthwindow/services/orchestrator/observability"
	"github.com/AleutianAI/truthwindow/services/orchestrator/retrieval"
	"github.com/AleutianAI/truthwindow/services/orchestrator/routes"
	"github.com/AleutianAI/truthwindow/services/orchestrator/services"
	"github.com/AleutianAI/truthwindow/services/orchestrator/storage"
	"github.com/AleutianAI/truthwindow/services/orchestrator/ttl"
	"github.com/AleutianAI/truthwindow/services/policy_engine"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the conversation service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until ctx is cancelled or the
	// server fails.
	//
	// # Description
	//
	// On cancellation the server stops accepting connections and waits up
	// to Config.ShutdownTimeout for in-flight requests. Turns already in
	// COMPOSING or PERSISTING finish on their own detached context. All
	// resources (store, watcher, scheduler, tracer) are released before Run
	// returns.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or shut down cleanly.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close releases resources without running the server. Used when Run
	// is never called.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Store backends accepted by Config.StoreBackend.
const (
	StoreBackendBadger = "badger"
	StoreBackendMemory = "memory"
)

// Config holds service configuration.
//
// # Description
//
// Values are populated from a YAML file and environment overrides by the
// CLI, or programmatically for tests. Zero values are replaced by
// applyConfigDefaults.
//
// # Examples
//
//	// Minimal config (badger under ./data, OpenAI backend)
//	cfg := Config{WeaviateURL: "http://localhost:8080"}
//
//	// Local model, in-memory sessions
//	cfg := Config{
//	    StoreBackend: "memory",
//	    LLMBackend:   "ollama",
//	    OllamaURL:    "http://localhost:11434",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int `yaml:"port"`

	// GinMode is passed to gin.SetMode when non-empty.
	GinMode string `yaml:"gin_mode"`

	// ShutdownTimeout bounds the graceful drain. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// StoreBackend is "badger" or "memory". Default: badger
	StoreBackend string `yaml:"store_backend"`

	// DataDir holds the badger database under DataDir/sessions.
	// Default: ./data
	DataDir string `yaml:"data_dir"`

	// WeaviateURL is the archive index. Empty runs without retrieval:
	// every turn fails as retryable and /ready reports not ready.
	WeaviateURL string `yaml:"weaviate_url"`

	// TopK passages per question. Default: 5
	TopK int `yaml:"top_k"`

	// EmbeddingModel and EmbeddingDimensions must match the archive index.
	EmbeddingModel      string `yaml:"embedding_model"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`

	// LLMBackend is "openai" or "ollama". Default: openai
	LLMBackend    string `yaml:"llm_backend"`
	OpenAIModel   string `yaml:"openai_model"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OllamaURL     string `yaml:"ollama_url"`
	OllamaModel   string `yaml:"ollama_model"`

	// OpenAIKeyFile is read when OPENAI_API_KEY is unset.
	// Default: /run/secrets/openai_api_key
	OpenAIKeyFile string `yaml:"openai_key_file"`

	// APIKeys and AllowedOrigins seed the access gate. Both empty with no
	// CredentialsFile runs the gate open.
	APIKeys        []string `yaml:"api_keys"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// CredentialsFile is watched and merged over APIKeys/AllowedOrigins.
	CredentialsFile string `yaml:"credentials_file"`

	// RateLimitPerMinute per client. Zero disables limiting.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// RetentionDays deletes chats idle longer than this. Zero disables.
	RetentionDays int `yaml:"retention_days"`

	// RetentionInterval between retention passes. Default: 1h
	RetentionInterval time.Duration `yaml:"retention_interval"`

	// OTelEndpoint is an OTLP gRPC collector host:port. Empty disables
	// span export unless TraceStdout is set.
	OTelEndpoint string `yaml:"otel_endpoint"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	logger        *slog.Logger
	router        *gin.Engine
	store         storage.Store
	gate          *middleware.AccessGate
	watcher       *middleware.CredentialsWatcher
	scheduler     ttl.Scheduler
	tracerCleanup func(context.Context)
	meterCleanup  func(context.Context)
	watchCancel   context.CancelFunc
}

// New creates a fully wired Service.
//
// # Description
//
// Initializes, in order: tracing, metrics, the session store, the archive
// retriever, the language model, the composer, the access gate (with its
// credentials watcher), the rate limiter, and the router. Any failure
// releases what was already opened.
//
// # Inputs
//
//   - cfg: Configuration. Zero values are replaced by defaults.
//   - opts: Extension points. Nil audits to the structured log.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if a required component cannot be initialized.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
		logger: slog.Default(),
	}
	if opts != nil {
		s.opts = opts.WithDefaults()
	} else {
		s.opts = extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(s.logger))
	}
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	meterCfg := observability.MeterConfig{Registerer: registry}
	if s.config.TraceStdout {
		meterCfg.StdoutWriter = os.Stdout
	}
	meterProvider, meterCleanup, err := observability.InitMeter(meterCfg)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize meter: %w", err)
	}
	s.meterCleanup = meterCleanup

	s.store, err = OpenStore(s.config, s.logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	retriever, probe, err := s.initRetriever()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize retriever: %w", err)
	}

	completer, err := s.initLLMClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	completer, err = llm.Instrument(completer, s.config.LLMBackend, meterProvider.Meter("truthwindow/llm"))
	if err != nil {
		s.cleanup()
		return nil, err
	}

	policyEngine, err := policy_engine.NewPolicyEngine()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	comp := composer.NewService(completer, policyEngine, composer.DefaultConfig(), s.logger)

	if err := s.initGate(metrics); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize access gate: %w", err)
	}

	if s.config.RetentionDays > 0 {
		schedCfg := ttl.DefaultSchedulerConfig()
		schedCfg.Interval = s.config.RetentionInterval
		schedCfg.RetentionDays = s.config.RetentionDays
		schedCfg.Audit = s.opts.AuditLogger
		schedCfg.Logger = s.logger
		s.scheduler = ttl.NewScheduler(s.store, schedCfg)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), otelgin.Middleware("truthwindow"))
	routes.SetupRoutes(s.router, routes.Dependencies{
		Chats:        services.NewChatService(s.store, metrics, s.logger),
		Conversation: services.NewConversationService(s.store, retriever, comp, metrics, s.logger),
		Gate:         s.gate,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: s.config.RateLimitPerMinute,
		}, s.logger),
		Probes: []handlers.Probe{
			{Name: "store", Check: s.store.Ping},
			probe,
		},
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Options: s.opts,
	})

	return s, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	if s.watcher != nil {
		watchCtx, cancel := context.WithCancel(ctx)
		s.watchCancel = cancel
		go s.watcher.Start(watchCtx)
	}
	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start retention scheduler: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting truthwindow server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down truthwindow server", "timeout", s.config.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close implements Service.
func (s *service) Close() error {
	s.cleanup()
	return nil
}

// =============================================================================
// Initialization Helpers
// =============================================================================

// applyConfigDefaults fills zero-valued fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = StoreBackendBadger
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultConfig().TopK
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = llm.BackendOpenAI
	}
	if cfg.OpenAIKeyFile == "" {
		cfg.OpenAIKeyFile = llm.DefaultOpenAIKeySecret
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = 1 * time.Hour
	}
	cfg.WeaviateURL = strings.Trim(cfg.WeaviateURL, "\"' ")
	return cfg
}

// OpenStore opens the configured session store. Also used by the admin
// CLI, which must not run while a server holds the badger directory.
func OpenStore(cfg Config, logger *slog.Logger) (storage.Store, error) {
	cfg = applyConfigDefaults(cfg)
	switch cfg.StoreBackend {
	case StoreBackendMemory:
		logger.Warn("Using in-memory session store; conversations are lost on restart")
		return storage.NewMemoryStore(), nil
	case StoreBackendBadger:
		path := filepath.Join(cfg.DataDir, "sessions")
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		badgerCfg := storage.DefaultBadgerConfig(path)
		badgerCfg.Logger = logger
		store, err := storage.NewBadgerStore(badgerCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Session store opened", "backend", cfg.StoreBackend, "path", path)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func (s *service) initTracer() (func(context.Context), error) {
	tcfg := observability.TracingConfig{
		ServiceName:  "truthwindow",
		OTLPEndpoint: s.config.OTelEndpoint,
	}
	if s.config.TraceStdout {
		tcfg.StdoutWriter = os.Stdout
	}
	return observability.InitTracer(context.Background(), tcfg)
}

// initRetriever builds the archive retriever and its readiness probe.
//
// # Description
//
// Without a Weaviate URL the service runs in lightweight mode: chats can be
// created and read, but every turn fails retrieval as retryable.
func (s *service) initRetriever() (retrieval.Retriever, handlers.Probe, error) {
	if s.config.WeaviateURL == "" {
		s.logger.Warn("Weaviate URL not configured, running without archive retrieval")
		return unavailableRetriever{}, handlers.Probe{
			Name:  "retriever",
			Check: func(context.Context) error { return errRetrievalNotConfigured },
		}, nil
	}

	client, err := retrieval.NewWeaviateClient(s.config.WeaviateURL)
	if err != nil {
		return nil, handlers.Probe{}, err
	}
	if err := datatypes.EnsureWeaviateSchema(context.Background(), client, s.logger); err != nil {
		s.logger.Warn("Weaviate schema check failed", "error", err)
	}

	key, err := llm.LoadAPIKey("OPENAI_API_KEY", s.config.OpenAIKeyFile)
	if err != nil {
		return nil, handlers.Probe{}, fmt.Errorf("embeddings need an OpenAI key: %w", err)
	}
	api, err := llm.NewOpenAIAPI(key, s.config.OpenAIBaseURL)
	if err != nil {
		return nil, handlers.Probe{}, err
	}
	embedder := retrieval.NewOpenAIEmbedder(api, s.config.EmbeddingModel, s.config.EmbeddingDimensions)

	rcfg := retrieval.DefaultConfig()
	rcfg.TopK = s.config.TopK
	svc := retrieval.NewService(embedder, retrieval.NewWeaviateSearcher(client), rcfg, s.logger)
	s.logger.Info("Archive retriever initialized", "url", s.config.WeaviateURL, "top_k", rcfg.TopK)
	return svc, handlers.Probe{Name: "retriever", Check: svc.Ready}, nil
}

func (s *service) initLLMClient() (llm.Completer, error) {
	lcfg := llm.Config{
		Backend: s.config.LLMBackend,
		Ollama:  llm.OllamaConfig{BaseURL: s.config.OllamaURL, Model: s.config.OllamaModel},
	}
	if s.config.LLMBackend == llm.BackendOpenAI {
		key, err := llm.LoadAPIKey("OPENAI_API_KEY", s.config.OpenAIKeyFile)
		if err != nil {
			return nil, err
		}
		lcfg.OpenAI = llm.OpenAIConfig{APIKey: key, Model: s.config.OpenAIModel, BaseURL: s.config.OpenAIBaseURL}
	}
	s.logger.Info("Using LLM backend", "backend", s.config.LLMBackend)
	return llm.New(lcfg)
}

func (s *service) initGate(metrics *observability.Metrics) error {
	static := middleware.Credentials{
		Tokens:         s.config.APIKeys,
		AllowedOrigins: s.config.AllowedOrigins,
	}
	var provider extensions.AuthProvider
	if _, nop := s.opts.AuthProvider.(*extensions.NopAuthProvider); !nop {
		provider = s.opts.AuthProvider
	}
	s.gate = middleware.NewAccessGate(middleware.GateConfig{
		Credentials: static,
		Provider:    provider,
		Metrics:     metrics,
		Audit:       s.opts.AuditLogger,
		Logger:      s.logger,
	})
	if s.config.CredentialsFile == "" {
		return nil
	}
	watcher, err := middleware.NewCredentialsWatcher(s.config.CredentialsFile, static, s.gate)
	if err != nil {
		return err
	}
	s.watcher = watcher
	return nil
}

// cleanup releases everything New and Run opened. Safe to call twice.
func (s *service) cleanup() {
	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			s.logger.Warn("Retention scheduler stop error", "error", err)
		}
	}
	if s.watchCancel != nil {
		s.watchCancel()
	}
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Debug("Credentials watcher close error", "error", err)
		}
		s.watcher = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("Session store close error", "error", err)
		}
		s.store = nil
	}
	if s.opts.AuditLogger != nil {
		_ = s.opts.AuditLogger.Flush(context.Background())
	}
	if s.meterCleanup != nil {
		s.meterCleanup(context.Background())
		s.meterCleanup = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Lightweight Mode
// =============================================================================

var errRetrievalNotConfigured = errors.New("archive retrieval is not configured")

// unavailableRetriever fails every retrieval as retryable.
type unavailableRetriever struct{}

func (unavailableRetriever) Retrieve(context.Context, string) ([]datatypes.Passage, error) {
	return nil, &datatypes.RetrievalUnavailableError{Attempts: 0, Err: errRetrievalNotConfigured}
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Service = (*service)(nil)

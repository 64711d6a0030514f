// Package main is the entry point for the session vault API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chatabubble/session-vault/internal/codec"
	"github.com/chatabubble/session-vault/internal/config"
	"github.com/chatabubble/session-vault/internal/events"
	"github.com/chatabubble/session-vault/internal/handler"
	"github.com/chatabubble/session-vault/internal/keystore"
	"github.com/chatabubble/session-vault/internal/llm"
	"github.com/chatabubble/session-vault/internal/manager"
	"github.com/chatabubble/session-vault/internal/middleware"
	"github.com/chatabubble/session-vault/internal/remote"
	"github.com/chatabubble/session-vault/internal/repository"
	"github.com/chatabubble/session-vault/internal/storage"
	"github.com/chatabubble/session-vault/pkg/logger"
	"github.com/chatabubble/session-vault/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting session vault")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "session-vault", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the local store
	kv, err := storage.NewSQLiteKV(cfg.DatabasePath, cfg.MaxItemSize)
	if err != nil {
		log.Error("failed to open local store", zap.Error(err))
		os.Exit(1)
	}
	defer kv.Close()
	chunked := storage.NewChunkedStore(kv, cfg.ChunkSize)

	// Key store and message codec
	keys := keystore.New(kv, log)
	cdc := codec.New(keys, log)

	// Session repository with the local retention policy
	repo := repository.New(chunked, cfg.ActiveSessionCap, log)

	// Lifecycle event publishing is optional; the vault runs without a broker.
	var publisher *events.Publisher
	if cfg.NATSEnabled {
		natsClient, err := events.Connect(ctx, events.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Warn("failed to connect to NATS, lifecycle events disabled", zap.Error(err))
		} else {
			defer natsClient.Close()
			publisher, err = events.NewPublisher(ctx, natsClient, log)
			if err != nil {
				log.Warn("failed to ensure event stream, lifecycle events disabled", zap.Error(err))
				publisher = nil
			}
		}
	}

	// Remote sync adapter
	syncer := remote.New(remote.Config{
		BaseURL:      cfg.RemoteURL,
		APIKey:       cfg.RemoteAPIKey,
		Timeout:      cfg.SyncTimeout,
		Reachability: remote.NewHTTPChecker(cfg.RemoteURL, cfg.ReachabilityTime),
	}, keys, cdc, log)

	// Session manager
	mgr := manager.New(repo, keys, cdc, syncer, publisher, manager.Config{
		Debounce:    cfg.SyncDebounce,
		MinInterval: cfg.SyncMinInterval,
	}, log)

	// Initialize LLM collaborator
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" && cfg.DefaultLLM == "anthropic" {
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client, chat features disabled", zap.Error(err))
		}
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create OpenAI client, chat features disabled", zap.Error(err))
		}
	}
	llmSvc := llm.NewService(llmClient, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(kv)
	sessionHandler := handler.NewSessionHandler(mgr, repo, log)
	chatHandler := handler.NewChatHandler(llmSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Sessions
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Put("/", sessionHandler.Update)
				r.Post("/end", sessionHandler.End)
				r.Get("/history", sessionHandler.History)
			})
		})

		// User data lifecycle
		r.Route("/users/me", func(r chi.Router) {
			r.Delete("/data", sessionHandler.Cleanup)
			r.Post("/key/rotate", sessionHandler.RotateKey)
		})

		// Language-model collaborator
		r.Route("/chat", func(r chi.Router) {
			r.Post("/reply", chatHandler.Reply)
			r.Post("/translate", chatHandler.Translate)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

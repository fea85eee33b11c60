// Study Buddy - learning flow server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/study-buddy/internal/agent"
	"github.com/ashureev/study-buddy/internal/api"
	"github.com/ashureev/study-buddy/internal/config"
	"github.com/ashureev/study-buddy/internal/flow"
	"github.com/ashureev/study-buddy/internal/health"
	"github.com/ashureev/study-buddy/internal/identity"
	"github.com/ashureev/study-buddy/internal/janitor"
	"github.com/ashureev/study-buddy/internal/live"
	"github.com/ashureev/study-buddy/internal/middleware"
	"github.com/ashureev/study-buddy/internal/store"
	"github.com/ashureev/study-buddy/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const backendWaitTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "kv_driver", cfg.KVDriver)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	kv, err := openKV(cfg, repo)
	if err != nil {
		slog.Error("Failed to initialize key/value store", "error", err)
		os.Exit(1)
	}
	if cfg.KVDriver != config.KVDriverSQLite {
		defer func() {
			if closeErr := kv.Close(); closeErr != nil {
				slog.Error("Failed to close key/value store", "error", closeErr)
			}
		}()
	}

	backend := agent.NewHTTPClient(agent.HTTPClientConfig{
		BaseURL:        cfg.BackendURL,
		RequestTimeout: cfg.BackendTimeout,
	}, logger)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), backendWaitTimeout)
	if err := backend.WaitForReady(waitCtx, 0); err != nil {
		// Pages still mount; backend calls fail inline until it comes up.
		slog.Warn("Agent backend not reachable yet", "url", cfg.BackendURL, "error", err)
	} else {
		slog.Info("Agent backend connected", "url", cfg.BackendURL)
	}
	waitCancel()

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	svc := agent.NewService(backend, conversationLogger, logger)
	defer svc.Close()

	// Initialize services.
	pages := live.NewManager()
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, kv, svc, logger)
	wsHandler := live.NewHandler(func(deviceID string) *flow.Env {
		return flow.NewEnv(kv, deviceID, svc, cfg.AutoTriggerDelay, logger)
	}, pages, limiter, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		apiHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint. Actions are limited per message inside the handler.
	wsHandler.Routes(r)

	// Serve embedded page shell (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout; page WebSockets are long-lived
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go limiter.Run(ctx)

	janitorDone := janitor.StartTTLWorker(ctx, repo, kv, cfg.DeviceTTL, janitor.DefaultInterval, pages.CloseDevice)

	healthDone := make(chan struct{})
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "addr", cfg.GRPCHealthAddr, "error", err)
			os.Exit(1)
		}
		hs := health.NewServer(repo, health.PingFunc(svc.Health), 0, logger)
		go func() {
			defer close(healthDone)
			slog.Info("gRPC health listening", "addr", cfg.GRPCHealthAddr)
			if err := hs.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	} else {
		close(healthDone)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-janitorDone
	<-healthDone

	slog.Info("Server stopped successfully")
}

func openKV(cfg *config.Config, repo *store.SQLiteStore) (store.KV, error) {
	switch cfg.KVDriver {
	case config.KVDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		return store.NewKV(store.KVTypeRedis, store.WithRedisClient(client), store.WithRedisTTL(cfg.Redis.TTL))
	case config.KVDriverMemory:
		return store.NewKV(store.KVTypeMemory)
	default:
		return store.NewKV(store.KVTypeSQLite, store.WithSQLite(repo))
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lumenchat/backend/go/internal/v1/config"
	"github.com/lumenchat/backend/go/internal/v1/dispatch"
	"github.com/lumenchat/backend/go/internal/v1/filter"
	"github.com/lumenchat/backend/go/internal/v1/health"
	"github.com/lumenchat/backend/go/internal/v1/logging"
	"github.com/lumenchat/backend/go/internal/v1/middleware"
	"github.com/lumenchat/backend/go/internal/v1/moderation"
	"github.com/lumenchat/backend/go/internal/v1/ratelimit"
	"github.com/lumenchat/backend/go/internal/v1/tracing"
	"github.com/lumenchat/backend/go/internal/v1/transport"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-relay", cfg.OtelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					slog.Error("Failed to shut down tracer provider", "error", err)
				}
			}()
		}
	}

	// --- Redis (Optional) ---
	// Backs the rate limiter store so limits survive restarts and are
	// shared across instances behind one load balancer.
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			slog.Error("Failed to connect to Redis, falling back to in-memory rate limiting", "error", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			slog.Info("✅ Redis connected", "addr", cfg.RedisAddr)
		}
		cancel()
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Core ---
	moderationSink := moderation.NewClient(cfg.ModerationWebhookURL)
	if moderationSink != nil {
		slog.Info("✅ Moderation webhook enabled")
	}

	dispatcher := dispatch.New(dispatch.Config{
		Filter:          filter.New(cfg.ContentFilterEnabled, cfg.ProfanityFilterStrict, cfg.MaxMessageLength),
		Moderation:      moderationSink,
		MaxChatDuration: cfg.MaxChatDuration,
	})

	runCtx, stopDispatcher := context.WithCancel(ctx)
	go dispatcher.Run(runCtx)

	hub := transport.NewHub(dispatcher, rateLimiter, cfg.AllowedOrigins)

	// --- Set up Server ---
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	router.Use(cors.New(corsConfig))
	router.Use(middleware.CorrelationID())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("chat-relay"))
	}
	router.Use(gin.Recovery())

	// Routing
	router.GET("/ws", hub.ServeWs)

	healthHandler := health.NewHandler(dispatcher, cfg, version)
	admin := router.Group("/", rateLimiter.AdminMiddleware())
	{
		admin.GET("/health", healthHandler.Health)
		admin.GET("/stats", healthHandler.Stats)
		admin.GET("/config", healthHandler.ClientConfig)
		admin.GET("/debug", healthHandler.Debug)
	}

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Start the server.
	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Chat relay starting", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting HTTP/WebSocket upgrades first, then drain the core.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	stopDispatcher()
	dispatcher.Shutdown(shutdownCtx)

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}

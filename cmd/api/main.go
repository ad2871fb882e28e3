package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/internal/account"
	"presence/internal/auth"
	"presence/internal/biometric"
	"presence/internal/cloudinary"
	"presence/internal/config"
	"presence/internal/faceclient"
	"presence/internal/handler"
	"presence/internal/httpmiddleware"
	"presence/internal/lock"
	"presence/internal/presence"
	"presence/internal/proximity"
	"presence/internal/queue"
	"presence/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb *store.Redis
	if cfg.LockBackend == "redis" || cfg.QueueBackend == "redis" {
		rdb, err = store.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.LockBackend == "redis" {
		locker = lock.NewRedis(rdb.Client, "presence:lock:", cfg.LockTTL, logger)
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(rdb.Client, cfg.QueueKey, logger)
	} else {
		q = queue.NewInMemory(256)
		go drainLocal(ctx, q, logger)
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	matcher, err := newMatcher(cfg, face)
	if err != nil {
		return err
	}
	bio := biometric.NewService(matcher, db, logger)
	if err := bio.Sync(ctx); err != nil {
		logger.Warn("initial matcher sync failed", "error", err)
	}

	engine := presence.NewEngine(db, bio, presence.Options{
		ActivityWindow: cfg.ActivityWindow,
		Proximity:      proximity.Validator{Required: cfg.ProximityRequired},
		Locker:         locker,
		Notifier:       presence.NewQueueNotifier(q, logger),
		Logger:         logger,
	})

	tokens := auth.NewTokens(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	accounts := account.NewService(db, db, tokens, cfg.AdminRegistrationKey, nil, logger)
	if cfg.AdminRegistrationKey == "" {
		logger.Warn("ADMIN_REGISTRATION_KEY not set; admin registration disabled")
	}

	health := map[string]handler.HealthCheck{"store": db.Healthy}
	if rdb != nil {
		health["redis"] = rdb.Healthy
	}
	if cfg.Detector == "faceservice" && !cfg.FaceSkip {
		health["face_service"] = func(ctx context.Context) bool { return face.Health(ctx) == nil }
	}

	deps := handler.Deps{
		Engine:    engine,
		Biometric: bio,
		Accounts:  accounts,
		Tokens:    tokens,
		Health:    health,
		Logger:    logger,
	}
	if cfg.CloudinaryConfigured() {
		deps.Archiver = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	} else {
		logger.Info("cloudinary not configured; enrollment photos are not archived")
	}

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, nil)
	go sweep(ctx, limiter)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(limiter.Middleware(nil))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.New(deps).Routes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.HTTPPort, "strategy", bio.Strategy(), "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}

func newMatcher(cfg config.App, face *faceclient.Client) (biometric.Matcher, error) {
	var detector biometric.Detector = biometric.WholeImage{}
	if cfg.Detector == "faceservice" {
		detector = face
	}
	switch cfg.MatcherStrategy {
	case config.StrategyClassifier:
		return biometric.NewClassifierMatcher(detector, cfg.CanonicalSize, cfg.ClassifierMaxDistance), nil
	case config.StrategyPixel:
		return biometric.NewPixelMatcher(detector, cfg.CanonicalSize, cfg.PixelMaxMSE), nil
	case config.StrategyEmbedding:
		var embedder biometric.Embedder = biometric.GridEmbedder{Cells: 8}
		if cfg.Detector == "faceservice" {
			embedder = face
		}
		return biometric.NewEmbeddingMatcher(detector, embedder, cfg.CanonicalSize, cfg.EmbeddingMinSimilarity), nil
	}
	return nil, fmt.Errorf("unknown matcher strategy %q", cfg.MatcherStrategy)
}

// drainLocal logs events when no worker process shares the queue.
func drainLocal(ctx context.Context, q queue.Queue, logger *slog.Logger) {
	msgs, err := q.Consume(ctx)
	if err != nil {
		logger.Error("local queue consume failed", "error", err)
		return
	}
	for msg := range msgs {
		logger.Debug("event", "type", msg.Type, "body", string(msg.Body))
	}
}

func sweep(ctx context.Context, limiter *httpmiddleware.TokenBucket) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			limiter.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

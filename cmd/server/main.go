package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "keyguard/backend/internal/auth/jwt"
	"keyguard/backend/internal/config"
	"keyguard/backend/internal/health"
	"keyguard/backend/internal/logger"
	"keyguard/backend/internal/monitoring"
	"keyguard/backend/internal/ratelimit"
	"keyguard/backend/internal/service"
	"keyguard/backend/internal/storage/hybrid"
	httptransport "keyguard/backend/internal/transport/http"
)

const version = "1.0.0"

// main 启动 API Key 鉴权服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting keyguard server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	metrics := monitoring.NewMetrics()

	// 初始化存储层
	backends, err := hybrid.Open(cfg, log, metrics.SetBreakerState)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Warn("failed to close storage backends", zap.Error(err))
		}
	}()

	opts := service.Options{
		DefaultTTL:   cfg.Cache.DefaultTTL,
		ExpiredTTL:   cfg.Cache.ExpiredTTL,
		CacheTimeout: cfg.Cache.Timeout,
		StoreTimeout: cfg.Database.QueryTimeout,
		DeepCheck:    cfg.Cache.DeepCheck,
	}
	validator := service.NewKeyValidator(backends.Store, backends.Cache, opts, metrics, log)
	apiKeyService := service.NewAPIKeyService(backends.Store, backends.Cache, opts, metrics, log)

	var limiter ratelimit.Limiter
	if backends.Counter != nil {
		window := ratelimit.NewWindowLimiter(backends.Counter)
		if backends.CounterBackend == "redis" {
			limiter = ratelimit.NewFallbackLimiter(window, ratelimit.NewLocalLimiter(), log)
		} else {
			limiter = window
		}
		log.Info("rate limiting enabled", zap.String("backend", backends.CounterBackend))
	} else {
		log.Warn("rate limiting disabled")
	}

	jwtManager := jwtpkg.NewManager(cfg.Admin.Secret, cfg.Admin.Issuer, cfg.Admin.TokenExpiry)

	// 健康检查与告警
	storePing := backends.Store.Health
	cachePing := backends.Cache.Ping
	probes := health.NewHealthChecker(storePing, cachePing, log)
	monitor := monitoring.NewHealthChecker(storePing, cachePing, log, version)

	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	if cfg.Monitor.AlertWebhookURL != "" {
		alertManager.AddReceiver(monitoring.NewWebhookAlertReceiver(cfg.Monitor.AlertWebhookURL, log))
	}
	alertManager.AddRule(monitoring.HighMemoryUsageRule(cfg.Monitor.MemoryThresholdMB))
	alertManager.AddRule(monitoring.StoreUnavailableRule(storePing))
	alertManager.AddRule(monitoring.CacheUnavailableRule(cachePing))
	if backends.Breaker != nil {
		alertManager.AddRule(monitoring.BreakerOpenRule(backends.BreakerOpen))
	}

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Validator:     validator,
		APIKeyService: apiKeyService,
		JWTManager:    jwtManager,
		RateLimiter:   limiter,
		Metrics:       metrics,
		Health:        probes,
		Monitor:       monitor,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	// 缓存预热 goroutine
	if cfg.Cache.WarmOnStart {
		group.Go(func() error {
			n, err := apiKeyService.WarmCache(groupCtx, cfg.Cache.WarmWorkers)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("cache warm-up incomplete", zap.Int("warmed", n), zap.Error(err))
			}
			return nil
		})
	}

	// 监控服务 goroutine
	group.Go(func() error {
		log.Info("starting periodic health check", zap.Duration("interval", cfg.Monitor.HealthInterval))
		monitor.StartPeriodicHealthCheck(groupCtx, cfg.Monitor.HealthInterval, metrics)
		return nil
	})

	group.Go(func() error {
		log.Info("starting alert monitoring", zap.Duration("interval", cfg.Monitor.AlertInterval))
		alertManager.StartMonitoring(groupCtx, cfg.Monitor.AlertInterval)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

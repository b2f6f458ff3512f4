package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"keyguard/backend/internal/config"
	"keyguard/backend/internal/logger"
	"keyguard/backend/internal/monitoring"
	"keyguard/backend/internal/service"
	"keyguard/backend/internal/storage/hybrid"
)

// env 单次命令执行所需的依赖
type env struct {
	cfg       *config.Config
	service   *service.APIKeyService
	validator *service.KeyValidator
	log       *zap.Logger
	close     func()
}

// openEnv 加载配置并连接存储，测试中可替换
var openEnv = func() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.NewCLI(verbose)
	metrics := monitoring.NewMetrics()

	backends, err := hybrid.Open(cfg, log, metrics.SetBreakerState)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	opts := service.Options{
		DefaultTTL:   cfg.Cache.DefaultTTL,
		ExpiredTTL:   cfg.Cache.ExpiredTTL,
		CacheTimeout: cfg.Cache.Timeout,
		StoreTimeout: cfg.Database.QueryTimeout,
		DeepCheck:    cfg.Cache.DeepCheck,
	}

	return &env{
		cfg:       cfg,
		service:   service.NewAPIKeyService(backends.Store, backends.Cache, opts, metrics, log),
		validator: service.NewKeyValidator(backends.Store, backends.Cache, opts, metrics, log),
		log:       log,
		close: func() {
			if err := backends.Close(); err != nil {
				log.Warn("failed to close storage", zap.Error(err))
			}
			_ = log.Sync()
		},
	}, nil
}

// printJSON 以缩进 JSON 输出
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}


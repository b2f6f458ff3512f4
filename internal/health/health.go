package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可探测连接状态的依赖
type Pinger func(ctx context.Context) error

// HealthChecker 存活与就绪探针
//
// 存活只看进程本身；就绪要求持久化存储可用。缓存不参与就绪判断，缓存故障时鉴权会回退到存储。
type HealthChecker struct {
	health  healthcheck.Handler
	store   Pinger
	cache   Pinger
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthChecker 创建健康检查器，cache 可为 nil
func NewHealthChecker(store, cache Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:  healthcheck.NewHandler(),
		store:   store,
		cache:   cache,
		timeout: 2 * time.Second,
		logger:  logger,
	}

	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))

	hc.health.AddReadinessCheck("store", healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()
		return hc.store(ctx)
	}, hc.timeout))
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活探针
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行一次依赖检查
func (hc *HealthChecker) CheckHealth(ctx context.Context) map[string]string {
	results := make(map[string]string)

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	if err := hc.store(ctx); err != nil {
		hc.logger.Warn("store health check failed", zap.Error(err))
		results["store"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["store"] = "OK"
	}

	if hc.cache == nil {
		results["cache"] = "NOT_AVAILABLE"
	} else if err := hc.cache(ctx); err != nil {
		hc.logger.Warn("cache health check failed", zap.Error(err))
		results["cache"] = fmt.Sprintf("ERROR: %v", err)
	} else {
		results["cache"] = "OK"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

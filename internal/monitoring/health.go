package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// HealthStatus 健康状态
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck 健康检查
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthReport 健康报告
type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	Checks    []HealthCheck `json:"checks"`
	Version   string        `json:"version"`
}

// Pinger 可探测连接状态的依赖
type Pinger func(ctx context.Context) error

// HealthChecker 健康检查器
//
// 存储不可用时整体不健康；缓存不可用只算降级，鉴权仍可回退到存储。
type HealthChecker struct {
	store     Pinger
	cache     Pinger
	logger    *zap.Logger
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewHealthChecker 创建健康检查器，cache 可为 nil
func NewHealthChecker(store, cache Pinger, logger *zap.Logger, version string) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		store:     store,
		cache:     cache,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
		timeout:   2 * time.Second,
	}
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Timestamp: time.Now(),
		Uptime:    time.Since(hc.startTime),
		Version:   hc.version,
		Checks:    make([]HealthCheck, 0, 4),
	}

	checks := []func(context.Context) HealthCheck{
		hc.checkStore,
		hc.checkCache,
		hc.checkMemory,
		hc.checkSystem,
	}

	overallStatus := HealthStatusHealthy
	for _, check := range checks {
		healthCheck := check(ctx)
		report.Checks = append(report.Checks, healthCheck)

		// 确定整体状态
		switch healthCheck.Status {
		case HealthStatusUnhealthy:
			overallStatus = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overallStatus != HealthStatusUnhealthy {
				overallStatus = HealthStatusDegraded
			}
		}
	}

	report.Status = overallStatus
	return report
}

// checkStore 检查持久化存储
func (hc *HealthChecker) checkStore(ctx context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "store", LastChecked: start}

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	if err := hc.store(ctx); err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = fmt.Sprintf("Store unavailable: %v", err)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = "Store connection is healthy"
	}

	check.Duration = time.Since(start)
	return check
}

// checkCache 检查快速缓存
func (hc *HealthChecker) checkCache(ctx context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "cache", LastChecked: start}

	if hc.cache == nil {
		check.Status = HealthStatusDegraded
		check.Message = "Cache not configured"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	if err := hc.cache(ctx); err != nil {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("Cache unavailable, falling back to store: %v", err)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = "Cache connection is healthy"
	}

	check.Duration = time.Since(start)
	return check
}

// checkMemory 检查内存使用
func (hc *HealthChecker) checkMemory(context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "memory", LastChecked: start}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryUsageMB := float64(m.Alloc) / 1024 / 1024
	memoryLimitMB := 1024.0 // 1GB 限制

	if memoryUsageMB > memoryLimitMB {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("High memory usage: %.2f MB", memoryUsageMB)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("Memory usage: %.2f MB", memoryUsageMB)
	}

	check.Duration = time.Since(start)
	return check
}

// checkSystem 检查 Goroutine 数量
func (hc *HealthChecker) checkSystem(context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{Name: "system", LastChecked: start}

	numGoroutines := runtime.NumGoroutine()
	if numGoroutines > 10000 {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("High goroutine count: %d", numGoroutines)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("Goroutines: %d", numGoroutines)
	}

	check.Duration = time.Since(start)
	return check
}

// GetUptime 获取系统运行时间
func (hc *HealthChecker) GetUptime() time.Duration {
	return time.Since(hc.startTime)
}

// StartPeriodicHealthCheck 启动定期健康检查，同时刷新系统指标
func (hc *HealthChecker) StartPeriodicHealthCheck(ctx context.Context, interval time.Duration, metrics *Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := hc.CheckHealth(ctx)

			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			metrics.UpdateMemoryUsage(m.Alloc)
			metrics.UpdateSystemUptime(report.Uptime)

			switch report.Status {
			case HealthStatusUnhealthy:
				hc.logger.Error("System health check failed",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			case HealthStatusDegraded:
				hc.logger.Warn("System health check degraded",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			default:
				hc.logger.Debug("System health check passed",
					zap.Duration("uptime", report.Uptime),
				)
			}
		}
	}
}

package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 每个实例使用独立的注册表，所有 Record 方法对 nil 接收者安全。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 鉴权指标
	AuthDecisionsTotal *prometheus.CounterVec
	CacheLookupsTotal  *prometheus.CounterVec
	CacheRepairsTotal  *prometheus.CounterVec
	LazyExpirations    prometheus.Counter

	// 存储指标
	StoreErrorsTotal *prometheus.CounterVec
	StoreDuration    *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec

	// 生命周期指标
	KeysIssued  prometheus.Counter
	KeysRevoked prometheus.Counter
	KeysWarmed  prometheus.Counter

	// 系统指标
	SystemUptime prometheus.Gauge
	MemoryUsage  prometheus.Gauge

	// 错误指标
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
	RateLimitErrors prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		// 鉴权指标
		AuthDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyguard_auth_decisions_total",
				Help: "API key authorization decisions by result and reason",
			},
			[]string{"result", "reason"},
		),

		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyguard_cache_lookups_total",
				Help: "Fast cache lookups by outcome (hit, miss, corrupt, error)",
			},
			[]string{"outcome"},
		),

		CacheRepairsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyguard_cache_repairs_total",
				Help: "Cache entries rewritten or removed by the validator",
			},
			[]string{"action"},
		),

		LazyExpirations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "keyguard_lazy_expirations_total",
				Help: "Keys transitioned to expired on read",
			},
		),

		// 存储指标
		StoreErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyguard_store_errors_total",
				Help: "Durable store failures by operation",
			},
			[]string{"operation"},
		),

		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyguard_store_duration_seconds",
				Help:    "Durable store call latency in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyguard_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),

		// 生命周期指标
		KeysIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "keyguard_keys_issued_total",
				Help: "Total number of API keys issued",
			},
		),

		KeysRevoked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "keyguard_keys_revoked_total",
				Help: "Total number of API keys revoked",
			},
		),

		KeysWarmed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "keyguard_keys_warmed_total",
				Help: "Cache entries populated by warm-up",
			},
		),

		// 系统指标
		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "keyguard_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "keyguard_memory_usage_bytes",
				Help: "Memory usage in bytes",
			},
		),

		// 错误指标
		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "keyguard_panics_total",
				Help: "Total number of panics",
			},
		),

		// 限流指标
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyguard_rate_limit_blocks_total",
				Help: "Total number of requests rejected by per-key rate limits",
			},
			[]string{"backend"},
		),

		RateLimitErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "keyguard_rate_limit_errors_total",
				Help: "Rate limiter failures (requests allowed through)",
			},
		),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAuthDecision 记录鉴权结果，reason 为空表示放行
func (m *Metrics) RecordAuthDecision(reason string) {
	if m == nil {
		return
	}
	result := "deny"
	if reason == "" {
		result = "allow"
		reason = "none"
	}
	m.AuthDecisionsTotal.WithLabelValues(result, reason).Inc()
}

// RecordCacheLookup 记录缓存查询结果
func (m *Metrics) RecordCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheRepair 记录缓存修复动作
func (m *Metrics) RecordCacheRepair(action string) {
	if m == nil {
		return
	}
	m.CacheRepairsTotal.WithLabelValues(action).Inc()
}

// RecordLazyExpiration 记录惰性过期
func (m *Metrics) RecordLazyExpiration() {
	if m == nil {
		return
	}
	m.LazyExpirations.Inc()
}

// RecordStoreCall 记录存储调用耗时和失败
func (m *Metrics) RecordStoreCall(operation string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if failed {
		m.StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// SetBreakerState 更新熔断器状态
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordKeyIssued 记录签发
func (m *Metrics) RecordKeyIssued() {
	if m == nil {
		return
	}
	m.KeysIssued.Inc()
}

// RecordKeyRevoked 记录吊销
func (m *Metrics) RecordKeyRevoked() {
	if m == nil {
		return
	}
	m.KeysRevoked.Inc()
}

// RecordKeysWarmed 记录预热条目数
func (m *Metrics) RecordKeysWarmed(n int) {
	if m == nil {
		return
	}
	m.KeysWarmed.Add(float64(n))
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(backend string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(backend).Inc()
}

// RecordRateLimitError 记录限流器故障
func (m *Metrics) RecordRateLimitError() {
	if m == nil {
		return
	}
	m.RateLimitErrors.Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	if m == nil {
		return
	}
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateMemoryUsage 更新内存使用量
func (m *Metrics) UpdateMemoryUsage(bytes uint64) {
	if m == nil {
		return
	}
	m.MemoryUsage.Set(float64(bytes))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// API 指标
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Token 用量指标
	tokensUsed *prometheus.CounterVec

	// 异步任务指标
	taskPollsTotal *prometheus.CounterVec
	taskWaitTime   *prometheus.HistogramVec

	// WebSocket 协议事件指标
	wsEventsTotal *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 向量存储指标
	vectorStoreOpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。
// reg 为 nil 时注册到 prometheus.DefaultRegisterer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// API 指标
	c.requestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of DashScope API requests",
		},
		[]string{"api", "status"},
	)

	c.requestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "DashScope API request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"api"},
	)

	// Token 用量指标
	c.tokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"model", "type"}, // type: prompt, completion
	)

	// 异步任务指标
	c.taskPollsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_polls_total",
			Help:      "Total number of async task status polls",
		},
		[]string{"kind", "status"},
	)

	c.taskWaitTime = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_wait_seconds",
			Help:      "Time spent waiting for async task completion",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	// WebSocket 协议事件指标
	c.wsEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_events_total",
			Help:      "Total number of WebSocket protocol events",
		},
		[]string{"event"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 向量存储指标
	c.vectorStoreOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vector_store_op_duration_seconds",
			Help:      "Vector store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"store", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Nop 返回注册到独立 Registry 的收集器，用于默认值与测试。
func Nop() *Collector {
	return NewCollector("dashscope", prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🎯 指标记录
// =============================================================================

// RecordRequest 记录一次 API 请求
func (c *Collector) RecordRequest(api, status string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(api, status).Inc()
	c.requestDuration.WithLabelValues(api).Observe(duration.Seconds())
}

// RecordTokens 记录 Token 用量
func (c *Collector) RecordTokens(model, kind string, n int) {
	if n <= 0 {
		return
	}
	c.tokensUsed.WithLabelValues(model, kind).Add(float64(n))
}

// RecordTaskPoll 记录一次异步任务状态轮询
func (c *Collector) RecordTaskPoll(kind, status string) {
	c.taskPollsTotal.WithLabelValues(kind, status).Inc()
}

// RecordTaskWait 记录异步任务总等待时长
func (c *Collector) RecordTaskWait(kind string, waited time.Duration) {
	c.taskWaitTime.WithLabelValues(kind).Observe(waited.Seconds())
}

// RecordWSEvent 记录 WebSocket 协议事件
func (c *Collector) RecordWSEvent(event string) {
	c.wsEventsTotal.WithLabelValues(event).Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordVectorStoreOp 记录向量存储操作
func (c *Collector) RecordVectorStoreOp(store, operation string, duration time.Duration) {
	c.vectorStoreOpDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
}

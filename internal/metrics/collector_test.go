package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestCollector() *Collector {
	return NewCollector("test", prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := newTestCollector()

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.requestsTotal)
	assert.NotNil(t, collector.requestDuration)
	assert.NotNil(t, collector.tokensUsed)
	assert.NotNil(t, collector.taskPollsTotal)
	assert.NotNil(t, collector.wsEventsTotal)
}

func TestCollector_RecordRequest(t *testing.T) {
	collector := newTestCollector()

	// 记录请求
	collector.RecordRequest("chat_completion", "200", 100*time.Millisecond)

	count := testutil.CollectAndCount(collector.requestsTotal)
	assert.Greater(t, count, 0)

	// 再记录一次相同的请求
	collector.RecordRequest("chat_completion", "200", 50*time.Millisecond)

	newCount := testutil.CollectAndCount(collector.requestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordTokens(t *testing.T) {
	collector := newTestCollector()

	collector.RecordTokens("qwen-plus", "prompt", 120)
	collector.RecordTokens("qwen-plus", "completion", 48)

	got := testutil.ToFloat64(collector.tokensUsed.WithLabelValues("qwen-plus", "prompt"))
	assert.Equal(t, float64(120), got)

	// 零值与负值不记录
	collector.RecordTokens("qwen-plus", "prompt", 0)
	collector.RecordTokens("qwen-plus", "prompt", -5)
	got = testutil.ToFloat64(collector.tokensUsed.WithLabelValues("qwen-plus", "prompt"))
	assert.Equal(t, float64(120), got)
}

func TestCollector_RecordTaskPoll(t *testing.T) {
	collector := newTestCollector()

	collector.RecordTaskPoll("image", "PENDING")
	collector.RecordTaskPoll("image", "RUNNING")
	collector.RecordTaskPoll("image", "SUCCEEDED")
	collector.RecordTaskWait("image", 42*time.Second)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.taskPollsTotal.WithLabelValues("image", "SUCCEEDED")))
}

func TestCollector_RecordWSEvent(t *testing.T) {
	collector := newTestCollector()

	collector.RecordWSEvent("task-started")
	collector.RecordWSEvent("result-generated")
	collector.RecordWSEvent("result-generated")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(collector.wsEventsTotal.WithLabelValues("result-generated")))
}

func TestCollector_RecordCache(t *testing.T) {
	collector := newTestCollector()

	collector.RecordCacheHit("chat")
	collector.RecordCacheMiss("chat")
	collector.RecordCacheMiss("chat")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.cacheHits.WithLabelValues("chat")))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.cacheMisses.WithLabelValues("chat")))
}

func TestNop(t *testing.T) {
	collector := Nop()
	assert.NotNil(t, collector)

	// Nop 收集器可安全记录，不影响全局 Registry
	collector.RecordRequest("embeddings", "200", time.Millisecond)
	collector.RecordVectorStoreOp("tair", "search", time.Millisecond)
}

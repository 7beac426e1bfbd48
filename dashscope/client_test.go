package dashscope

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:      "sk-test",
		BaseURL:     baseURL,
		WorkspaceID: "ws-demo",
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "")

	_, err := NewClient(Config{})
	require.Error(t, err)

	var dsErr *Error
	require.ErrorAs(t, err, &dsErr)
	assert.Equal(t, ErrUnauthorized, dsErr.Code)
}

func TestNewClient_EnvFallback(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "sk-from-env")

	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", c.APIKey())
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
}

func TestClient_AppliesHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.ChatCompletion(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "ws-demo", got.Get("X-DashScope-WorkSpace"))
}

func TestClient_RateLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{
		APIKey:    "sk-test",
		BaseURL:   server.URL,
		RateLimit: 100,
		RateBurst: 1,
	})
	require.NoError(t, err)

	// burst 用尽后第二个请求需等待限流器放行
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.ChatCompletion(context.Background(), &ChatRequest{
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestClient_RateLimiter_ContextCanceled(t *testing.T) {
	c, err := NewClient(Config{
		APIKey:    "sk-test",
		BaseURL:   "http://127.0.0.1:0",
		RateLimit: 0.001, // 远超测试时长的等待
		RateBurst: 1,
	})
	require.NoError(t, err)

	ctx := context.Background()
	// 耗尽 burst
	c.limiter.Allow()

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err = c.ChatCompletion(ctx, &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var dsErr *Error
	require.ErrorAs(t, err, &dsErr)
	assert.Equal(t, ErrRateLimited, dsErr.Code)
}

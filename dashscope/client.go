package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tongyi-community/dashscope-go/internal/metrics"
	"github.com/tongyi-community/dashscope-go/internal/tlsutil"
)

const (
	// DefaultBaseURL 是 DashScope 公有云 HTTP API 地址。
	DefaultBaseURL = "https://dashscope.aliyuncs.com"

	// DefaultWebSocketURL 是实时音频推理的 WebSocket 地址。
	DefaultWebSocketURL = "wss://dashscope.aliyuncs.com/api-ws/v1/inference"

	compatiblePath = "/compatible-mode/v1"
	apiV1Path      = "/api/v1"

	headerWorkspace = "X-DashScope-WorkSpace"
	headerAsync     = "X-DashScope-Async"
	headerSSE       = "X-DashScope-SSE"
	headerRequestID = "X-Request-Id"
)

// Config 配置 DashScope 客户端。
type Config struct {
	// API Key，为空时回退到 DASHSCOPE_API_KEY 环境变量。
	APIKey string `yaml:"api_key" json:"api_key"`

	// BaseURL 覆盖默认的 HTTP API 地址（私有化部署/代理场景）。
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`

	// WorkspaceID 业务空间，透传 X-DashScope-WorkSpace 头。
	WorkspaceID string `yaml:"workspace_id" json:"workspace_id,omitempty"`

	// Timeout 单次 HTTP 请求超时。流式请求不受此限制。
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// RateLimit 客户端限流（请求/秒），0 表示不限流。
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit,omitempty"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst,omitempty"`

	// UserAgent 附加到每个请求。
	UserAgent string `yaml:"user_agent" json:"user_agent,omitempty"`
}

// Client 是所有 DashScope HTTP API 的入口。
// 并发安全，应当在进程内复用单个实例。
type Client struct {
	cfg Config

	httpClient *http.Client
	// streamClient 没有整体超时，用于 SSE 流式请求。
	streamClient *http.Client

	baseURL string
	logger  *zap.Logger
	limiter *rate.Limiter
	metrics *metrics.Collector
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the zap logger (default zap.NewNop).
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests, custom proxies).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
			c.streamClient = hc
		}
	}
}

// WithMetrics sets the metrics collector (default: no-op collector).
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewClient 创建 DashScope 客户端。
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("DASHSCOPE_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, &Error{Code: ErrUnauthorized, Message: "dashscope: api key is required (set Config.APIKey or DASHSCOPE_API_KEY)"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	c := &Client{
		cfg:          cfg,
		httpClient:   tlsutil.SecureHTTPClient(cfg.Timeout),
		streamClient: tlsutil.SecureHTTPClient(0),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		logger:       zap.NewNop(),
		metrics:      metrics.Nop(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "dashscope_client"))

	return c, nil
}

// BaseURL returns the resolved HTTP API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// APIKey 返回解析后的鉴权密钥（含环境变量回退），供构造 audio/files 子包配置时复用。
func (c *Client) APIKey() string { return c.cfg.APIKey }

// WorkspaceID returns the configured workspace, possibly empty.
func (c *Client) WorkspaceID() string { return c.cfg.WorkspaceID }

func (c *Client) compatibleURL(path string) string {
	return c.baseURL + compatiblePath + path
}

func (c *Client) apiURL(path string) string {
	return c.baseURL + apiV1Path + path
}

// applyHeaders 设置鉴权与公共头。
func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.WorkspaceID != "" {
		req.Header.Set(headerWorkspace, c.cfg.WorkspaceID)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

// newJSONRequest 构建 JSON POST/GET 请求。
func (c *Client) newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	return req, nil
}

// doJSON 执行请求，错误状态映射为 *Error，成功时解码 JSON 到 out。
func (c *Client) doJSON(api string, req *http.Request, out any) error {
	resp, err := c.send(api, req, c.httpClient)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Code: ErrUpstreamError, Message: fmt.Sprintf("decode response: %v", err), HTTPStatus: http.StatusBadGateway, Retryable: true}
	}
	return nil
}

// doStream 执行流式请求，调用方负责关闭 resp.Body。
func (c *Client) doStream(api string, req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(headerSSE, "enable")
	return c.send(api, req, c.streamClient)
}

func (c *Client) send(api string, req *http.Request, hc *http.Client) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, &Error{Code: ErrRateLimited, Message: fmt.Sprintf("client rate limit: %v", err)}
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)
	latency := time.Since(start)

	if err != nil {
		c.metrics.RecordRequest(api, "network_error", latency)
		c.logger.Warn("request failed",
			zap.String("api", api),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, &Error{Code: ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true}
	}

	c.metrics.RecordRequest(api, fmt.Sprintf("%d", resp.StatusCode), latency)

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := readAPIError(resp.StatusCode, resp.Body)
		if apiErr.RequestID == "" {
			apiErr.RequestID = resp.Header.Get(headerRequestID)
		}
		c.logger.Warn("api error",
			zap.String("api", api),
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", apiErr.RequestID),
			zap.String("code", string(apiErr.Code)),
		)
		return nil, apiErr
	}

	c.logger.Debug("request ok",
		zap.String("api", api),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", latency),
	)
	return resp, nil
}

package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/tongyi-community/dashscope-go/dashscope"
	"github.com/tongyi-community/dashscope-go/internal/metrics"
	"github.com/tongyi-community/dashscope-go/internal/tlsutil"
)

// 客户端动作。
const (
	ActionRunTask      = "run-task"
	ActionContinueTask = "continue-task"
	ActionFinishTask   = "finish-task"
)

// 服务端事件。
const (
	EventTaskStarted     = "task-started"
	EventResultGenerated = "result-generated"
	EventTaskFinished    = "task-finished"
	EventTaskFailed      = "task-failed"
)

// frameHeader 协议帧头。客户端帧携带 Action，服务端帧携带 Event。
type frameHeader struct {
	Action       string `json:"action,omitempty"`
	Event        string `json:"event,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	Streaming    string `json:"streaming,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// framePayload 协议帧负载。
type framePayload struct {
	TaskGroup  string          `json:"task_group,omitempty"`
	Task       string          `json:"task,omitempty"`
	Function   string          `json:"function,omitempty"`
	Model      string          `json:"model,omitempty"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Input      map[string]any  `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Usage      json.RawMessage `json:"usage,omitempty"`
}

type frame struct {
	Header  frameHeader  `json:"header"`
	Payload framePayload `json:"payload"`
}

// ServerMessage 是从连接读到的一条消息：JSON 事件帧或二进制音频帧，
// 二者有且只有一个非空。
type ServerMessage struct {
	Binary []byte
	Event  *frame
}

// Config 配置 WebSocket 连接。
type Config struct {
	// URL 为空时使用 dashscope.DefaultWebSocketURL。
	URL    string `yaml:"url" json:"url,omitempty"`
	APIKey string `yaml:"api_key" json:"api_key"`
	// WorkspaceID 业务空间。
	WorkspaceID string `yaml:"workspace_id" json:"workspace_id,omitempty"`
	// HandshakeTimeout 握手超时，默认 10s。
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout,omitempty"`
	// ReadTimeout 单个事件的读取超时，默认 60s。
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout,omitempty"`
}

// Conn 封装一条 DashScope 推理 WebSocket 连接。
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type Conn struct {
	ws          *websocket.Conn
	readTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Collector

	mu     sync.Mutex // 保护写操作
	closed bool
}

// Dial 建立到 DashScope 实时推理服务的 WebSocket 连接。
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Conn, error) {
	if cfg.APIKey == "" {
		return nil, &dashscope.Error{Code: dashscope.ErrUnauthorized, Message: "audio: api key is required"}
	}
	if cfg.URL == "" {
		cfg.URL = dashscope.DefaultWebSocketURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}

	c := &Conn{
		readTimeout: cfg.ReadTimeout,
		logger:      zap.NewNop(),
		metrics:     metrics.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "audio_conn"))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	if cfg.WorkspaceID != "" {
		header.Set("X-DashScope-WorkSpace", cfg.WorkspaceID)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, cfg.URL, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: &http.Client{Transport: tlsutil.SecureTransport()},
	})
	if err != nil {
		return nil, &dashscope.Error{
			Code:      dashscope.ErrUpstreamError,
			Message:   fmt.Sprintf("websocket dial: %v", err),
			Retryable: true,
		}
	}
	// 音频帧可能很大，放开默认 32KB 读取上限。
	ws.SetReadLimit(16 << 20)

	c.ws = ws
	c.logger.Debug("websocket connected", zap.String("url", cfg.URL))
	return c, nil
}

// Option customizes a Conn.
type Option func(*Conn)

// WithLogger sets the zap logger (default zap.NewNop).
func WithLogger(logger *zap.Logger) Option {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Conn) {
		if m != nil {
			c.metrics = m
		}
	}
}

// writeFrame 序列化并发送一个 JSON 协议帧。
func (c *Conn) writeFrame(ctx context.Context, f *frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("audio: connection closed")
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}

	c.logger.Debug("frame sent",
		zap.String("action", f.Header.Action),
		zap.String("task_id", f.Header.TaskID),
	)
	return nil
}

// writeBinary 发送一帧二进制音频数据。
func (c *Conn) writeBinary(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("audio: connection closed")
	}
	if err := c.ws.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// readMessage 读取下一条服务端消息（事件帧或音频帧）。
// 单次读取受 ReadTimeout 约束。
func (c *Conn) readMessage(ctx context.Context) (*ServerMessage, error) {
	readCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	typ, data, err := c.ws.Read(readCtx)
	if err != nil {
		return nil, fmt.Errorf("websocket read: %w", err)
	}

	if typ == websocket.MessageBinary {
		return &ServerMessage{Binary: data}, nil
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal event frame: %w", err)
	}
	c.metrics.RecordWSEvent(f.Header.Event)
	c.logger.Debug("event received",
		zap.String("event", f.Header.Event),
		zap.String("task_id", f.Header.TaskID),
	)
	return &ServerMessage{Event: &f}, nil
}

// Close 关闭 WebSocket 连接。
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.ws.Close(websocket.StatusNormalClosure, "closing")
}

// IsAlive 检查连接是否存活。
func (c *Conn) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// taskError 将 task-failed 事件映射为统一错误类型。
func taskError(f *frame) *dashscope.Error {
	return &dashscope.Error{
		Code:    dashscope.ErrTaskFailed,
		Message: fmt.Sprintf("audio task failed: %s %s", f.Header.ErrorCode, f.Header.ErrorMessage),
	}
}

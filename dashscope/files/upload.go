package files

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tongyi-community/dashscope-go/dashscope"
	"github.com/tongyi-community/dashscope-go/internal/tlsutil"
)

// DefaultCategory 是文档中心的默认类目。
const DefaultCategory = "default"

// DefaultMaxFileSize 单文件大小上限（100MB），超出直接拒绝。
const DefaultMaxFileSize = 100 << 20

// extensionLimits 文档中心可解析的文件类型及各自的大小上限。
// 未列出的扩展名不受支持。
var extensionLimits = map[string]int64{
	".txt": 10 << 20, ".md": 10 << 20, ".html": 10 << 20,
	".pdf":  100 << 20,
	".doc":  50 << 20,
	".docx": 50 << 20,
	".ppt":  50 << 20,
	".pptx": 50 << 20,
	".xls":  50 << 20,
	".xlsx": 50 << 20,
	".epub": 50 << 20,
}

// Config 配置文档中心客户端。
type Config struct {
	// APIKey 为空时回退到 DASHSCOPE_API_KEY 环境变量。
	APIKey string `yaml:"api_key" json:"api_key"`
	// BaseURL 覆盖默认 API 地址。
	BaseURL     string `yaml:"base_url" json:"base_url,omitempty"`
	WorkspaceID string `yaml:"workspace_id" json:"workspace_id,omitempty"`
	// MaxFileSize 全局单文件大小上限，默认 DefaultMaxFileSize。
	// 各文件类型另有自身上限，实际以较小者为准。
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size,omitempty"`
	// Timeout 控制面请求超时（租约/登记/查询），默认 30s。
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	// UploadTimeout 数据面 PUT 上传超时，默认 10 分钟。
	UploadTimeout time.Duration `yaml:"upload_timeout" json:"upload_timeout,omitempty"`
}

// Client 文档中心客户端。并发安全。
type Client struct {
	cfg Config

	apiClient    *http.Client
	uploadClient *http.Client
	baseURL      string
	logger       *zap.Logger
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

// WithHTTPClient replaces both control and data plane HTTP clients (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.apiClient = hc
			c.uploadClient = hc
		}
	}
}

// NewClient 创建文档中心客户端。
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("DASHSCOPE_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, &dashscope.Error{Code: dashscope.ErrUnauthorized, Message: "files: api key is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = dashscope.DefaultBaseURL
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 10 * time.Minute
	}

	c := &Client{
		cfg:          cfg,
		apiClient:    tlsutil.SecureHTTPClient(cfg.Timeout),
		uploadClient: tlsutil.SecureHTTPClient(cfg.UploadTimeout),
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "files_client"))
	return c, nil
}

// UploadLease 上传租约：数据面直传地址与必须携带的请求头。
type UploadLease struct {
	LeaseID string            `json:"lease_id"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

type leaseResponse struct {
	RequestID string `json:"request_id"`
	Data      struct {
		LeaseID string `json:"lease_id"`
		Param   struct {
			URL     string            `json:"url"`
			Method  string            `json:"method"`
			Headers map[string]string `json:"headers"`
		} `json:"param"`
	} `json:"data"`
}

func (c *Client) categoryURL(categoryID, suffix string) string {
	return fmt.Sprintf("%s/api/v1/datacenter/category/%s%s", c.baseURL, url.PathEscape(categoryID), suffix)
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.WorkspaceID != "" {
		req.Header.Set("X-DashScope-WorkSpace", c.cfg.WorkspaceID)
	}
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return &dashscope.Error{Code: dashscope.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return dashscope.MapHTTPError(resp.StatusCode, resp.Body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &dashscope.Error{Code: dashscope.ErrUpstreamError, Message: fmt.Sprintf("decode response: %v", err), Retryable: true}
	}
	return nil
}

// ValidateFile 校验文件类型与大小，返回文件大小。
// 大小上限取类型上限与 MaxFileSize 中较小者。
func (c *Client) ValidateFile(path string) (int64, error) {
	ext := strings.ToLower(filepath.Ext(path))
	limit, ok := extensionLimits[ext]
	if !ok {
		return 0, &dashscope.Error{
			Code:    dashscope.ErrInvalidRequest,
			Message: fmt.Sprintf("files: unsupported file type %q", ext),
		}
	}
	if c.cfg.MaxFileSize < limit {
		limit = c.cfg.MaxFileSize
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, &dashscope.Error{Code: dashscope.ErrInvalidRequest, Message: fmt.Sprintf("files: %s is a directory", path)}
	}
	if info.Size() == 0 {
		return 0, &dashscope.Error{Code: dashscope.ErrInvalidRequest, Message: fmt.Sprintf("files: %s is empty", path)}
	}
	if info.Size() > limit {
		return 0, &dashscope.Error{
			Code:    dashscope.ErrInvalidRequest,
			Message: fmt.Sprintf("files: %s exceeds %s size limit (%d > %d bytes)", path, ext, info.Size(), limit),
		}
	}
	return info.Size(), nil
}

// RequestLease 申请上传租约。
func (c *Client) RequestLease(ctx context.Context, categoryID, fileName string, sizeBytes int64, contentMD5 string) (*UploadLease, error) {
	body := map[string]any{
		"file_name":   fileName,
		"size_bytes":  sizeBytes,
		"content_md5": contentMD5,
	}

	var resp leaseResponse
	if err := c.postJSON(ctx, c.categoryURL(categoryID, "/upload_lease"), body, &resp); err != nil {
		return nil, fmt.Errorf("request upload lease: %w", err)
	}
	if resp.Data.LeaseID == "" || resp.Data.Param.URL == "" {
		return nil, &dashscope.Error{Code: dashscope.ErrUpstreamError, Message: "files: invalid lease response", RequestID: resp.RequestID}
	}

	return &UploadLease{
		LeaseID: resp.Data.LeaseID,
		URL:     resp.Data.Param.URL,
		Method:  resp.Data.Param.Method,
		Headers: resp.Data.Param.Headers,
	}, nil
}

// uploadToLease 按租约将字节直传到对象存储。
func (c *Client) uploadToLease(ctx context.Context, lease *UploadLease, r io.Reader, size int64) error {
	method := lease.Method
	if method == "" {
		method = http.MethodPut
	}

	req, err := http.NewRequestWithContext(ctx, method, lease.URL, r)
	if err != nil {
		return err
	}
	req.ContentLength = size
	for k, v := range lease.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.uploadClient.Do(req)
	if err != nil {
		return &dashscope.Error{Code: dashscope.ErrUpstreamError, Message: fmt.Sprintf("upload: %v", err), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &dashscope.Error{
			Code:       dashscope.ErrUpstreamError,
			Message:    fmt.Sprintf("upload failed: status=%d body=%s", resp.StatusCode, string(raw)),
			HTTPStatus: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500,
		}
	}
	return nil
}

// AddFile 上传完成后登记文件，返回文件 ID。
func (c *Client) AddFile(ctx context.Context, categoryID, leaseID string) (string, error) {
	body := map[string]any{"lease_id": leaseID}

	var resp struct {
		RequestID string `json:"request_id"`
		Data      struct {
			FileID string `json:"file_id"`
			Parser string `json:"parser"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, c.categoryURL(categoryID, "/add_file"), body, &resp); err != nil {
		return "", fmt.Errorf("add file: %w", err)
	}
	if resp.Data.FileID == "" {
		return "", &dashscope.Error{Code: dashscope.ErrUpstreamError, Message: "files: missing file_id in add_file response", RequestID: resp.RequestID}
	}
	return resp.Data.FileID, nil
}

// UploadFile 上传本地文件：校验 → 租约 → 直传 → 登记。
func (c *Client) UploadFile(ctx context.Context, categoryID, path string) (string, error) {
	size, err := c.ValidateFile(path)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	// 租约请求需要 content-md5，先全量哈希再回绕
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	contentMD5 := base64.StdEncoding.EncodeToString(h.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", path, err)
	}

	name := filepath.Base(path)
	lease, err := c.RequestLease(ctx, categoryID, name, size, contentMD5)
	if err != nil {
		return "", err
	}

	c.logger.Debug("lease acquired",
		zap.String("file", name),
		zap.Int64("size", size),
		zap.String("lease_id", lease.LeaseID),
	)

	if err := c.uploadToLease(ctx, lease, f, size); err != nil {
		return "", err
	}

	fileID, err := c.AddFile(ctx, categoryID, lease.LeaseID)
	if err != nil {
		return "", err
	}

	c.logger.Info("file uploaded",
		zap.String("file", name),
		zap.String("file_id", fileID),
		zap.Int64("size", size),
	)
	return fileID, nil
}

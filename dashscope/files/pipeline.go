package files

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tongyi-community/dashscope-go/dashscope"
	"github.com/tongyi-community/dashscope-go/retry"
)

// 文档解析状态。
const (
	StatusInit         = "INIT"
	StatusParsing      = "PARSING"
	StatusParseSuccess = "PARSE_SUCCESS"
	StatusParseFailed  = "PARSE_FAILED"
)

// FileInfo 文档中心登记的文件当前状态。
type FileInfo struct {
	FileID     string `json:"file_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	SizeBytes  int64  `json:"size_bytes"`
	UploadTime string `json:"upload_time"`
}

// ParsedDocument 解析完成的文档内容。
type ParsedDocument struct {
	FileID string
	Name   string
	Text   string
}

// PollPolicy 控制解析状态轮询的节奏。
type PollPolicy struct {
	// MaxAttempts 最大轮询次数，默认 30。
	MaxAttempts int
	// Interval 首次轮询间隔，默认 5s。
	Interval time.Duration
	// MaxInterval 间隔上限，默认 60s。
	MaxInterval time.Duration
	// Multiplier 间隔增长系数，默认 1.5。
	Multiplier float64
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 30
	}
	if p.Interval <= 0 {
		p.Interval = 5 * time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 60 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 1.5
	}
	return p
}

// QueryFile 查询文件的解析状态。
func (c *Client) QueryFile(ctx context.Context, categoryID, fileID string) (*FileInfo, error) {
	body := map[string]any{"file_id": fileID}

	var resp struct {
		RequestID string   `json:"request_id"`
		Data      FileInfo `json:"data"`
	}
	if err := c.postJSON(ctx, c.categoryURL(categoryID, "/query_file_info"), body, &resp); err != nil {
		return nil, fmt.Errorf("query file %s: %w", fileID, err)
	}
	if resp.Data.FileID == "" {
		resp.Data.FileID = fileID
	}
	return &resp.Data, nil
}

// FetchParseResult 拉取解析完成的文档文本。
func (c *Client) FetchParseResult(ctx context.Context, categoryID, fileID string) (string, error) {
	body := map[string]any{"file_id": fileID}

	var resp struct {
		RequestID string `json:"request_id"`
		Data      struct {
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, c.categoryURL(categoryID, "/query_parse_result"), body, &resp); err != nil {
		return "", fmt.Errorf("fetch parse result %s: %w", fileID, err)
	}
	return resp.Data.Text, nil
}

// WaitForParse 轮询直到文件解析完成或失败。退避间隔按 Multiplier 增长。
func (c *Client) WaitForParse(ctx context.Context, categoryID, fileID string, policy PollPolicy) (*FileInfo, error) {
	policy = policy.withDefaults()

	retryer := retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   policy.MaxAttempts - 1,
		InitialDelay: policy.Interval,
		MaxDelay:     policy.MaxInterval,
		Multiplier:   policy.Multiplier,
		Jitter:       false,
		RetryIf:      retry.IsRetryableError,
	}, c.logger)

	var info *FileInfo
	err := retryer.Do(ctx, func() error {
		fi, err := c.QueryFile(ctx, categoryID, fileID)
		if err != nil {
			if dashscope.IsRetryable(err) {
				return retry.WrapRetryable(err)
			}
			return err
		}
		info = fi

		switch fi.Status {
		case StatusParseSuccess:
			return nil
		case StatusParseFailed:
			return &dashscope.Error{
				Code:    dashscope.ErrTaskFailed,
				Message: fmt.Sprintf("files: parse failed for %s", fileID),
			}
		default:
			// INIT / PARSING：继续等
			return retry.WrapRetryable(fmt.Errorf("files: %s still %s", fileID, fi.Status))
		}
	})
	if err != nil {
		if info != nil && info.Status != StatusParseSuccess && info.Status != StatusParseFailed {
			return info, &dashscope.Error{
				Code:    dashscope.ErrTaskTimeout,
				Message: fmt.Sprintf("files: parse not finished after %d attempts (status=%s)", policy.MaxAttempts, info.Status),
			}
		}
		return info, err
	}
	return info, nil
}

// ParseFile 一站式入口：上传本地文件并等待云端解析，返回解析文本。
func (c *Client) ParseFile(ctx context.Context, categoryID, path string) (*ParsedDocument, error) {
	start := time.Now()

	fileID, err := c.UploadFile(ctx, categoryID, path)
	if err != nil {
		return nil, err
	}

	info, err := c.WaitForParse(ctx, categoryID, fileID, PollPolicy{})
	if err != nil {
		return nil, err
	}

	text, err := c.FetchParseResult(ctx, categoryID, fileID)
	if err != nil {
		return nil, err
	}

	c.logger.Info("document parsed",
		zap.String("file_id", fileID),
		zap.String("status", info.Status),
		zap.Int("text_len", len(text)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &ParsedDocument{
		FileID: fileID,
		Name:   filepath.Base(path),
		Text:   text,
	}, nil
}

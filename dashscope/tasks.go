package dashscope

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TaskStatus 异步任务状态。
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskSuspended TaskStatus = "SUSPENDED"
	TaskSucceeded TaskStatus = "SUCCEEDED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCanceled  TaskStatus = "CANCELED"
	TaskUnknown   TaskStatus = "UNKNOWN"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskCanceled, TaskUnknown:
		return true
	}
	return false
}

// TaskResult 异步任务查询结果。Output 保留原始 JSON，
// 由各 API（image/video）自行解码。
type TaskResult struct {
	TaskID    string          `json:"task_id"`
	Status    TaskStatus      `json:"task_status"`
	RequestID string          `json:"request_id,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Usage     json.RawMessage `json:"usage,omitempty"`
}

type taskEnvelope struct {
	RequestID string `json:"request_id"`
	Output    struct {
		TaskID     string     `json:"task_id"`
		TaskStatus TaskStatus `json:"task_status"`
		Code       string     `json:"code"`
		Message    string     `json:"message"`
	} `json:"output"`
}

// PollConfig 控制异步任务的轮询节奏。
// 轮询间隔按 Multiplier 增长直到 MaxInterval；总等待超过
// MaxWait 后放弃并返回 DS_TASK_TIMEOUT。
type PollConfig struct {
	Interval    time.Duration `yaml:"interval" json:"interval"`
	MaxInterval time.Duration `yaml:"max_interval" json:"max_interval"`
	Multiplier  float64       `yaml:"multiplier" json:"multiplier"`
	MaxWait     time.Duration `yaml:"max_wait" json:"max_wait"`
}

// DefaultPollConfig 适用于图像生成等分钟级任务。
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    2 * time.Second,
		MaxInterval: 15 * time.Second,
		Multiplier:  1.5,
		MaxWait:     10 * time.Minute,
	}
}

func (p PollConfig) withDefaults() PollConfig {
	if p.Interval <= 0 {
		p.Interval = 2 * time.Second
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 1.5
	}
	if p.MaxWait <= 0 {
		p.MaxWait = 10 * time.Minute
	}
	return p
}

// GetTask 查询一次异步任务状态。
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskResult, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, c.apiURL("/tasks/"+taskID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.send("task_query", req, c.httpClient)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw struct {
		RequestID string          `json:"request_id"`
		Output    json.RawMessage `json:"output"`
		Usage     json.RawMessage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &Error{Code: ErrUpstreamError, Message: fmt.Sprintf("decode task response: %v", err), HTTPStatus: http.StatusBadGateway, Retryable: true}
	}

	var env taskEnvelope
	env.RequestID = raw.RequestID
	if err := json.Unmarshal(raw.Output, &env.Output); err != nil {
		return nil, &Error{Code: ErrUpstreamError, Message: fmt.Sprintf("decode task output: %v", err), HTTPStatus: http.StatusBadGateway}
	}

	return &TaskResult{
		TaskID:    env.Output.TaskID,
		Status:    env.Output.TaskStatus,
		RequestID: raw.RequestID,
		Code:      env.Output.Code,
		Message:   env.Output.Message,
		Output:    raw.Output,
		Usage:     raw.Usage,
	}, nil
}

// CancelTask 取消处于 PENDING 状态的任务。
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.apiURL("/tasks/"+taskID+"/cancel"), nil)
	if err != nil {
		return err
	}
	return c.doJSON("task_cancel", req, nil)
}

// WaitForTask 轮询任务直到终态。kind 仅用于日志与指标归类
// （image/video/docparse）。间隔增长 + 总等待上限，context 取消
// 立即返回。
func (c *Client) WaitForTask(ctx context.Context, kind, taskID string, cfg PollConfig) (*TaskResult, error) {
	cfg = cfg.withDefaults()

	start := time.Now()
	interval := cfg.Interval
	deadline := start.Add(cfg.MaxWait)

	logger := c.logger.With(
		zap.String("kind", kind),
		zap.String("task_id", taskID),
	)

	for {
		res, err := c.GetTask(ctx, taskID)
		if err != nil {
			// 轮询中的可重试错误不终止等待
			if IsRetryable(err) && time.Now().Before(deadline) {
				logger.Warn("task poll failed, will retry", zap.Error(err))
			} else {
				return nil, err
			}
		} else {
			c.metrics.RecordTaskPoll(kind, string(res.Status))

			if res.Status.Terminal() {
				waited := time.Since(start)
				c.metrics.RecordTaskWait(kind, waited)

				switch res.Status {
				case TaskSucceeded:
					logger.Info("task succeeded", zap.Duration("waited", waited))
					return res, nil
				default:
					logger.Warn("task ended in failure",
						zap.String("status", string(res.Status)),
						zap.String("code", res.Code),
						zap.String("message", res.Message),
					)
					return res, &Error{
						Code:      ErrTaskFailed,
						Message:   fmt.Sprintf("task %s %s: %s %s", taskID, res.Status, res.Code, res.Message),
						RequestID: res.RequestID,
					}
				}
			}

			logger.Debug("task still running",
				zap.String("status", string(res.Status)),
				zap.Duration("next_poll", interval),
			)
		}

		if time.Now().Add(interval).After(deadline) {
			c.metrics.RecordTaskWait(kind, time.Since(start))
			return nil, &Error{
				Code:      ErrTaskTimeout,
				Message:   fmt.Sprintf("task %s did not finish within %s", taskID, cfg.MaxWait),
				Retryable: false,
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("task wait canceled: %w", ctx.Err())
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * cfg.Multiplier)
		if interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}
}

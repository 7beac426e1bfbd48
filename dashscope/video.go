package dashscope

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// VideoRequest 文生视频请求。
type VideoRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	// ImageURL 首帧图地址（图生视频）。
	ImageURL string `json:"img_url,omitempty"`
	Size     string `json:"size,omitempty"`     // 如 "1280*720"
	Duration int    `json:"duration,omitempty"` // 秒
	Seed     int    `json:"seed,omitempty"`
	// PromptExtend 开启提示词智能改写。
	PromptExtend bool `json:"prompt_extend,omitempty"`

	// Poll 覆盖默认轮询策略（视频生成耗时更长）。
	Poll *PollConfig `json:"-"`
}

// VideoResponse 文生视频最终结果。
type VideoResponse struct {
	TaskID    string `json:"task_id"`
	RequestID string `json:"request_id,omitempty"`
	VideoURL  string `json:"video_url"`
	// ActualPrompt 为开启改写后实际使用的提示词。
	ActualPrompt string `json:"actual_prompt,omitempty"`
}

type wireVideoRequest struct {
	Model string `json:"model"`
	Input struct {
		Prompt   string `json:"prompt"`
		ImageURL string `json:"img_url,omitempty"`
	} `json:"input"`
	Parameters struct {
		Size         string `json:"size,omitempty"`
		Duration     int    `json:"duration,omitempty"`
		Seed         int    `json:"seed,omitempty"`
		PromptExtend bool   `json:"prompt_extend,omitempty"`
	} `json:"parameters"`
}

type wireVideoOutput struct {
	VideoURL     string `json:"video_url"`
	ActualPrompt string `json:"actual_prompt"`
}

// DefaultVideoPollConfig 视频任务轮询节奏：间隔更长，等待上限 20 分钟。
func DefaultVideoPollConfig() PollConfig {
	return PollConfig{
		Interval:    10 * time.Second,
		MaxInterval: 30 * time.Second,
		Multiplier:  1.5,
		MaxWait:     20 * time.Minute,
	}
}

// SubmitVideoTask 提交异步文生视频任务，返回任务 ID。
func (c *Client) SubmitVideoTask(ctx context.Context, req *VideoRequest) (string, error) {
	if req.Prompt == "" && req.ImageURL == "" {
		return "", &Error{Code: ErrInvalidRequest, Message: "video: prompt or img_url is required", HTTPStatus: http.StatusBadRequest}
	}

	var body wireVideoRequest
	body.Model = chooseModel(req.Model, "wanx2.1-t2v-turbo")
	body.Input.Prompt = req.Prompt
	body.Input.ImageURL = req.ImageURL
	body.Parameters.Size = req.Size
	body.Parameters.Duration = req.Duration
	body.Parameters.Seed = req.Seed
	body.Parameters.PromptExtend = req.PromptExtend

	httpReq, err := c.newJSONRequest(ctx, http.MethodPost,
		c.apiURL("/services/aigc/video-generation/video-synthesis"), body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set(headerAsync, "enable")

	var env taskEnvelope
	if err := c.doJSON("video_submit", httpReq, &env); err != nil {
		return "", err
	}
	if env.Output.TaskID == "" {
		return "", &Error{Code: ErrUpstreamError, Message: "video: missing task_id in response", RequestID: env.RequestID}
	}
	return env.Output.TaskID, nil
}

// GenerateVideo 提交任务并阻塞等待生成完成。
func (c *Client) GenerateVideo(ctx context.Context, req *VideoRequest) (*VideoResponse, error) {
	taskID, err := c.SubmitVideoTask(ctx, req)
	if err != nil {
		return nil, err
	}

	poll := DefaultVideoPollConfig()
	if req.Poll != nil {
		poll = *req.Poll
	}

	res, err := c.WaitForTask(ctx, "video", taskID, poll)
	if err != nil {
		return nil, err
	}

	var out wireVideoOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return nil, &Error{Code: ErrUpstreamError, Message: fmt.Sprintf("video: decode output: %v", err)}
	}
	if out.VideoURL == "" {
		return nil, &Error{Code: ErrTaskFailed, Message: "video: task succeeded but no video_url returned", RequestID: res.RequestID}
	}

	return &VideoResponse{
		TaskID:       res.TaskID,
		RequestID:    res.RequestID,
		VideoURL:     out.VideoURL,
		ActualPrompt: out.ActualPrompt,
	}, nil
}

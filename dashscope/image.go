package dashscope

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ImageRequest 文生图请求。
type ImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	// RefImageURL 参考图地址（图生图）。
	RefImageURL string `json:"ref_img,omitempty"`
	Size        string `json:"size,omitempty"` // 如 "1024*1024"
	N           int    `json:"n,omitempty"`    // 生成张数，1-4
	Seed        int    `json:"seed,omitempty"`
	Style       string `json:"style,omitempty"` // 如 "<watercolor>"

	// Poll 覆盖默认轮询策略。
	Poll *PollConfig `json:"-"`
}

// GeneratedImage 单张生成结果。
type GeneratedImage struct {
	URL string `json:"url"`
	// 部分失败时 URL 为空，Code/Message 说明原因。
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ImageResponse 文生图最终结果。
type ImageResponse struct {
	TaskID    string           `json:"task_id"`
	RequestID string           `json:"request_id,omitempty"`
	Images    []GeneratedImage `json:"results"`
}

type wireImageRequest struct {
	Model string `json:"model"`
	Input struct {
		Prompt         string `json:"prompt"`
		NegativePrompt string `json:"negative_prompt,omitempty"`
		RefImageURL    string `json:"ref_img,omitempty"`
	} `json:"input"`
	Parameters struct {
		Size  string `json:"size,omitempty"`
		N     int    `json:"n,omitempty"`
		Seed  int    `json:"seed,omitempty"`
		Style string `json:"style,omitempty"`
	} `json:"parameters"`
}

type wireImageOutput struct {
	Results []GeneratedImage `json:"results"`
}

// SubmitImageTask 提交异步文生图任务，返回任务 ID。
func (c *Client) SubmitImageTask(ctx context.Context, req *ImageRequest) (string, error) {
	if req.Prompt == "" {
		return "", &Error{Code: ErrInvalidRequest, Message: "image: prompt is required", HTTPStatus: http.StatusBadRequest}
	}

	var body wireImageRequest
	body.Model = chooseModel(req.Model, "wanx-v1")
	body.Input.Prompt = req.Prompt
	body.Input.NegativePrompt = req.NegativePrompt
	body.Input.RefImageURL = req.RefImageURL
	body.Parameters.Size = req.Size
	body.Parameters.N = req.N
	body.Parameters.Seed = req.Seed
	body.Parameters.Style = req.Style

	httpReq, err := c.newJSONRequest(ctx, http.MethodPost,
		c.apiURL("/services/aigc/text2image/image-synthesis"), body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set(headerAsync, "enable")

	var env taskEnvelope
	if err := c.doJSON("image_submit", httpReq, &env); err != nil {
		return "", err
	}
	if env.Output.TaskID == "" {
		return "", &Error{Code: ErrUpstreamError, Message: "image: missing task_id in response", RequestID: env.RequestID}
	}
	return env.Output.TaskID, nil
}

// GenerateImage 提交任务并阻塞等待生成完成。
func (c *Client) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error) {
	taskID, err := c.SubmitImageTask(ctx, req)
	if err != nil {
		return nil, err
	}

	poll := DefaultPollConfig()
	if req.Poll != nil {
		poll = *req.Poll
	}

	res, err := c.WaitForTask(ctx, "image", taskID, poll)
	if err != nil {
		return nil, err
	}

	var out wireImageOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return nil, &Error{Code: ErrUpstreamError, Message: fmt.Sprintf("image: decode results: %v", err)}
	}

	return &ImageResponse{
		TaskID:    res.TaskID,
		RequestID: res.RequestID,
		Images:    out.Results,
	}, nil
}

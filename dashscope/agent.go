package dashscope

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// AgentRequest 智能体应用（百炼应用）调用请求。
type AgentRequest struct {
	// AppID 应用 ID，必填。
	AppID  string `json:"app_id"`
	Prompt string `json:"prompt"`
	// SessionID 多轮会话续接；为空时服务端新建会话。
	SessionID string `json:"session_id,omitempty"`
	// BizParams 透传给应用编排的业务参数。
	BizParams map[string]any `json:"biz_params,omitempty"`
	// HasThoughts 返回插件/检索的中间过程。
	HasThoughts bool `json:"has_thoughts,omitempty"`
}

// AgentUsage 应用调用的分模型用量。
type AgentUsage struct {
	Models []struct {
		ModelID      string `json:"model_id"`
		InputTokens  int    `json:"input_tokens"`
		OutputTokens int    `json:"output_tokens"`
	} `json:"models"`
}

// AgentResponse 智能体应用响应。
type AgentResponse struct {
	Text         string     `json:"text"`
	FinishReason string     `json:"finish_reason,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	RequestID    string     `json:"request_id,omitempty"`
	Usage        AgentUsage `json:"usage,omitempty"`
}

// AgentChunk 智能体应用流式增量。
type AgentChunk struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Err          error  `json:"-"`
}

type wireAgentRequest struct {
	Input struct {
		Prompt    string         `json:"prompt"`
		SessionID string         `json:"session_id,omitempty"`
		BizParams map[string]any `json:"biz_params,omitempty"`
	} `json:"input"`
	Parameters struct {
		HasThoughts       bool `json:"has_thoughts,omitempty"`
		IncrementalOutput bool `json:"incremental_output,omitempty"`
	} `json:"parameters"`
}

type wireAgentResponse struct {
	RequestID string `json:"request_id"`
	Output    struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
		SessionID    string `json:"session_id"`
	} `json:"output"`
	Usage AgentUsage `json:"usage"`
}

func (c *Client) agentURL(appID string) string {
	return c.apiURL("/apps/" + url.PathEscape(appID) + "/completion")
}

// AgentCompletion 以阻塞方式调用智能体应用。
func (c *Client) AgentCompletion(ctx context.Context, req *AgentRequest) (*AgentResponse, error) {
	if req.AppID == "" {
		return nil, &Error{Code: ErrInvalidRequest, Message: "agent: app_id is required", HTTPStatus: http.StatusBadRequest}
	}

	var body wireAgentRequest
	body.Input.Prompt = req.Prompt
	body.Input.SessionID = req.SessionID
	body.Input.BizParams = req.BizParams
	body.Parameters.HasThoughts = req.HasThoughts

	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, c.agentURL(req.AppID), body)
	if err != nil {
		return nil, err
	}

	var w wireAgentResponse
	if err := c.doJSON("agent_completion", httpReq, &w); err != nil {
		return nil, err
	}

	return &AgentResponse{
		Text:         w.Output.Text,
		FinishReason: w.Output.FinishReason,
		SessionID:    w.Output.SessionID,
		RequestID:    w.RequestID,
		Usage:        w.Usage,
	}, nil
}

// AgentStream 以 SSE 流式方式调用智能体应用，增量输出。
func (c *Client) AgentStream(ctx context.Context, req *AgentRequest) (<-chan AgentChunk, error) {
	if req.AppID == "" {
		return nil, &Error{Code: ErrInvalidRequest, Message: "agent: app_id is required", HTTPStatus: http.StatusBadRequest}
	}

	var body wireAgentRequest
	body.Input.Prompt = req.Prompt
	body.Input.SessionID = req.SessionID
	body.Input.BizParams = req.BizParams
	body.Parameters.HasThoughts = req.HasThoughts
	body.Parameters.IncrementalOutput = true

	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, c.agentURL(req.AppID), body)
	if err != nil {
		return nil, err
	}

	resp, err := c.doStream("agent_stream", httpReq)
	if err != nil {
		return nil, err
	}

	ch := make(chan AgentChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					select {
					case ch <- AgentChunk{Err: &Error{Code: ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true}}:
					case <-ctx.Done():
					}
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var w wireAgentResponse
			if err := json.Unmarshal([]byte(data), &w); err != nil {
				select {
				case ch <- AgentChunk{Err: &Error{Code: ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway}}:
				case <-ctx.Done():
				}
				return
			}

			chunk := AgentChunk{
				Text:         w.Output.Text,
				FinishReason: w.Output.FinishReason,
				SessionID:    w.Output.SessionID,
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}

			// finish_reason 非 null 表示最后一个增量
			if w.Output.FinishReason != "" && w.Output.FinishReason != "null" {
				return
			}
		}
	}()
	return ch, nil
}

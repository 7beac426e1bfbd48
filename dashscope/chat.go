package dashscope

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// Role 消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall 模型发起的工具调用。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message 对话消息。
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // 工具返回时标识对应调用
}

// ToolSchema 工具定义（JSON Schema 参数）。
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatRequest 聊天补全请求。
type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float32      `json:"temperature,omitempty"`
	TopP        float32      `json:"top_p,omitempty"`
	Stop        []string     `json:"stop,omitempty"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"` // auto/none/<tool name>
	Seed        int          `json:"seed,omitempty"`
	// EnableSearch 开启互联网检索增强（DashScope 扩展参数）。
	EnableSearch bool `json:"enable_search,omitempty"`
}

// ChatUsage Token 用量。
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// ChatChoice 单条候选结果。
type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

// ChatResponse 聊天补全响应。
type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Model     string       `json:"model,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Text 返回首条候选的文本内容。
func (r *ChatResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// StreamChunk 流式增量。Err 非空时表示流已中断。
type StreamChunk struct {
	ID           string  `json:"id,omitempty"`
	Model        string  `json:"model,omitempty"`
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Usage        *ChatUsage
	Err          error `json:"-"`
}

// OpenAI 兼容模式的 wire 类型。
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireChatRequest struct {
	Model        string        `json:"model"`
	Messages     []wireMessage `json:"messages"`
	Tools        []wireTool    `json:"tools,omitempty"`
	ToolChoice   any           `json:"tool_choice,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	Temperature  float32       `json:"temperature,omitempty"`
	TopP         float32       `json:"top_p,omitempty"`
	Stop         []string      `json:"stop,omitempty"`
	Seed         int           `json:"seed,omitempty"`
	Stream       bool          `json:"stream,omitempty"`
	EnableSearch bool          `json:"enable_search,omitempty"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      wireMessage  `json:"message"`
	Delta        *wireMessage `json:"delta,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
	Created int64        `json:"created,omitempty"`
}

func toWireMessages(msgs []Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []ToolSchema) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:       t.Name,
				Parameters: t.Parameters,
			},
		})
	}
	return out
}

func fromWireResponse(w wireChatResponse, requestID string) *ChatResponse {
	choices := make([]ChatChoice, 0, len(w.Choices))
	for _, c := range w.Choices {
		msg := Message{
			Role:    RoleAssistant,
			Content: c.Message.Content,
			Name:    c.Message.Name,
		}
		for _, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		choices = append(choices, ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      msg,
		})
	}

	resp := &ChatResponse{
		ID:        w.ID,
		Model:     w.Model,
		RequestID: requestID,
		Choices:   choices,
	}
	if w.Usage != nil {
		resp.Usage = ChatUsage{
			PromptTokens:     w.Usage.PromptTokens,
			CompletionTokens: w.Usage.CompletionTokens,
			TotalTokens:      w.Usage.TotalTokens,
		}
	}
	if w.Created != 0 {
		resp.CreatedAt = time.Unix(w.Created, 0)
	}
	return resp
}

// ChatCompletion 以阻塞方式调用聊天补全。
//
// 默认模型为 qwen-plus。
func (c *Client) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := wireChatRequest{
		Model:        chooseModel(req.Model, "qwen-plus"),
		Messages:     toWireMessages(req.Messages),
		Tools:        toWireTools(req.Tools),
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		Stop:         req.Stop,
		Seed:         req.Seed,
		EnableSearch: req.EnableSearch,
	}
	if req.ToolChoice != "" {
		body.ToolChoice = req.ToolChoice
	}

	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, c.compatibleURL("/chat/completions"), body)
	if err != nil {
		return nil, err
	}

	resp, err := c.send("chat_completion", httpReq, c.httpClient)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var w wireChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, &Error{Code: ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true}
	}

	out := fromWireResponse(w, resp.Header.Get(headerRequestID))
	c.metrics.RecordTokens(out.Model, "prompt", out.Usage.PromptTokens)
	c.metrics.RecordTokens(out.Model, "completion", out.Usage.CompletionTokens)
	return out, nil
}

// ChatStream 以 SSE 流式方式调用聊天补全。
// 返回的 channel 在流结束或出错后关闭；错误通过 StreamChunk.Err 传递。
func (c *Client) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	body := wireChatRequest{
		Model:        chooseModel(req.Model, "qwen-plus"),
		Messages:     toWireMessages(req.Messages),
		Tools:        toWireTools(req.Tools),
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
		Stop:         req.Stop,
		Seed:         req.Seed,
		EnableSearch: req.EnableSearch,
		Stream:       true,
	}
	if req.ToolChoice != "" {
		body.ToolChoice = req.ToolChoice
	}

	httpReq, err := c.newJSONRequest(ctx, http.MethodPost, c.compatibleURL("/chat/completions"), body)
	if err != nil {
		return nil, err
	}

	resp, err := c.doStream("chat_stream", httpReq)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					select {
					case ch <- StreamChunk{Err: &Error{Code: ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true}}:
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
			if data == "[DONE]" {
				return
			}

			var w wireChatResponse
			if err := json.Unmarshal([]byte(data), &w); err != nil {
				select {
				case ch <- StreamChunk{Err: &Error{Code: ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true}}:
				case <-ctx.Done():
				}
				return
			}

			for _, choice := range w.Choices {
				if choice.Delta == nil {
					continue
				}
				chunk := StreamChunk{
					ID:    w.ID,
					Model: w.Model,
					Index: choice.Index,
					Delta: Message{
						Role:    RoleAssistant,
						Content: choice.Delta.Content,
					},
					FinishReason: choice.FinishReason,
				}
				for _, tc := range choice.Delta.ToolCalls {
					chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, ToolCall{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					})
				}
				if w.Usage != nil {
					chunk.Usage = &ChatUsage{
						PromptTokens:     w.Usage.PromptTokens,
						CompletionTokens: w.Usage.CompletionTokens,
						TotalTokens:      w.Usage.TotalTokens,
					}
					c.metrics.RecordTokens(w.Model, "prompt", w.Usage.PromptTokens)
					c.metrics.RecordTokens(w.Model, "completion", w.Usage.CompletionTokens)
				}

				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func chooseModel(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return fallback
}

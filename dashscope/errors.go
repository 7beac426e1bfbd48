package dashscope

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// 统一的 DashScope 错误码，用于对齐 HTTP 状态、可重试性与降级策略。
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "DS_INVALID_REQUEST"  // 参数/格式错误
	ErrUnauthorized    ErrorCode = "DS_UNAUTHORIZED"     // 未授权或密钥失效
	ErrForbidden       ErrorCode = "DS_FORBIDDEN"        // 权限或内容策略拒绝
	ErrRateLimited     ErrorCode = "DS_RATE_LIMITED"     // 上游或本地限流
	ErrQuotaExceeded   ErrorCode = "DS_QUOTA_EXCEEDED"   // 额度/配额用尽
	ErrContentFiltered ErrorCode = "DS_CONTENT_FILTERED" // 命中内容安全
	ErrTaskFailed      ErrorCode = "DS_TASK_FAILED"      // 异步任务执行失败
	ErrTaskTimeout     ErrorCode = "DS_TASK_TIMEOUT"     // 异步任务等待超时
	ErrUpstreamTimeout ErrorCode = "DS_UPSTREAM_TIMEOUT" // 上游超时
	ErrUpstreamError   ErrorCode = "DS_UPSTREAM_ERROR"   // 上游 5xx/网络错误
)

// Error 是所有 DashScope API 调用的统一错误类型。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Retryable  bool      `json:"retryable"`
}

func (e *Error) Error() string { return e.Message }

// IsRetryable reports whether err is a *Error marked retryable.
func IsRetryable(err error) bool {
	var dsErr *Error
	if errors.As(err, &dsErr) {
		return dsErr.Retryable
	}
	return false
}

// apiErrorBody 是 DashScope 原生 API 的错误响应体。
// compatible-mode 走 OpenAI 风格的 {"error": {...}} 包装。
type apiErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Error     *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// MapHTTPError drains body and maps an HTTP error status to a typed *Error.
// 供 files/audio 等自持 HTTP 客户端的子包复用。
func MapHTTPError(status int, body io.Reader) *Error {
	return readAPIError(status, body)
}

// readAPIError drains body and maps the HTTP status to a typed *Error.
func readAPIError(status int, body io.Reader) *Error {
	data, _ := io.ReadAll(body)

	var eb apiErrorBody
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &eb); err == nil {
		switch {
		case eb.Error != nil && eb.Error.Message != "":
			msg = eb.Error.Message
		case eb.Message != "":
			msg = eb.Message
		}
	}

	e := mapStatus(status, msg)
	e.RequestID = eb.RequestID
	return e
}

func mapStatus(status int, msg string) *Error {
	switch status {
	case http.StatusUnauthorized:
		return &Error{Code: ErrUnauthorized, Message: msg, HTTPStatus: status}
	case http.StatusForbidden:
		return &Error{Code: ErrForbidden, Message: msg, HTTPStatus: status}
	case http.StatusTooManyRequests:
		return &Error{Code: ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true}
	case http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "allocated") {
			return &Error{Code: ErrQuotaExceeded, Message: msg, HTTPStatus: status}
		}
		if strings.Contains(lower, "inappropriate") || strings.Contains(lower, "data_inspection") {
			return &Error{Code: ErrContentFiltered, Message: msg, HTTPStatus: status}
		}
		return &Error{Code: ErrInvalidRequest, Message: msg, HTTPStatus: status}
	case http.StatusGatewayTimeout:
		return &Error{Code: ErrUpstreamTimeout, Message: msg, HTTPStatus: status, Retryable: true}
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return &Error{Code: ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: true}
	default:
		return &Error{Code: ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: status >= 500}
	}
}

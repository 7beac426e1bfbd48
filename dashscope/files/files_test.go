package files

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tongyi-community/dashscope-go/dashscope"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{APIKey: "sk-test", BaseURL: baseURL})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "")
	_, err := NewClient(Config{})
	require.Error(t, err)

	var dsErr *dashscope.Error
	require.True(t, errors.As(err, &dsErr))
	assert.Equal(t, dashscope.ErrUnauthorized, dsErr.Code)
}

func TestValidateFile(t *testing.T) {
	c, err := NewClient(Config{APIKey: "sk-test", MaxFileSize: 10})
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"ok", writeTempFile(t, "doc.txt", "hello"), false},
		{"unsupported type", writeTempFile(t, "img.png", "binary"), true},
		{"too large", writeTempFile(t, "big.txt", "0123456789abcdef"), true},
		{"empty", writeTempFile(t, "empty.md", ""), true},
		{"missing", filepath.Join(t.TempDir(), "nope.pdf"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := c.ValidateFile(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(5), size)
		})
	}
}

func TestValidateFile_PerTypeLimits(t *testing.T) {
	c, err := NewClient(Config{APIKey: "sk-test"})
	require.NoError(t, err)

	big := strings.Repeat("a", 11<<20)

	// 文本类上限 10MB，低于全局上限
	_, err = c.ValidateFile(writeTempFile(t, "huge.txt", big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".txt")

	// 同样大小的 pdf 在 100MB 上限内
	size, err := c.ValidateFile(writeTempFile(t, "huge.pdf", big))
	require.NoError(t, err)
	assert.Equal(t, int64(11<<20), size)

	// 配置的全局上限低于类型上限时以全局为准
	strict, err := NewClient(Config{APIKey: "sk-test", MaxFileSize: 4})
	require.NoError(t, err)
	_, err = strict.ValidateFile(writeTempFile(t, "doc.pdf", "hello"))
	require.Error(t, err)
}

// TestParseFile_FullPipeline 覆盖 租约→直传→登记→轮询→拉取 全链路。
func TestParseFile_FullPipeline(t *testing.T) {
	var uploaded atomic.Bool
	var queries atomic.Int32

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("PUT /blob/doc", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		uploaded.Store(true)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/v1/datacenter/category/default/upload_lease", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "report.txt", body["file_name"])
		assert.NotEmpty(t, body["content_md5"])

		json.NewEncoder(w).Encode(map[string]any{
			"request_id": "req-1",
			"data": map[string]any{
				"lease_id": "lease-1",
				"param": map[string]any{
					"url":     srv.URL + "/blob/doc",
					"method":  "PUT",
					"headers": map[string]string{"Content-Type": "text/plain"},
				},
			},
		})
	})
	mux.HandleFunc("POST /api/v1/datacenter/category/default/add_file", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, uploaded.Load(), "add_file must come after the PUT upload")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "lease-1", body["lease_id"])

		json.NewEncoder(w).Encode(map[string]any{
			"request_id": "req-2",
			"data":       map[string]any{"file_id": "file-1", "parser": "DASHSCOPE_DOCMIND"},
		})
	})
	mux.HandleFunc("POST /api/v1/datacenter/category/default/query_file_info", func(w http.ResponseWriter, r *http.Request) {
		status := StatusParsing
		if queries.Add(1) >= 2 {
			status = StatusParseSuccess
		}
		json.NewEncoder(w).Encode(map[string]any{
			"request_id": "req-3",
			"data":       map[string]any{"file_id": "file-1", "name": "report.txt", "status": status},
		})
	})
	mux.HandleFunc("POST /api/v1/datacenter/category/default/query_parse_result", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"request_id": "req-4",
			"data":       map[string]any{"text": "解析后的文档正文"},
		})
	})

	c := newTestClient(t, srv.URL)

	// 单测里不等真实的 5s 轮询间隔
	path := writeTempFile(t, "report.txt", "hello docmind")
	fileID, err := c.UploadFile(context.Background(), DefaultCategory, path)
	require.NoError(t, err)
	assert.Equal(t, "file-1", fileID)

	info, err := c.WaitForParse(context.Background(), DefaultCategory, fileID, PollPolicy{
		MaxAttempts: 5,
		Interval:    time.Millisecond,
		MaxInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusParseSuccess, info.Status)
	assert.GreaterOrEqual(t, queries.Load(), int32(2))

	text, err := c.FetchParseResult(context.Background(), DefaultCategory, fileID)
	require.NoError(t, err)
	assert.Equal(t, "解析后的文档正文", text)
}

func TestWaitForParse_Failed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/datacenter/category/default/query_file_info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"file_id": "file-x", "status": StatusParseFailed},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.WaitForParse(context.Background(), DefaultCategory, "file-x", PollPolicy{
		MaxAttempts: 3,
		Interval:    time.Millisecond,
	})
	require.Error(t, err)

	var dsErr *dashscope.Error
	require.True(t, errors.As(err, &dsErr))
	assert.Equal(t, dashscope.ErrTaskFailed, dsErr.Code)
}

func TestWaitForParse_Timeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/datacenter/category/default/query_file_info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"file_id": "file-y", "status": StatusParsing},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	info, err := c.WaitForParse(context.Background(), DefaultCategory, "file-y", PollPolicy{
		MaxAttempts: 2,
		Interval:    time.Millisecond,
	})
	require.Error(t, err)
	require.NotNil(t, info)
	assert.Equal(t, StatusParsing, info.Status)

	var dsErr *dashscope.Error
	require.True(t, errors.As(err, &dsErr))
	assert.Equal(t, dashscope.ErrTaskTimeout, dsErr.Code)
}

func TestRequestLease_HTTPError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/datacenter/category/default/upload_lease", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"code": "InvalidApiKey", "message": "invalid api key"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.RequestLease(context.Background(), DefaultCategory, "a.txt", 3, "md5")
	require.Error(t, err)

	var dsErr *dashscope.Error
	require.True(t, errors.As(err, &dsErr))
	assert.Equal(t, dashscope.ErrUnauthorized, dsErr.Code)
	assert.False(t, dsErr.Retryable)
}

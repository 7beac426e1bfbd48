package dashscope

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVideo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/services/aigc/video-generation/video-synthesis", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "enable", r.Header.Get("X-DashScope-Async"))

		var body wireVideoRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "wanx2.1-t2v-turbo", body.Model)
		assert.Equal(t, "海上日出延时摄影", body.Input.Prompt)
		assert.True(t, body.Parameters.PromptExtend)

		fmt.Fprint(w, taskJSON("vid-task-1", TaskPending, ""))
	})
	mux.HandleFunc("GET /api/v1/tasks/vid-task-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskJSON("vid-task-1", TaskSucceeded,
			`"video_url": "https://cdn.example.com/out.mp4", "actual_prompt": "海上日出，金色光芒，延时摄影"`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	poll := fastPoll()
	c := newTestClient(t, server.URL)
	resp, err := c.GenerateVideo(context.Background(), &VideoRequest{
		Prompt:       "海上日出延时摄影",
		PromptExtend: true,
		Poll:         &poll,
	})
	require.NoError(t, err)

	assert.Equal(t, "vid-task-1", resp.TaskID)
	assert.Equal(t, "https://cdn.example.com/out.mp4", resp.VideoURL)
	assert.Contains(t, resp.ActualPrompt, "延时摄影")
}

func TestSubmitVideoTask_RequiresInput(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	_, err := c.SubmitVideoTask(context.Background(), &VideoRequest{})
	require.Error(t, err)

	var dsErr *Error
	require.ErrorAs(t, err, &dsErr)
	assert.Equal(t, ErrInvalidRequest, dsErr.Code)
}

func TestGenerateVideo_MissingURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/services/aigc/video-generation/video-synthesis", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskJSON("vid-task-2", TaskPending, ""))
	})
	mux.HandleFunc("GET /api/v1/tasks/vid-task-2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, taskJSON("vid-task-2", TaskSucceeded, ""))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	poll := fastPoll()
	c := newTestClient(t, server.URL)
	_, err := c.GenerateVideo(context.Background(), &VideoRequest{Prompt: "x", Poll: &poll})
	require.Error(t, err)

	var dsErr *Error
	require.ErrorAs(t, err, &dsErr)
	assert.Equal(t, ErrTaskFailed, dsErr.Code)
}

package dashscope

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingServer 对每条输入返回 [hash] 单维向量，text_index 为批内偏移。
func embeddingServer(t *testing.T, batchSizes *[]int, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/services/embeddings/text-embedding/text-embedding", r.URL.Path)

		var body wireEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		mu.Lock()
		*batchSizes = append(*batchSizes, len(body.Input.Texts))
		mu.Unlock()

		resp := map[string]any{"request_id": "req-emb"}
		embeddings := make([]map[string]any, 0, len(body.Input.Texts))
		for i, text := range body.Input.Texts {
			embeddings = append(embeddings, map[string]any{
				"text_index": i,
				"embedding":  []float64{float64(len(text))},
			})
		}
		resp["output"] = map[string]any{"embeddings": embeddings}
		resp["usage"] = map[string]any{"total_tokens": len(body.Input.Texts)}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestEmbeddings_SingleBatch(t *testing.T) {
	var batchSizes []int
	var mu sync.Mutex
	server := embeddingServer(t, &batchSizes, &mu)
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.Embeddings(context.Background(), &EmbeddingRequest{
		Texts: []string{"a", "bb", "ccc"},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{3}, batchSizes)
	assert.Equal(t, "text-embedding-v2", resp.Model)
	require.Len(t, resp.Embeddings, 3)
	assert.Equal(t, []float64{2}, resp.Embeddings[1].Vector)
	assert.Equal(t, 3, resp.TotalTokens)
}

func TestEmbeddings_SplitsBatches(t *testing.T) {
	var batchSizes []int
	var mu sync.Mutex
	server := embeddingServer(t, &batchSizes, &mu)
	defer server.Close()

	texts := make([]string, 60)
	for i := range texts {
		// 文本长度编码原始下标，校验合并后的顺序
		texts[i] = fmt.Sprintf("%0*d", i+1, 0)
	}

	c := newTestClient(t, server.URL)
	resp, err := c.Embeddings(context.Background(), &EmbeddingRequest{
		Model: "text-embedding-v3",
		Texts: texts,
	})
	require.NoError(t, err)

	// 60 条按 25 上限拆为 25+25+10
	assert.ElementsMatch(t, []int{25, 25, 10}, batchSizes)

	require.Len(t, resp.Embeddings, 60)
	for i, e := range resp.Embeddings {
		assert.Equal(t, i, e.TextIndex)
		assert.Equal(t, []float64{float64(i + 1)}, e.Vector, "vector at index %d", i)
	}
	assert.Equal(t, 60, resp.TotalTokens)
}

func TestEmbeddings_EmptyInput(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	_, err := c.Embeddings(context.Background(), &EmbeddingRequest{})
	require.Error(t, err)

	var dsErr *Error
	require.ErrorAs(t, err, &dsErr)
	assert.Equal(t, ErrInvalidRequest, dsErr.Code)
}

func TestEmbedDocuments(t *testing.T) {
	var batchSizes []int
	var mu sync.Mutex
	server := embeddingServer(t, &batchSizes, &mu)
	defer server.Close()

	c := newTestClient(t, server.URL)
	vectors, err := c.EmbedDocuments(context.Background(), "", []string{"x", "yy"})
	require.NoError(t, err)

	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{1}, vectors[0])
	assert.Equal(t, []float64{2}, vectors[1])
}

func TestEmbedQuery(t *testing.T) {
	var gotTextType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body wireEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotTextType = body.Parameters.TextType
		fmt.Fprint(w, `{"output":{"embeddings":[{"text_index":0,"embedding":[0.1,0.2]}]},"usage":{"total_tokens":2}}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	vec, err := c.EmbedQuery(context.Background(), "", "什么是向量检索")
	require.NoError(t, err)

	assert.Equal(t, "query", gotTextType)
	assert.Equal(t, []float64{0.1, 0.2}, vec)
}

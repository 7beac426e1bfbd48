package dashscope

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// embeddingBatchSize 是 DashScope 文本向量接口单次请求的输入上限。
const embeddingBatchSize = 25

// EmbeddingRequest 文本向量化请求。
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
	// TextType 为 "query" 或 "document"，影响检索场景下的向量分布。
	TextType string `json:"text_type,omitempty"`
	// Dimension 可选输出维度（text-embedding-v3 起支持）。
	Dimension int `json:"dimension,omitempty"`
	// Parallelism 批次并发度，默认 4。
	Parallelism int `json:"-"`
}

// Embedding 单条向量结果。
type Embedding struct {
	TextIndex int       `json:"text_index"`
	Vector    []float64 `json:"embedding"`
}

// EmbeddingResponse 向量化响应，Embeddings 与输入 Texts 对齐。
type EmbeddingResponse struct {
	Model       string      `json:"model"`
	Embeddings  []Embedding `json:"embeddings"`
	TotalTokens int         `json:"total_tokens"`
	RequestID   string      `json:"request_id,omitempty"`
}

type wireEmbeddingRequest struct {
	Model string `json:"model"`
	Input struct {
		Texts []string `json:"texts"`
	} `json:"input"`
	Parameters struct {
		TextType  string `json:"text_type,omitempty"`
		Dimension int    `json:"dimension,omitempty"`
	} `json:"parameters"`
}

type wireEmbeddingResponse struct {
	RequestID string `json:"request_id"`
	Output    struct {
		Embeddings []Embedding `json:"embeddings"`
	} `json:"output"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embeddings 调用文本向量化接口。
//
// 超过单次上限（25 条）的输入自动分批，批次间通过 errgroup 并发执行，
// 结果按输入顺序合并。默认模型为 text-embedding-v2。
func (c *Client) Embeddings(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if len(req.Texts) == 0 {
		return nil, &Error{Code: ErrInvalidRequest, Message: "embeddings: texts must not be empty", HTTPStatus: http.StatusBadRequest}
	}

	model := chooseModel(req.Model, "text-embedding-v2")

	// 单批次快速路径
	if len(req.Texts) <= embeddingBatchSize {
		return c.embedBatch(ctx, model, req, req.Texts, 0)
	}

	parallelism := req.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}

	type batchOut struct {
		offset int
		resp   *EmbeddingResponse
	}

	batches := make([]batchOut, 0, (len(req.Texts)+embeddingBatchSize-1)/embeddingBatchSize)
	for offset := 0; offset < len(req.Texts); offset += embeddingBatchSize {
		batches = append(batches, batchOut{offset: offset})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i := range batches {
		b := &batches[i]
		g.Go(func() error {
			end := b.offset + embeddingBatchSize
			if end > len(req.Texts) {
				end = len(req.Texts)
			}
			resp, err := c.embedBatch(gctx, model, req, req.Texts[b.offset:end], b.offset)
			if err != nil {
				return err
			}
			b.resp = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &EmbeddingResponse{
		Model:      model,
		Embeddings: make([]Embedding, 0, len(req.Texts)),
	}
	for _, b := range batches {
		out.Embeddings = append(out.Embeddings, b.resp.Embeddings...)
		out.TotalTokens += b.resp.TotalTokens
		out.RequestID = b.resp.RequestID
	}
	return out, nil
}

// EmbedDocuments 是 Embeddings 的便捷包装，返回与输入对齐的向量切片。
func (c *Client) EmbedDocuments(ctx context.Context, model string, texts []string) ([][]float64, error) {
	resp, err := c.Embeddings(ctx, &EmbeddingRequest{Model: model, Texts: texts, TextType: "document"})
	if err != nil {
		return nil, err
	}
	vectors := make([][]float64, len(texts))
	for _, e := range resp.Embeddings {
		if e.TextIndex >= 0 && e.TextIndex < len(vectors) {
			vectors[e.TextIndex] = e.Vector
		}
	}
	return vectors, nil
}

// EmbedQuery 对单条查询文本向量化。
func (c *Client) EmbedQuery(ctx context.Context, model, text string) ([]float64, error) {
	resp, err := c.Embeddings(ctx, &EmbeddingRequest{Model: model, Texts: []string{text}, TextType: "query"})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, &Error{Code: ErrUpstreamError, Message: "embeddings: empty result", Retryable: true}
	}
	return resp.Embeddings[0].Vector, nil
}

func (c *Client) embedBatch(ctx context.Context, model string, req *EmbeddingRequest, texts []string, offset int) (*EmbeddingResponse, error) {
	var body wireEmbeddingRequest
	body.Model = model
	body.Input.Texts = texts
	body.Parameters.TextType = req.TextType
	body.Parameters.Dimension = req.Dimension

	httpReq, err := c.newJSONRequest(ctx, http.MethodPost,
		c.apiURL("/services/embeddings/text-embedding/text-embedding"), body)
	if err != nil {
		return nil, err
	}

	var w wireEmbeddingResponse
	if err := c.doJSON("embeddings", httpReq, &w); err != nil {
		return nil, err
	}

	out := &EmbeddingResponse{
		Model:       model,
		Embeddings:  make([]Embedding, 0, len(w.Output.Embeddings)),
		TotalTokens: w.Usage.TotalTokens,
		RequestID:   w.RequestID,
	}
	// text_index 是批内偏移，合并时换算为全局偏移。
	for _, e := range w.Output.Embeddings {
		out.Embeddings = append(out.Embeddings, Embedding{
			TextIndex: e.TextIndex + offset,
			Vector:    e.Vector,
		})
	}
	c.metrics.RecordTokens(model, "embedding", w.Usage.TotalTokens)
	return out, nil
}

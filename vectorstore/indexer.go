package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tongyi-community/dashscope-go/document"
)

// Embedder 把文本转为向量。*dashscope.Client 满足该接口。
type Embedder interface {
	EmbedDocuments(ctx context.Context, model string, texts []string) ([][]float64, error)
	EmbedQuery(ctx context.Context, model, text string) ([]float64, error)
}

// Indexer 入库流水线：切片 → embedding → 写入 Store，查询时 embedding → 检索。
type Indexer struct {
	embedder Embedder
	store    Store
	chunker  *document.Chunker
	model    string
	logger   *zap.Logger
}

// NewIndexer 创建入库流水线。chunker 为 nil 时不做切片。
func NewIndexer(embedder Embedder, store Store, chunker *document.Chunker, model string, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		embedder: embedder,
		store:    store,
		chunker:  chunker,
		model:    model,
		logger:   logger.With(zap.String("component", "indexer")),
	}
}

// Index 切片并向量化后写入存储，返回实际入库的切片数。
func (ix *Indexer) Index(ctx context.Context, docs []document.Document) (int, error) {
	chunks := docs
	if ix.chunker != nil {
		var err error
		chunks, err = ix.chunker.SplitAll(docs)
		if err != nil {
			return 0, fmt.Errorf("indexer: split: %w", err)
		}
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embeddings, err := ix.embedder.EmbedDocuments(ctx, ix.model, texts)
	if err != nil {
		return 0, fmt.Errorf("indexer: embed: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("indexer: got %d embeddings for %d chunks", len(embeddings), len(chunks))
	}

	entries := make([]Entry, len(chunks))
	for i := range chunks {
		entries[i] = Entry{Document: chunks[i], Embedding: embeddings[i]}
	}
	if err := ix.store.Add(ctx, entries); err != nil {
		return 0, fmt.Errorf("indexer: store: %w", err)
	}

	ix.logger.Info("documents indexed",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Query 向量化查询文本并检索 topK 条。
func (ix *Indexer) Query(ctx context.Context, text string, topK int) ([]SearchResult, error) {
	embedding, err := ix.embedder.EmbedQuery(ctx, ix.model, text)
	if err != nil {
		return nil, fmt.Errorf("indexer: embed query: %w", err)
	}
	return ix.store.Search(ctx, embedding, topK)
}

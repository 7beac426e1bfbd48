package vectorstore

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// InMemoryStore 内存向量存储。并发安全，适合测试与小规模应用。
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  *zap.Logger
}

// NewInMemoryStore 创建内存向量存储。
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryStore{
		entries: make(map[string]Entry),
		logger:  logger,
	}
}

// Add 写入记录，同 ID 覆盖。
func (s *InMemoryStore) Add(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.entries[e.Document.ID] = e
	}

	s.logger.Debug("entries added",
		zap.Int("count", len(entries)),
		zap.Int("total", len(s.entries)))
	return nil
}

// Search 全量余弦检索。
func (s *InMemoryStore) Search(ctx context.Context, queryEmbedding []float64, topK int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		topK = 10
	}

	results := make([]SearchResult, 0, len(s.entries))
	for _, e := range s.entries {
		score := cosineSimilarity(queryEmbedding, e.Embedding)
		results = append(results, SearchResult{
			Document: e.Document,
			Score:    score,
			Distance: 1 - score,
		})
	}
	sortByScore(results)

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete 按 ID 删除。
func (s *InMemoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

// Count 返回记录数。
func (s *InMemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

package vectorstore

import (
	"context"
	"math"
	"sort"

	"github.com/tongyi-community/dashscope-go/document"
)

// Entry 入库的一条向量记录。
type Entry struct {
	Document  document.Document `json:"document"`
	Embedding []float64         `json:"embedding"`
}

// SearchResult 检索命中。Score 为余弦相似度，越大越相似。
type SearchResult struct {
	Document document.Document `json:"document"`
	Score    float64           `json:"score"`
	Distance float64           `json:"distance"`
}

// Store 向量存储接口。
type Store interface {
	// Add 写入文档向量。已有同 ID 记录时覆盖。
	Add(ctx context.Context, entries []Entry) error

	// Search 按查询向量检索 topK 条，按相似度降序。
	Search(ctx context.Context, queryEmbedding []float64, topK int) ([]SearchResult, error)

	// Delete 按文档 ID 删除。不存在的 ID 忽略。
	Delete(ctx context.Context, ids []string) error

	// Count 返回存储的记录数。
	Count(ctx context.Context) (int64, error)
}

// cosineSimilarity 余弦相似度。维度不一致或零向量返回 0。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortByScore(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

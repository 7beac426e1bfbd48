package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tongyi-community/dashscope-go/document"
	"github.com/tongyi-community/dashscope-go/internal/metrics"
)

// tairCmdable TairStore 用到的 redis 命令子集，便于测试替换。
type tairCmdable interface {
	Do(ctx context.Context, args ...any) *redis.Cmd
}

// TairConfig 配置 Tair 向量引擎存储。
type TairConfig struct {
	// IndexName 向量索引名，默认 dashscope_index。
	IndexName string `yaml:"index_name" json:"index_name"`
	// Dimension 向量维度，建索引必填。
	Dimension int `yaml:"dimension" json:"dimension"`
	// DistanceMethod 距离度量，默认 COSINE。
	DistanceMethod string `yaml:"distance_method" json:"distance_method"`
	// IndexAlgorithm 索引算法，默认 HNSW。
	IndexAlgorithm string `yaml:"index_algorithm" json:"index_algorithm"`
}

// TairStore 基于 Tair 向量引擎（TairVector）的存储。
// 数据走 TVS.HSET / TVS.KNNSEARCH / TVS.DEL 命令族。
type TairStore struct {
	client  tairCmdable
	cfg     TairConfig
	logger  *zap.Logger
	metrics *metrics.Collector
}

// TairOption customizes a TairStore.
type TairOption func(*TairStore)

// WithTairMetrics sets the metrics collector.
func WithTairMetrics(m *metrics.Collector) TairOption {
	return func(s *TairStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewTairStore 创建 Tair 向量存储。client 由调用方管理生命周期。
func NewTairStore(client redis.UniversalClient, cfg TairConfig, logger *zap.Logger, opts ...TairOption) (*TairStore, error) {
	if client == nil {
		return nil, errors.New("tair: client cannot be nil")
	}
	return newTairStore(client, cfg, logger, opts...)
}

func newTairStore(client tairCmdable, cfg TairConfig, logger *zap.Logger, opts ...TairOption) (*TairStore, error) {
	if cfg.IndexName == "" {
		cfg.IndexName = "dashscope_index"
	}
	if cfg.DistanceMethod == "" {
		cfg.DistanceMethod = "COSINE"
	}
	if cfg.IndexAlgorithm == "" {
		cfg.IndexAlgorithm = "HNSW"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &TairStore{
		client:  client,
		cfg:     cfg,
		logger:  logger.With(zap.String("store", "tair")),
		metrics: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureIndex 创建向量索引，已存在时不报错。
func (s *TairStore) EnsureIndex(ctx context.Context) error {
	if s.cfg.Dimension <= 0 {
		return errors.New("tair: dimension must be positive to create an index")
	}

	err := s.client.Do(ctx,
		"TVS.CREATEINDEX", s.cfg.IndexName, s.cfg.Dimension,
		s.cfg.IndexAlgorithm, s.cfg.DistanceMethod,
	).Err()
	if err != nil && !strings.Contains(err.Error(), "already exist") {
		return fmt.Errorf("tair: create index %s: %w", s.cfg.IndexName, err)
	}

	s.logger.Info("vector index ready",
		zap.String("index", s.cfg.IndexName),
		zap.Int("dimension", s.cfg.Dimension))
	return nil
}

// Add 写入向量，同 key 覆盖。
func (s *TairStore) Add(ctx context.Context, entries []Entry) error {
	start := time.Now()
	defer func() { s.metrics.RecordVectorStoreOp("tair", "add", time.Since(start)) }()

	for _, e := range entries {
		if s.cfg.Dimension > 0 && len(e.Embedding) != s.cfg.Dimension {
			return fmt.Errorf("tair: embedding dimension %d != expected %d (doc %s)",
				len(e.Embedding), s.cfg.Dimension, e.Document.ID)
		}

		meta, err := json.Marshal(e.Document.Metadata)
		if err != nil {
			return fmt.Errorf("tair: marshal metadata for %s: %w", e.Document.ID, err)
		}

		err = s.client.Do(ctx,
			"TVS.HSET", s.cfg.IndexName, e.Document.ID,
			"VECTOR", encodeVector(e.Embedding),
			"content", e.Document.Text,
			"metadata", string(meta),
		).Err()
		if err != nil {
			return fmt.Errorf("tair: hset %s: %w", e.Document.ID, err)
		}
	}

	s.logger.Debug("entries added", zap.Int("count", len(entries)))
	return nil
}

// Search KNN 检索。Tair 返回 [key1, dist1, key2, dist2, ...] 扁平对。
func (s *TairStore) Search(ctx context.Context, queryEmbedding []float64, topK int) ([]SearchResult, error) {
	start := time.Now()
	defer func() { s.metrics.RecordVectorStoreOp("tair", "search", time.Since(start)) }()

	if topK <= 0 {
		topK = 10
	}

	res, err := s.client.Do(ctx,
		"TVS.KNNSEARCH", s.cfg.IndexName, topK, encodeVector(queryEmbedding),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("tair: knnsearch: %w", err)
	}

	results := make([]SearchResult, 0, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		key := toString(res[i])
		distance, err := toFloat(res[i+1])
		if err != nil {
			return nil, fmt.Errorf("tair: bad distance for %s: %w", key, err)
		}

		doc, err := s.fetchDocument(ctx, key)
		if err != nil {
			return nil, err
		}

		results = append(results, SearchResult{
			Document: doc,
			Score:    1 - distance,
			Distance: distance,
		})
	}
	return results, nil
}

// fetchDocument 取回命中 key 的正文与元数据。
func (s *TairStore) fetchDocument(ctx context.Context, key string) (document.Document, error) {
	res, err := s.client.Do(ctx, "TVS.HMGET", s.cfg.IndexName, key, "content", "metadata").Slice()
	if err != nil {
		return document.Document{}, fmt.Errorf("tair: hmget %s: %w", key, err)
	}

	doc := document.Document{ID: key}
	if len(res) > 0 && res[0] != nil {
		doc.Text = toString(res[0])
	}
	if len(res) > 1 && res[1] != nil {
		var meta map[string]any
		if err := json.Unmarshal([]byte(toString(res[1])), &meta); err == nil {
			doc.Metadata = meta
		} else {
			s.logger.Warn("bad metadata json", zap.String("key", key), zap.Error(err))
		}
	}
	return doc, nil
}

// Delete 按 key 删除。
func (s *TairStore) Delete(ctx context.Context, ids []string) error {
	start := time.Now()
	defer func() { s.metrics.RecordVectorStoreOp("tair", "delete", time.Since(start)) }()

	for _, id := range ids {
		if err := s.client.Do(ctx, "TVS.DEL", s.cfg.IndexName, id).Err(); err != nil {
			return fmt.Errorf("tair: del %s: %w", id, err)
		}
	}
	return nil
}

// Count 通过 TVS.SCAN 游标遍历统计 key 数。
func (s *TairStore) Count(ctx context.Context) (int64, error) {
	var count int64
	cursor := "0"
	for {
		res, err := s.client.Do(ctx, "TVS.SCAN", s.cfg.IndexName, cursor, "COUNT", 1000).Slice()
		if err != nil {
			return 0, fmt.Errorf("tair: scan: %w", err)
		}
		if len(res) != 2 {
			return 0, fmt.Errorf("tair: unexpected scan reply of %d elements", len(res))
		}

		cursor = toString(res[0])
		if keys, ok := res[1].([]any); ok {
			count += int64(len(keys))
		}
		if cursor == "0" {
			break
		}
	}
	return count, nil
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v any) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case string:
		return strconv.ParseFloat(f, 64)
	case []byte:
		return strconv.ParseFloat(string(f), 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

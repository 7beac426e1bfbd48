package document

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// ChunkerConfig 分块配置。尺寸以 token 计。
type ChunkerConfig struct {
	// ChunkSize 单块 token 上限，默认 512。
	ChunkSize int `json:"chunk_size"`
	// ChunkOverlap 相邻块间重叠的 token 数。0 表示取默认值（ChunkSize 的 20%）。
	ChunkOverlap int `json:"chunk_overlap"`
	// MinChunkSize 小于该值的尾块并入前块，默认 50。
	MinChunkSize int `json:"min_chunk_size"`
	// Encoding tiktoken 编码名，默认 cl100k_base。
	Encoding string `json:"encoding"`
}

// DefaultChunkerConfig 默认分块配置。
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:    512,
		ChunkOverlap: 102,
		MinChunkSize: 50,
		Encoding:     "cl100k_base",
	}
}

// Chunker token 感知的文档分块器。并发安全。
type Chunker struct {
	cfg    ChunkerConfig
	logger *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewChunker 创建分块器。零值字段按 DefaultChunkerConfig 补齐。
func NewChunker(cfg ChunkerConfig, logger *zap.Logger) *Chunker {
	def := DefaultChunkerConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap <= 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{cfg: cfg, logger: logger}
}

// init lazily 初始化 tiktoken 编码（首次使用时可能下载数据）。
func (c *Chunker) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.cfg.Encoding)
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding %s: %w", c.cfg.Encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// CountTokens 返回文本的 token 数。
func (c *Chunker) CountTokens(text string) (int, error) {
	if err := c.init(); err != nil {
		return 0, err
	}
	return len(c.enc.Encode(text, nil, nil)), nil
}

// Split 将文档按 token 窗口切片，重叠 ChunkOverlap 个 token。
// 每个切片继承原文档的 Metadata，并追加 chunk_index / parent_id。
func (c *Chunker) Split(doc Document) ([]Document, error) {
	if err := c.init(); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return nil, nil
	}

	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= c.cfg.ChunkSize {
		chunk := New(text, cloneMetadata(doc.Metadata))
		chunk.Metadata["parent_id"] = doc.ID
		chunk.Metadata["chunk_index"] = 0
		return []Document{chunk}, nil
	}

	step := c.cfg.ChunkSize - c.cfg.ChunkOverlap
	var chunks []Document
	for start := 0; start < len(tokens); start += step {
		end := start + c.cfg.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}

		// 尾块太碎就并入上一块
		if len(chunks) > 0 && end-start < c.cfg.MinChunkSize {
			prevStart := (len(chunks) - 1) * step
			merged := &chunks[len(chunks)-1]
			merged.Text = c.enc.Decode(tokens[prevStart:end])
			break
		}

		chunk := New(c.enc.Decode(tokens[start:end]), cloneMetadata(doc.Metadata))
		chunk.Metadata["parent_id"] = doc.ID
		chunk.Metadata["chunk_index"] = len(chunks)
		chunks = append(chunks, chunk)

		if end == len(tokens) {
			break
		}
	}

	c.logger.Debug("document split",
		zap.String("doc_id", doc.ID),
		zap.Int("tokens", len(tokens)),
		zap.Int("chunks", len(chunks)),
	)
	return chunks, nil
}

// SplitAll 依次切分多份文档。
func (c *Chunker) SplitAll(docs []Document) ([]Document, error) {
	var out []Document
	for _, doc := range docs {
		chunks, err := c.Split(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

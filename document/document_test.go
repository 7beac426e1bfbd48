package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	doc := New("hello", map[string]any{"source": "test"})
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "hello", doc.Text)
	assert.Equal(t, "test", doc.Metadata["source"])

	// nil metadata 也要可写
	doc2 := New("world", nil)
	doc2.Metadata["k"] = "v"
	assert.NotEqual(t, doc.ID, doc2.ID)
}

func TestNewChunker_ZeroValueDefaults(t *testing.T) {
	c := NewChunker(ChunkerConfig{}, nil)
	def := DefaultChunkerConfig()
	assert.Equal(t, def.ChunkSize, c.cfg.ChunkSize)
	assert.Equal(t, def.ChunkSize/5, c.cfg.ChunkOverlap)
	assert.Equal(t, def.MinChunkSize, c.cfg.MinChunkSize)
	assert.Equal(t, def.Encoding, c.cfg.Encoding)

	// 显式 overlap 不被默认值覆盖
	c2 := NewChunker(ChunkerConfig{ChunkSize: 100, ChunkOverlap: 10}, nil)
	assert.Equal(t, 10, c2.cfg.ChunkOverlap)
}

func TestChunker_Split_ShortText(t *testing.T) {
	c := NewChunker(ChunkerConfig{}, nil)

	doc := New("短文本不需要切分。", map[string]any{"source": "test"})
	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, doc.Text, chunks[0].Text)
	assert.Equal(t, doc.ID, chunks[0].Metadata["parent_id"])
	assert.Equal(t, 0, chunks[0].Metadata["chunk_index"])
	// 原文档 metadata 不被污染
	assert.NotContains(t, doc.Metadata, "chunk_index")
}

func TestChunker_Split_LongText(t *testing.T) {
	c := NewChunker(ChunkerConfig{ChunkSize: 64, ChunkOverlap: 16, MinChunkSize: 8}, nil)

	doc := New(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 60), nil)
	chunks, err := c.Split(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Metadata["chunk_index"])
		assert.Equal(t, doc.ID, chunk.Metadata["parent_id"])

		// 尾块可能并入少量碎片，上限放宽 MinChunkSize
		n, err := c.CountTokens(chunk.Text)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 64+8)
	}

	// 相邻块之间有重叠：块 i 的尾部出现在块 i+1 里
	for i := 0; i < len(chunks)-1; i++ {
		tail := chunks[i].Text[len(chunks[i].Text)-10:]
		assert.Contains(t, chunks[i+1].Text, strings.TrimSpace(tail))
	}
}

func TestChunker_Split_EmptyText(t *testing.T) {
	c := NewChunker(ChunkerConfig{}, nil)
	chunks, err := c.Split(New("   \n  ", nil))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunker_SplitAll(t *testing.T) {
	c := NewChunker(ChunkerConfig{ChunkSize: 32, ChunkOverlap: 4}, nil)
	docs := []Document{
		New(strings.Repeat("alpha beta gamma delta. ", 30), nil),
		New("tiny", nil),
	}
	chunks, err := c.SplitAll(docs)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 2)
}

package document

import (
	"context"

	"github.com/google/uuid"
)

// Document 一份待索引的文档。Metadata 里保留来源信息（URL、作者等）。
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// New 创建文档并分配 ID。
func New(text string, metadata map[string]any) Document {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return Document{
		ID:       uuid.NewString(),
		Text:     text,
		Metadata: metadata,
	}
}

// Reader 从某个来源读取文档。source 的含义由实现决定：
// 视频地址、文章 URL 或本地文件路径。
type Reader interface {
	Read(ctx context.Context, source string) ([]Document, error)
}

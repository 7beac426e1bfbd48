package document

import (
	"context"

	"github.com/tongyi-community/dashscope-go/dashscope/files"
)

// CloudReader 通过 DashScope 文档中心解析本地文件（PDF/Word/PPT 等），
// source 为本地文件路径。
type CloudReader struct {
	client   *files.Client
	category string
}

// NewCloudReader 创建云端解析读取器。category 为空时用 files.DefaultCategory。
func NewCloudReader(client *files.Client, category string) *CloudReader {
	if category == "" {
		category = files.DefaultCategory
	}
	return &CloudReader{client: client, category: category}
}

// Read 上传文件并等待云端解析，返回单份文档。
func (r *CloudReader) Read(ctx context.Context, source string) ([]Document, error) {
	parsed, err := r.client.ParseFile(ctx, r.category, source)
	if err != nil {
		return nil, err
	}

	doc := New(parsed.Text, map[string]any{
		"source":  "dashscope_docmind",
		"file_id": parsed.FileID,
		"name":    parsed.Name,
	})
	return []Document{doc}, nil
}

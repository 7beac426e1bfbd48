package document

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/tongyi-community/dashscope-go/internal/tlsutil"
)

// CSDNConfig 配置 CSDN 博客读取器。
type CSDNConfig struct {
	Timeout   time.Duration `json:"timeout"`
	UserAgent string        `json:"user_agent"`
}

// CSDNReader 抽取 CSDN 博客文章的标题与正文纯文本。
type CSDNReader struct {
	cfg    CSDNConfig
	client *http.Client
	logger *zap.Logger
}

// NewCSDNReader 创建 CSDN 读取器。
func NewCSDNReader(cfg CSDNConfig, logger *zap.Logger) *CSDNReader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) dashscope-go"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSDNReader{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("reader", "csdn")),
	}
}

// Read 抓取文章页面并抽取正文，返回单份文档。
func (r *CSDNReader) Read(ctx context.Context, source string) ([]Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("csdn fetch %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("csdn fetch %s: unexpected status %d", source, resp.StatusCode)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("csdn parse %s: %w", source, err)
	}

	title := extractText(findByID(root, "articleContentId"))
	if title == "" {
		title = extractText(findByTag(root, "h1"))
	}

	content := findByID(root, "content_views")
	if content == nil {
		content = findByID(root, "article_content")
	}
	if content == nil {
		return nil, fmt.Errorf("csdn parse %s: article body not found", source)
	}

	text := extractText(content)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("csdn parse %s: empty article body", source)
	}

	r.logger.Debug("article extracted",
		zap.String("url", source),
		zap.String("title", title),
		zap.Int("text_len", len(text)),
	)

	doc := New(strings.TrimSpace(title+"\n\n"+text), map[string]any{
		"source": "csdn",
		"url":    source,
		"title":  title,
	})
	return []Document{doc}, nil
}

// findByID 深度优先找 id 属性匹配的节点。
func findByID(n *html.Node, id string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func findByTag(n *html.Node, tag string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByTag(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// extractText 收集子树内的文本，块级元素后补换行，跳过脚本/样式。
func extractText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			sb.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if node.Type == html.ElementNode {
			switch node.Data {
			case "p", "div", "br", "li", "pre", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
				sb.WriteString("\n")
			}
		}
	}
	walk(n)

	// 压掉多余空行
	lines := strings.Split(sb.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

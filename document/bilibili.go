package document

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tongyi-community/dashscope-go/internal/tlsutil"
)

// BilibiliConfig 配置 B 站视频读取器。
type BilibiliConfig struct {
	// APIBaseURL 默认 https://api.bilibili.com。
	APIBaseURL string `json:"api_base_url"`
	// IncludeSubtitles 为 true 时抓取并拼接 CC 字幕。
	IncludeSubtitles bool          `json:"include_subtitles"`
	Timeout          time.Duration `json:"timeout"`
	UserAgent        string        `json:"user_agent"`
}

// DefaultBilibiliConfig 返回默认配置。
func DefaultBilibiliConfig() BilibiliConfig {
	return BilibiliConfig{
		APIBaseURL:       "https://api.bilibili.com",
		IncludeSubtitles: true,
		Timeout:          30 * time.Second,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) dashscope-go",
	}
}

// BilibiliReader 抓取 B 站视频的标题、简介与字幕，合成一份文档。
type BilibiliReader struct {
	cfg    BilibiliConfig
	client *http.Client
	logger *zap.Logger
}

// NewBilibiliReader 创建 B 站读取器。
func NewBilibiliReader(cfg BilibiliConfig, logger *zap.Logger) *BilibiliReader {
	def := DefaultBilibiliConfig()
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = def.APIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BilibiliReader{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("reader", "bilibili")),
	}
}

var bvidPattern = regexp.MustCompile(`(BV[0-9A-Za-z]{10})`)

// extractBVID 从视频地址或裸 BV 号中提取 BVID。
func extractBVID(source string) (string, error) {
	if m := bvidPattern.FindString(source); m != "" {
		return m, nil
	}
	return "", fmt.Errorf("bilibili: no BV id found in %q", source)
}

type biliViewResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Bvid  string `json:"bvid"`
		Aid   int64  `json:"aid"`
		Cid   int64  `json:"cid"`
		Title string `json:"title"`
		Desc  string `json:"desc"`
		Owner struct {
			Name string `json:"name"`
		} `json:"owner"`
	} `json:"data"`
}

type biliPlayerResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Subtitle struct {
			Subtitles []struct {
				Lan         string `json:"lan"`
				SubtitleURL string `json:"subtitle_url"`
			} `json:"subtitles"`
		} `json:"subtitle"`
	} `json:"data"`
}

type biliSubtitleBody struct {
	Body []struct {
		From    float64 `json:"from"`
		To      float64 `json:"to"`
		Content string  `json:"content"`
	} `json:"body"`
}

// Read 读取视频信息（可选字幕），返回单份文档。
// source 可为完整 URL 或裸 BV 号。
func (r *BilibiliReader) Read(ctx context.Context, source string) ([]Document, error) {
	bvid, err := extractBVID(source)
	if err != nil {
		return nil, err
	}

	view, err := r.fetchView(ctx, bvid)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(view.Data.Title)
	sb.WriteString("\n\n")
	sb.WriteString(view.Data.Desc)

	if r.cfg.IncludeSubtitles {
		transcript, err := r.fetchTranscript(ctx, view.Data.Aid, view.Data.Cid)
		if err != nil {
			// 无字幕不算失败，正文退化为标题+简介
			r.logger.Warn("subtitle fetch failed", zap.String("bvid", bvid), zap.Error(err))
		} else if transcript != "" {
			sb.WriteString("\n\n")
			sb.WriteString(transcript)
		}
	}

	doc := New(sb.String(), map[string]any{
		"source": "bilibili",
		"bvid":   view.Data.Bvid,
		"title":  view.Data.Title,
		"author": view.Data.Owner.Name,
	})
	return []Document{doc}, nil
}

func (r *BilibiliReader) fetchView(ctx context.Context, bvid string) (*biliViewResponse, error) {
	u := fmt.Sprintf("%s/x/web-interface/view?bvid=%s", r.cfg.APIBaseURL, url.QueryEscape(bvid))

	var view biliViewResponse
	if err := r.getJSON(ctx, u, &view); err != nil {
		return nil, fmt.Errorf("bilibili view %s: %w", bvid, err)
	}
	if view.Code != 0 {
		return nil, fmt.Errorf("bilibili view %s: code=%d message=%s", bvid, view.Code, view.Message)
	}
	return &view, nil
}

// fetchTranscript 取第一条可用字幕并拼接成整段文本。
func (r *BilibiliReader) fetchTranscript(ctx context.Context, aid, cid int64) (string, error) {
	u := fmt.Sprintf("%s/x/player/v2?aid=%d&cid=%d", r.cfg.APIBaseURL, aid, cid)

	var player biliPlayerResponse
	if err := r.getJSON(ctx, u, &player); err != nil {
		return "", err
	}
	if player.Code != 0 {
		return "", fmt.Errorf("player api: code=%d message=%s", player.Code, player.Message)
	}
	if len(player.Data.Subtitle.Subtitles) == 0 {
		return "", nil
	}

	subURL := player.Data.Subtitle.Subtitles[0].SubtitleURL
	if strings.HasPrefix(subURL, "//") {
		subURL = "https:" + subURL
	}

	var body biliSubtitleBody
	if err := r.getJSON(ctx, subURL, &body); err != nil {
		return "", err
	}

	lines := make([]string, 0, len(body.Body))
	for _, line := range body.Body {
		if line.Content != "" {
			lines = append(lines, line.Content)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (r *BilibiliReader) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", r.cfg.UserAgent)
	req.Header.Set("Referer", "https://www.bilibili.com")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

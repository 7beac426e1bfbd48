package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tongyi-community/dashscope-go/dashscope"
)

// RecognitionConfig 配置语音识别任务。
type RecognitionConfig struct {
	// Model 识别模型，默认 paraformer-realtime-v2。
	Model string `yaml:"model" json:"model"`
	// Format 音频格式：pcm/wav/opus，默认 pcm。
	Format string `yaml:"format" json:"format,omitempty"`
	// SampleRate 采样率，默认 16000。
	SampleRate int `yaml:"sample_rate" json:"sample_rate,omitempty"`
	// ChunkSize 每个二进制帧的字节数，默认 3200（16kHz 16bit 单声道 100ms）。
	ChunkSize int `yaml:"chunk_size" json:"chunk_size,omitempty"`
	// LanguageHints 语种提示，如 ["zh","en"]。
	LanguageHints []string `yaml:"language_hints" json:"language_hints,omitempty"`
	// DisfluencyRemoval 过滤语气词。
	DisfluencyRemoval bool `yaml:"disfluency_removal" json:"disfluency_removal,omitempty"`
}

// Sentence 一句识别结果。SentenceEnd 为 true 表示断句完成，
// 否则为中间增量。
type Sentence struct {
	Text        string `json:"text"`
	BeginTime   int64  `json:"begin_time"`
	EndTime     int64  `json:"end_time"`
	SentenceEnd bool   `json:"sentence_end"`
}

// RecognitionResult 整段识别结果。
type RecognitionResult struct {
	TaskID string `json:"task_id"`
	// Sentences 已完成断句的句子序列。
	Sentences []Sentence `json:"sentences"`
}

// Text 拼接所有完成句子的文本。
func (r *RecognitionResult) Text() string {
	parts := make([]string, 0, len(r.Sentences))
	for _, s := range r.Sentences {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "")
}

// Recognizer 流式语音识别器。
// 单个实例串行使用；一次 Recognize 对应协议里的一个任务。
type Recognizer struct {
	conn   *Conn
	cfg    RecognitionConfig
	logger *zap.Logger
}

// NewRecognizer 创建语音识别器。
func NewRecognizer(conn *Conn, cfg RecognitionConfig, logger *zap.Logger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "paraformer-realtime-v2"
	}
	if cfg.Format == "" {
		cfg.Format = "pcm"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 3200
	}
	return &Recognizer{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "recognizer")),
	}
}

// Recognize 识别整段音频并返回完整结果。
func (r *Recognizer) Recognize(ctx context.Context, audio io.Reader) (*RecognitionResult, error) {
	return r.RecognizeStream(ctx, audio, nil)
}

// RecognizeStream 识别音频流。onSentence 非 nil 时每个事件回调一次
// （包含中间增量）；回调返回错误终止任务。
//
// 音频上行与事件下行并发进行：发送方按 ChunkSize 切帧推送，
// 读完后发 finish-task；接收方消费 result-generated 直到 task-finished。
func (r *Recognizer) RecognizeStream(ctx context.Context, audio io.Reader, onSentence func(Sentence) error) (*RecognitionResult, error) {
	taskID := uuid.NewString()
	logger := r.logger.With(zap.String("task_id", taskID))

	params := map[string]any{
		"format":      r.cfg.Format,
		"sample_rate": r.cfg.SampleRate,
	}
	if len(r.cfg.LanguageHints) > 0 {
		params["language_hints"] = r.cfg.LanguageHints
	}
	if r.cfg.DisfluencyRemoval {
		params["disfluency_removal_enabled"] = true
	}

	run := &frame{
		Header: frameHeader{Action: ActionRunTask, TaskID: taskID, Streaming: "duplex"},
		Payload: framePayload{
			TaskGroup:  "audio",
			Task:       "asr",
			Function:   "recognition",
			Model:      r.cfg.Model,
			Parameters: params,
			Input:      map[string]any{},
		},
	}
	if err := r.conn.writeFrame(ctx, run); err != nil {
		return nil, err
	}

	if err := r.awaitStarted(ctx, taskID); err != nil {
		return nil, err
	}

	result := &RecognitionResult{TaskID: taskID}

	g, gctx := errgroup.WithContext(ctx)

	// 上行：音频分帧推送
	g.Go(func() error {
		buf := make([]byte, r.cfg.ChunkSize)
		for {
			n, err := audio.Read(buf)
			if n > 0 {
				if werr := r.conn.writeBinary(gctx, buf[:n]); werr != nil {
					return werr
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return fmt.Errorf("asr: read audio: %w", err)
			}
		}

		fin := &frame{
			Header:  frameHeader{Action: ActionFinishTask, TaskID: taskID},
			Payload: framePayload{Input: map[string]any{}},
		}
		return r.conn.writeFrame(gctx, fin)
	})

	// 下行：事件消费
	g.Go(func() error {
		for {
			msg, err := r.conn.readMessage(gctx)
			if err != nil {
				return &dashscope.Error{Code: dashscope.ErrUpstreamError, Message: err.Error(), Retryable: true}
			}
			if msg.Event == nil {
				continue
			}

			ev := msg.Event
			switch ev.Header.Event {
			case EventResultGenerated:
				sentence, ok := parseSentence(ev.Payload.Output)
				if !ok {
					continue
				}
				if onSentence != nil {
					if cerr := onSentence(sentence); cerr != nil {
						return fmt.Errorf("asr: sentence callback: %w", cerr)
					}
				}
				if sentence.SentenceEnd {
					result.Sentences = append(result.Sentences, sentence)
				}
			case EventTaskFinished:
				logger.Info("recognition finished", zap.Int("sentences", len(result.Sentences)))
				return nil
			case EventTaskFailed:
				return taskError(ev)
			}
		}
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Recognizer) awaitStarted(ctx context.Context, taskID string) error {
	for {
		msg, err := r.conn.readMessage(ctx)
		if err != nil {
			return &dashscope.Error{Code: dashscope.ErrUpstreamError, Message: err.Error(), Retryable: true}
		}
		if msg.Event == nil {
			continue
		}
		switch msg.Event.Header.Event {
		case EventTaskStarted:
			return nil
		case EventTaskFailed:
			return taskError(msg.Event)
		}
	}
}

func parseSentence(raw json.RawMessage) (Sentence, bool) {
	if len(raw) == 0 {
		return Sentence{}, false
	}
	var out struct {
		Sentence Sentence `json:"sentence"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Sentence{}, false
	}
	if out.Sentence.Text == "" && !out.Sentence.SentenceEnd {
		return Sentence{}, false
	}
	return out.Sentence, true
}

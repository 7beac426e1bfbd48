package audio

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tongyi-community/dashscope-go/dashscope"
)

// SpeechConfig 配置语音合成任务。
type SpeechConfig struct {
	// Model 合成模型，默认 cosyvoice-v1。
	Model string `yaml:"model" json:"model"`
	// Voice 音色，如 longxiaochun。
	Voice string `yaml:"voice" json:"voice,omitempty"`
	// Format 音频格式：pcm/wav/mp3，默认 mp3。
	Format string `yaml:"format" json:"format,omitempty"`
	// SampleRate 采样率，默认 22050。
	SampleRate int `yaml:"sample_rate" json:"sample_rate,omitempty"`
	// Volume 音量 0-100。
	Volume int `yaml:"volume" json:"volume,omitempty"`
	// Rate 语速 0.5-2.0。
	Rate float64 `yaml:"rate" json:"rate,omitempty"`
	// Pitch 语调 0.5-2.0。
	Pitch float64 `yaml:"pitch" json:"pitch,omitempty"`
}

// SpeechResult 合成结果。流式回调模式下 Audio 为空。
type SpeechResult struct {
	TaskID string `json:"task_id"`
	Audio  []byte `json:"-"`
	// Frames 收到的音频帧数。
	Frames int `json:"frames"`
	// Characters 计费字符数（服务端 usage 上报）。
	Characters int `json:"characters,omitempty"`
}

// SpeechSynthesizer 流式语音合成器。
// 单个实例串行使用；一次 Synthesize 对应协议里的一个任务。
type SpeechSynthesizer struct {
	conn   *Conn
	cfg    SpeechConfig
	logger *zap.Logger
}

// NewSpeechSynthesizer 创建语音合成器。
func NewSpeechSynthesizer(conn *Conn, cfg SpeechConfig, logger *zap.Logger) *SpeechSynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "cosyvoice-v1"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 22050
	}
	return &SpeechSynthesizer{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "speech_synthesizer")),
	}
}

// Synthesize 合成文本并缓冲全部音频。
func (s *SpeechSynthesizer) Synthesize(ctx context.Context, text string) (*SpeechResult, error) {
	var buf []byte
	result, err := s.SynthesizeStream(ctx, text, func(chunk []byte) error {
		buf = append(buf, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Audio = buf
	return result, nil
}

// SynthesizeStream 合成文本，每收到一帧音频调用一次 onAudio。
// onAudio 返回错误时终止任务。
func (s *SpeechSynthesizer) SynthesizeStream(ctx context.Context, text string, onAudio func(chunk []byte) error) (*SpeechResult, error) {
	if text == "" {
		return nil, &dashscope.Error{Code: dashscope.ErrInvalidRequest, Message: "tts: text must not be empty"}
	}

	taskID := uuid.NewString()
	logger := s.logger.With(zap.String("task_id", taskID))

	params := map[string]any{
		"text_type":   "PlainText",
		"format":      s.cfg.Format,
		"sample_rate": s.cfg.SampleRate,
	}
	if s.cfg.Voice != "" {
		params["voice"] = s.cfg.Voice
	}
	if s.cfg.Volume > 0 {
		params["volume"] = s.cfg.Volume
	}
	if s.cfg.Rate > 0 {
		params["rate"] = s.cfg.Rate
	}
	if s.cfg.Pitch > 0 {
		params["pitch"] = s.cfg.Pitch
	}

	run := &frame{
		Header: frameHeader{Action: ActionRunTask, TaskID: taskID, Streaming: "duplex"},
		Payload: framePayload{
			TaskGroup:  "audio",
			Task:       "tts",
			Function:   "SpeechSynthesizer",
			Model:      s.cfg.Model,
			Parameters: params,
			Input:      map[string]any{},
		},
	}
	if err := s.conn.writeFrame(ctx, run); err != nil {
		return nil, err
	}

	// 等待 task-started 后才允许推送文本
	if err := s.awaitStarted(ctx, taskID); err != nil {
		return nil, err
	}

	cont := &frame{
		Header:  frameHeader{Action: ActionContinueTask, TaskID: taskID},
		Payload: framePayload{Input: map[string]any{"text": text}},
	}
	if err := s.conn.writeFrame(ctx, cont); err != nil {
		return nil, err
	}

	fin := &frame{
		Header:  frameHeader{Action: ActionFinishTask, TaskID: taskID},
		Payload: framePayload{Input: map[string]any{}},
	}
	if err := s.conn.writeFrame(ctx, fin); err != nil {
		return nil, err
	}

	// 收取音频帧直到 task-finished
	result := &SpeechResult{TaskID: taskID}
	for {
		msg, err := s.conn.readMessage(ctx)
		if err != nil {
			return nil, &dashscope.Error{Code: dashscope.ErrUpstreamError, Message: err.Error(), Retryable: true}
		}

		if msg.Binary != nil {
			result.Frames++
			if err := onAudio(msg.Binary); err != nil {
				return nil, fmt.Errorf("tts: audio callback: %w", err)
			}
			continue
		}

		ev := msg.Event
		switch ev.Header.Event {
		case EventResultGenerated:
			// TTS 的文本事件仅携带时间戳等元数据，忽略
		case EventTaskFinished:
			if usage := parseUsageCharacters(ev.Payload.Usage); usage > 0 {
				result.Characters = usage
			}
			logger.Info("synthesis finished",
				zap.Int("frames", result.Frames),
				zap.Int("characters", result.Characters),
			)
			return result, nil
		case EventTaskFailed:
			return nil, taskError(ev)
		default:
			logger.Warn("unexpected event", zap.String("event", ev.Header.Event))
		}
	}
}

// awaitStarted 等待 task-started，task-failed 立即返回错误。
func (s *SpeechSynthesizer) awaitStarted(ctx context.Context, taskID string) error {
	for {
		msg, err := s.conn.readMessage(ctx)
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

func parseUsageCharacters(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var u struct {
		Characters int `json:"characters"`
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return 0
	}
	return u.Characters
}

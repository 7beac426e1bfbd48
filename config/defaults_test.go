package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func zapDebugLevel() zapcore.Level { return zapcore.DebugLevel }

func TestDefaultConfig_AllSectionsPopulated(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEqual(t, DashScopeConfig{}, cfg.DashScope)
	assert.NotEqual(t, AudioConfig{}, cfg.Audio)
	assert.NotEqual(t, FilesConfig{}, cfg.Files)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, OceanBaseConfig{}, cfg.OceanBase)
	assert.NotEqual(t, TairConfig{}, cfg.Tair)
	assert.NotEqual(t, EmbeddingConfig{}, cfg.Embedding)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
}

func TestDefaultDashScopeConfig(t *testing.T) {
	cfg := DefaultDashScopeConfig()
	assert.Empty(t, cfg.APIKey) // 密钥不给默认值
	assert.Equal(t, "https://dashscope.aliyuncs.com", cfg.BaseURL)
	assert.Equal(t, 1, cfg.RateBurst)
}

func TestDefaultAudioConfig(t *testing.T) {
	cfg := DefaultAudioConfig()
	assert.Equal(t, "longxiaochun", cfg.Voice)
	assert.Equal(t, "paraformer-realtime-v2", cfg.ASRModel)
}

func TestDefaultFilesConfig(t *testing.T) {
	cfg := DefaultFilesConfig()
	assert.Equal(t, 30, cfg.PollMaxAttempts)
	assert.Positive(t, cfg.PollInterval)
}

func TestDefaultTairConfig(t *testing.T) {
	cfg := DefaultTairConfig()
	assert.Equal(t, 1536, cfg.Dimension)
	assert.Equal(t, "COSINE", cfg.DistanceMethod)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// API 默认值
	assert.Equal(t, "https://dashscope.aliyuncs.com", cfg.DashScope.BaseURL)
	assert.Equal(t, "qwen-plus", cfg.DashScope.ChatModel)
	assert.Equal(t, 60*time.Second, cfg.DashScope.Timeout)
	assert.Equal(t, 3, cfg.DashScope.MaxRetries)

	// 语音默认值
	assert.Equal(t, "wss://dashscope.aliyuncs.com/api-ws/v1/inference", cfg.Audio.WebSocketURL)
	assert.Equal(t, "cosyvoice-v1", cfg.Audio.TTSModel)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)

	// 文档中心默认值
	assert.Equal(t, "default", cfg.Files.CategoryID)
	assert.Equal(t, int64(100<<20), cfg.Files.MaxFileSize)

	// 存储默认值
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2881, cfg.OceanBase.Port)
	assert.Equal(t, "dashscope_vectors", cfg.OceanBase.TableName)
	assert.Equal(t, "COSINE", cfg.Tair.DistanceMethod)
	assert.Equal(t, "text-embedding-v2", cfg.Embedding.Model)
}

func TestLoader_LoadWithoutFile(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "qwen-plus", cfg.DashScope.ChatModel)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	yamlContent := `
dashscope:
  chat_model: qwen-max
  timeout: 90s
  rate_limit: 10
audio:
  tts_model: cosyvoice-v2
  sample_rate: 8000
files:
  category_id: reports
  poll_interval: 2s
oceanbase:
  host: ob.internal
  port: 3881
tair:
  dimension: 768
log:
  level: debug
  format: console
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "qwen-max", cfg.DashScope.ChatModel)
	assert.Equal(t, 90*time.Second, cfg.DashScope.Timeout)
	assert.Equal(t, float64(10), cfg.DashScope.RateLimit)
	assert.Equal(t, "cosyvoice-v2", cfg.Audio.TTSModel)
	assert.Equal(t, 8000, cfg.Audio.SampleRate)
	assert.Equal(t, "reports", cfg.Files.CategoryID)
	assert.Equal(t, 2*time.Second, cfg.Files.PollInterval)
	assert.Equal(t, "ob.internal", cfg.OceanBase.Host)
	assert.Equal(t, 3881, cfg.OceanBase.Port)
	assert.Equal(t, 768, cfg.Tair.Dimension)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未覆盖的字段保持默认值
	assert.Equal(t, "https://dashscope.aliyuncs.com", cfg.DashScope.BaseURL)
	assert.Equal(t, "paraformer-realtime-v2", cfg.Audio.ASRModel)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("DASHSCOPE_API_CHAT_MODEL", "qwen-turbo")
	t.Setenv("DASHSCOPE_API_TIMEOUT", "45s")
	t.Setenv("DASHSCOPE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("DASHSCOPE_TAIR_DIMENSION", "1024")
	t.Setenv("DASHSCOPE_LOG_OUTPUT_PATHS", "stdout, /var/log/app.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "qwen-turbo", cfg.DashScope.ChatModel)
	assert.Equal(t, 45*time.Second, cfg.DashScope.Timeout)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 1024, cfg.Tair.Dimension)
	assert.Equal(t, []string{"stdout", "/var/log/app.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	yamlContent := `
dashscope:
  chat_model: qwen-max
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	t.Setenv("DASHSCOPE_API_CHAT_MODEL", "qwen-turbo")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "qwen-turbo", cfg.DashScope.ChatModel)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "qwen-plus", cfg.DashScope.ChatModel)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dashscope: [not a map"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return assert.AnError
		}).
		Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.DashScope.RateLimit = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Audio.SampleRate = 0
	assert.Error(t, cfg.Validate())
}

func TestOceanBaseConfig_DSN(t *testing.T) {
	cfg := OceanBaseConfig{
		Host:     "ob.internal",
		Port:     2881,
		User:     "root",
		Password: "pw",
		Name:     "dashscope",
	}
	assert.Equal(t, "root:pw@tcp(ob.internal:2881)/dashscope?parseTime=true&charset=utf8mb4", cfg.DSN())
}

func TestBuildLogger(t *testing.T) {
	logger := BuildLogger(LogConfig{Level: "debug", Format: "json"})
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapDebugLevel()))

	logger = BuildLogger(LogConfig{Level: "error", Format: "console"})
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapDebugLevel()))
}

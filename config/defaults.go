// =============================================================================
// 📦 dashscope-go 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		DashScope: DefaultDashScopeConfig(),
		Audio:     DefaultAudioConfig(),
		Files:     DefaultFilesConfig(),
		Redis:     DefaultRedisConfig(),
		OceanBase: DefaultOceanBaseConfig(),
		Tair:      DefaultTairConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Log:       DefaultLogConfig(),
	}
}

// DefaultDashScopeConfig 返回默认 API 配置
func DefaultDashScopeConfig() DashScopeConfig {
	return DashScopeConfig{
		BaseURL:    "https://dashscope.aliyuncs.com",
		ChatModel:  "qwen-plus",
		Timeout:    60 * time.Second,
		RateLimit:  0,
		RateBurst:  1,
		MaxRetries: 3,
	}
}

// DefaultAudioConfig 返回默认语音配置
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		WebSocketURL: "wss://dashscope.aliyuncs.com/api-ws/v1/inference",
		TTSModel:     "cosyvoice-v1",
		Voice:        "longxiaochun",
		ASRModel:     "paraformer-realtime-v2",
		SampleRate:   16000,
		ReadTimeout:  30 * time.Second,
	}
}

// DefaultFilesConfig 返回默认文档中心配置
func DefaultFilesConfig() FilesConfig {
	return FilesConfig{
		CategoryID:      "default",
		MaxFileSize:     100 << 20,
		PollMaxAttempts: 30,
		PollInterval:    5 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultOceanBaseConfig 返回默认 OceanBase 配置
func DefaultOceanBaseConfig() OceanBaseConfig {
	return OceanBaseConfig{
		Host:            "localhost",
		Port:            2881,
		User:            "root",
		Name:            "dashscope",
		TableName:       "dashscope_vectors",
		MaxOpenConns:    50,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultTairConfig 返回默认 Tair 配置
func DefaultTairConfig() TairConfig {
	return TairConfig{
		Addr:           "localhost:6379",
		IndexName:      "dashscope_index",
		Dimension:      1536,
		DistanceMethod: "COSINE",
	}
}

// DefaultEmbeddingConfig 返回默认向量化配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:       "text-embedding-v2",
		Parallelism: 4,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

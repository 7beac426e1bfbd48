package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tongyi-community/dashscope-go/dashscope"
	"github.com/tongyi-community/dashscope-go/internal/metrics"
)

// ErrCacheMiss indicates cache miss.
var ErrCacheMiss = errors.New("cache miss")

const redisKeyPrefix = "dashscope:chat:"

// Entry 缓存条目。
type Entry struct {
	Response    *dashscope.ChatResponse `json:"response"`
	TokensSaved int                     `json:"tokens_saved"`
	CreatedAt   time.Time               `json:"created_at"`
	ExpiresAt   time.Time               `json:"expires_at"`
	HitCount    int                     `json:"hit_count"`
}

// Config configures the cache.
type Config struct {
	LocalMaxSize int           `yaml:"local_max_size" json:"local_max_size"`
	LocalTTL     time.Duration `yaml:"local_ttl" json:"local_ttl"`
	RedisTTL     time.Duration `yaml:"redis_ttl" json:"redis_ttl"`
	EnableLocal  bool          `yaml:"enable_local" json:"enable_local"`
	EnableRedis  bool          `yaml:"enable_redis" json:"enable_redis"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		RedisTTL:     1 * time.Hour,
		EnableLocal:  true,
		EnableRedis:  true,
	}
}

// ChatCache provides local + Redis caching for chat completions.
type ChatCache struct {
	local   *LRUCache
	redis   redis.UniversalClient
	config  *Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option customizes a ChatCache.
type Option func(*ChatCache)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *ChatCache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewChatCache creates a two-level chat cache. rdb may be nil when
// EnableRedis is false.
func NewChatCache(rdb redis.UniversalClient, config *Config, logger *zap.Logger, opts ...Option) *ChatCache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var local *LRUCache
	if config.EnableLocal {
		local = NewLRUCache(config.LocalMaxSize, config.LocalTTL)
	}

	c := &ChatCache{
		local:   local,
		redis:   rdb,
		config:  config,
		logger:  logger.With(zap.String("component", "chat_cache")),
		metrics: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves from cache. 本地命中优先，Redis 命中回填本地。
func (c *ChatCache) Get(ctx context.Context, key string) (*Entry, error) {
	if c.config.EnableLocal && c.local != nil {
		if entry, ok := c.local.Get(key); ok {
			c.metrics.RecordCacheHit("local")
			return entry, nil
		}
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := c.redis.Get(ctx, redisKeyPrefix+key).Bytes()
		if err == nil {
			var entry Entry
			if err := json.Unmarshal(data, &entry); err == nil {
				if c.config.EnableLocal && c.local != nil {
					c.local.Set(key, &entry)
				}
				c.metrics.RecordCacheHit("redis")
				return &entry, nil
			}
			c.logger.Warn("corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		}
	}

	c.metrics.RecordCacheMiss("chat")
	return nil, ErrCacheMiss
}

// Set stores in cache.
func (c *ChatCache) Set(ctx context.Context, key string, entry *Entry) error {
	entry.CreatedAt = time.Now()
	entry.ExpiresAt = time.Now().Add(c.config.RedisTTL)

	if c.config.EnableLocal && c.local != nil {
		c.local.Set(key, entry)
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return c.redis.Set(ctx, redisKeyPrefix+key, data, c.config.RedisTTL).Err()
	}
	return nil
}

// GenerateKey 基于 model+messages 生成缓存键。
func (c *ChatCache) GenerateKey(req *dashscope.ChatRequest) string {
	data, _ := json.Marshal(struct {
		Model    string `json:"model"`
		Messages any    `json:"messages"`
	}{
		Model:    req.Model,
		Messages: req.Messages,
	})
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

// IsCacheable 带工具调用的请求不缓存。
func (c *ChatCache) IsCacheable(req *dashscope.ChatRequest) bool {
	return len(req.Tools) == 0
}

// Completer 聊天补全后端，由 *dashscope.Client 实现。
type Completer interface {
	ChatCompletion(ctx context.Context, req *dashscope.ChatRequest) (*dashscope.ChatResponse, error)
}

// Completion 先查缓存，未命中时调用 backend 并回填。
// 第二个返回值表示是否命中缓存。不可缓存的请求直接透传。
func (c *ChatCache) Completion(ctx context.Context, backend Completer, req *dashscope.ChatRequest) (*dashscope.ChatResponse, bool, error) {
	if !c.IsCacheable(req) {
		resp, err := backend.ChatCompletion(ctx, req)
		return resp, false, err
	}

	key := c.GenerateKey(req)
	if entry, err := c.Get(ctx, key); err == nil && entry.Response != nil {
		return entry.Response, true, nil
	}

	resp, err := backend.ChatCompletion(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if err := c.Set(ctx, key, &Entry{Response: resp, TokensSaved: resp.Usage.TotalTokens}); err != nil {
		// 回填失败不影响本次结果
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return resp, false, nil
}

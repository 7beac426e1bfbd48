// 配置热更新。
//
// 支持整份重载（文件变更触发）与单字段更新（运行期 API），
// 变更前校验、失败保持原配置、变更日志可供审计。
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	redactedPlaceholder = "[REDACTED]"
	maxChangeLogEntries = 1000
)

// ConfigChange 一次配置变更记录。
type ConfigChange struct {
	Timestamp time.Time `json:"timestamp"`
	// Source 变更来源：file / api / rollback
	Source string `json:"source"`
	// Path 点分字段路径
	Path     string `json:"path"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
	// RequiresRestart 变更已落地但需重启才生效
	RequiresRestart bool `json:"requires_restart"`
	// Applied 变更是否生效
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// ChangeCallback 单字段变更回调。
type ChangeCallback func(change ConfigChange)

// ReloadCallback 整份配置替换后的回调。
type ReloadCallback func(oldConfig, newConfig *Config)

// ValidateFunc 新配置落地前的校验钩子。
type ValidateFunc func(newConfig *Config) error

// HotReloadManager 持有当前配置并串行化所有变更。
type HotReloadManager struct {
	mu sync.RWMutex

	config   *Config
	previous *Config // 上一份成功应用的配置，Rollback 的目标

	configPath   string
	validateFunc ValidateFunc
	watcher      *FileWatcher

	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback
	changeLog       []ConfigChange

	logger  *zap.Logger
	running bool
}

// HotReloadOption configures the HotReloadManager.
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger sets the zap logger (default zap.NewNop).
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfigPath 设置配置文件路径，Start 时会随之启动文件监听。
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) {
		m.configPath = path
	}
}

// WithValidateFunc 设置校验钩子，校验失败的配置不会落地。
func WithValidateFunc(fn ValidateFunc) HotReloadOption {
	return func(m *HotReloadManager) {
		m.validateFunc = fn
	}
}

// NewHotReloadManager 创建热更新管理器。
func NewHotReloadManager(config *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start 启动文件监听（仅当设置了配置路径）。
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("config: hot reload manager already running")
	}

	if m.configPath != "" {
		watcher, err := NewFileWatcher(m.configPath,
			WithWatcherLogger(m.logger),
			WithDebounceDelay(500*time.Millisecond),
		)
		if err != nil {
			return fmt.Errorf("config: create watcher: %w", err)
		}
		watcher.OnChange(m.onFileEvent)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("config: start watcher: %w", err)
		}
		m.watcher = watcher
	}

	m.running = true
	m.logger.Info("hot reload started", zap.String("config_path", m.configPath))
	return nil
}

// Stop 停止文件监听。幂等。
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Error("failed to stop watcher", zap.Error(err))
		}
	}
	m.running = false
	m.logger.Info("hot reload stopped")
	return nil
}

func (m *HotReloadManager) onFileEvent(event FileEvent) {
	if event.Op == FileOpRemove {
		m.logger.Warn("config file removed, keeping current config", zap.String("path", event.Path))
		return
	}
	if err := m.ReloadFromFile(); err != nil {
		m.logger.Error("config reload failed", zap.Error(err))
	}
}

// ReloadFromFile 重新加载配置文件并应用。加载或校验失败时保持原配置。
func (m *HotReloadManager) ReloadFromFile() error {
	if m.configPath == "" {
		return errors.New("config: no config path set")
	}

	newConfig, err := NewLoader().WithConfigPath(m.configPath).Load()
	if err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}
	return m.ApplyConfig(newConfig, "file")
}

// ApplyConfig 整份替换配置。校验、换入和日志记录在同一把锁内完成，
// 回调在锁外执行以避免回调内再次进入管理器时死锁。
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	m.mu.Lock()
	oldConfig := m.config

	if m.validateFunc != nil {
		if err := m.validateFunc(newConfig); err != nil {
			m.appendLogLocked(ConfigChange{
				Timestamp: time.Now(),
				Source:    source,
				Path:      "(validate)",
				Error:     err.Error(),
			})
			m.mu.Unlock()
			return fmt.Errorf("config: validation failed: %w", err)
		}
	}

	changes := diffConfigs(oldConfig, newConfig)
	requiresRestart := false
	for i := range changes {
		c := &changes[i]
		c.Timestamp = time.Now()
		c.Source = source
		c.Applied = true

		field, known := reloadableByPath[c.Path]
		// 未注册的字段一律按需重启处理
		c.RequiresRestart = !known || field.RequiresRestart
		if known && field.Sensitive {
			c.OldValue, c.NewValue = redactedPlaceholder, redactedPlaceholder
		}
		if c.RequiresRestart {
			requiresRestart = true
		}
	}

	m.previous = cloneConfig(oldConfig)
	m.config = newConfig
	for _, c := range changes {
		m.appendLogLocked(c)
	}

	changeCbs := make([]ChangeCallback, len(m.changeCallbacks))
	copy(changeCbs, m.changeCallbacks)
	reloadCbs := make([]ReloadCallback, len(m.reloadCallbacks))
	copy(reloadCbs, m.reloadCallbacks)
	m.mu.Unlock()

	for _, c := range changes {
		notifyChange(changeCbs, c, m.logger)
	}
	for _, cb := range reloadCbs {
		notifyReload(cb, oldConfig, newConfig, m.logger)
	}

	if requiresRestart {
		m.logger.Warn("some changes require restart to take effect")
	}
	m.logger.Info("configuration applied",
		zap.String("source", source),
		zap.Int("changes", len(changes)))
	return nil
}

// UpdateField 更新已注册的单个字段。未注册的路径拒绝更新。
func (m *HotReloadManager) UpdateField(path string, value any) error {
	m.mu.Lock()

	field, known := reloadableByPath[path]
	if !known {
		m.mu.Unlock()
		return fmt.Errorf("config: unknown configuration field: %s", path)
	}

	oldValue, err := getFieldByPath(m.config, path)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	m.previous = cloneConfig(m.config)
	if err := setFieldByPath(m.config, path, value); err != nil {
		m.mu.Unlock()
		return err
	}

	change := ConfigChange{
		Timestamp:       time.Now(),
		Source:          "api",
		Path:            path,
		OldValue:        oldValue,
		NewValue:        value,
		RequiresRestart: field.RequiresRestart,
		Applied:         true,
	}
	if field.Sensitive {
		change.OldValue, change.NewValue = redactedPlaceholder, redactedPlaceholder
	}
	m.appendLogLocked(change)

	callbacks := make([]ChangeCallback, len(m.changeCallbacks))
	copy(callbacks, m.changeCallbacks)
	m.mu.Unlock()

	m.logger.Info("configuration field updated",
		zap.String("path", path),
		zap.Bool("requires_restart", change.RequiresRestart))
	for _, cb := range callbacks {
		notifyChange([]ChangeCallback{cb}, change, m.logger)
	}
	return nil
}

// Rollback 恢复上一份成功应用的配置。
func (m *HotReloadManager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.previous == nil {
		return errors.New("config: no previous config available for rollback")
	}

	m.config = m.previous
	m.previous = nil
	m.appendLogLocked(ConfigChange{
		Timestamp: time.Now(),
		Source:    "rollback",
		Path:      "(rollback)",
		Applied:   true,
	})
	m.logger.Warn("configuration rolled back")
	return nil
}

// OnChange 注册字段变更回调。
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, callback)
}

// OnReload 注册整份配置替换回调。
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, callback)
}

// GetConfig 返回当前配置的深拷贝，调用方可安全修改。
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneConfig(m.config)
}

// GetChangeLog 返回最近的 limit 条变更记录，limit<=0 返回全部。
func (m *HotReloadManager) GetChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.changeLog) {
		limit = len(m.changeLog)
	}
	out := make([]ConfigChange, limit)
	copy(out, m.changeLog[len(m.changeLog)-limit:])
	return out
}

// SanitizedConfig 返回脱敏后的配置视图，敏感字段替换为占位符。
func (m *HotReloadManager) SanitizedConfig() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := json.Marshal(m.config)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	redactSensitiveFields(out, "")
	return out
}

// appendLogLocked 追加变更日志，超出上限丢弃最旧的。调用方持有写锁。
func (m *HotReloadManager) appendLogLocked(change ConfigChange) {
	m.changeLog = append(m.changeLog, change)
	if len(m.changeLog) > maxChangeLogEntries {
		m.changeLog = m.changeLog[len(m.changeLog)-maxChangeLogEntries:]
	}
}

// cloneConfig JSON 往返深拷贝。Config 均为纯数据字段。
func cloneConfig(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}
	return &out
}

// notifyChange 调用回调并吞掉 panic，回调异常不影响配置状态。
func notifyChange(callbacks []ChangeCallback, change ConfigChange, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("change callback panicked", zap.Any("panic", r))
		}
	}()
	for _, cb := range callbacks {
		cb(change)
	}
}

func notifyReload(cb ReloadCallback, oldConfig, newConfig *Config, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("reload callback panicked", zap.Any("panic", r))
		}
	}()
	cb(oldConfig, newConfig)
}

// sensitiveKeyParts 出现在键名里即视为敏感。
var sensitiveKeyParts = []string{"password", "api_key", "apikey", "secret", "token", "credential"}

// redactSensitiveFields 递归脱敏 JSON 风格的 map。
func redactSensitiveFields(data map[string]any, prefix string) {
	for key, value := range data {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		lower := strings.ToLower(key)
		for _, part := range sensitiveKeyParts {
			if strings.Contains(lower, part) {
				if s, ok := value.(string); ok && s != "" {
					data[key] = redactedPlaceholder
				}
				break
			}
		}

		if nested, ok := value.(map[string]any); ok {
			redactSensitiveFields(nested, path)
		}
	}
}

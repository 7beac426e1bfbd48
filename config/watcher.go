// 配置文件变更监听。
//
// 纯轮询实现：比较 mtime 与文件大小，容器内 bind mount 场景下
// inotify 不可靠，轮询是唯一稳妥的方式。
package config

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileOp 文件变更类型。
type FileOp int

const (
	// FileOpWrite 文件内容被修改
	FileOpWrite FileOp = iota
	// FileOpCreate 文件被创建
	FileOpCreate
	// FileOpRemove 文件被删除
	FileOpRemove
)

func (op FileOp) String() string {
	switch op {
	case FileOpWrite:
		return "WRITE"
	case FileOpCreate:
		return "CREATE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 一次配置文件变更。
type FileEvent struct {
	Path string    `json:"path"`
	Op   FileOp    `json:"op"`
	At   time.Time `json:"at"`
}

// FileWatcher 轮询单个配置文件，变更去抖后触发回调。
type FileWatcher struct {
	path     string
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	callbacks []func(FileEvent)
	running   bool
	cancel    context.CancelFunc

	// 轮询状态，仅 loop goroutine 访问
	exists   bool
	lastMod  time.Time
	lastSize int64
}

// WatcherOption configures the FileWatcher.
type WatcherOption func(*FileWatcher)

// WithPollInterval sets how often the file is stat'ed (default 1s).
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithDebounceDelay sets the quiet period before a change is dispatched
// (default 100ms). Editors often write files in several bursts.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the zap logger (default zap.NewNop).
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewFileWatcher 创建监听器。文件此刻不存在也可以监听，
// 之后创建会触发 FileOpCreate 事件。
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, errors.New("watcher: path cannot be empty")
	}

	w := &FileWatcher{
		path:     path,
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	info, err := os.Stat(path)
	switch {
	case err == nil:
		w.exists = true
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
	case os.IsNotExist(err):
		w.logger.Warn("config file does not exist yet", zap.String("path", path))
	default:
		return nil, err
	}

	return w, nil
}

// OnChange 注册变更回调。必须在 Start 前后均可调用。
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动轮询。重复启动返回错误。
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("watcher: already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	go w.loop(ctx)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("interval", w.interval))
	return nil
}

// Stop 停止轮询。幂等。
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.cancel()
	w.running = false
	w.logger.Info("config watcher stopped")
	return nil
}

// IsRunning reports whether the watcher loop is active.
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Path returns the watched file path.
func (w *FileWatcher) Path() string { return w.path }

// loop 轮询与去抖在同一个 goroutine 内完成。
// fire 为 nil 时 select 分支永久阻塞，相当于没有待发事件。
func (w *FileWatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var pending FileEvent
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if event, ok := w.check(); ok {
				pending = event
				fire = time.After(w.debounce)
			}
		case <-fire:
			fire = nil
			w.dispatch(pending)
		}
	}
}

// check 比较 mtime 和大小。大小变化兜底 mtime 精度不足的文件系统。
func (w *FileWatcher) check() (FileEvent, bool) {
	info, err := os.Stat(w.path)
	switch {
	case err == nil && !w.exists:
		w.exists = true
		w.lastMod, w.lastSize = info.ModTime(), info.Size()
		return FileEvent{Path: w.path, Op: FileOpCreate, At: time.Now()}, true

	case err == nil && (info.ModTime().After(w.lastMod) || info.Size() != w.lastSize):
		w.lastMod, w.lastSize = info.ModTime(), info.Size()
		return FileEvent{Path: w.path, Op: FileOpWrite, At: time.Now()}, true

	case os.IsNotExist(err) && w.exists:
		w.exists = false
		return FileEvent{Path: w.path, Op: FileOpRemove, At: time.Now()}, true
	}
	return FileEvent{}, false
}

func (w *FileWatcher) dispatch(event FileEvent) {
	w.mu.Lock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Debug("config file event",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	for _, cb := range callbacks {
		cb(event)
	}
}

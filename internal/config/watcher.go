package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler receives the freshly reloaded configuration.
type ChangeHandler func(cfg *Config)

// Watcher hot-reloads the config file so risk thresholds and scheduler
// knobs can change without a restart. Handlers run on the watcher
// goroutine; they must not block.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	mu       sync.Mutex
	handlers []ChangeHandler
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches the directory containing path; editors replace files
// rather than writing in place, so watching the file alone misses renames.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:    path,
		watcher: fw,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// OnChange registers a handler invoked after every successful reload.
func (w *Watcher) OnChange(fn ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Start runs the watch loop until ctx is cancelled or Close is called.
// Bursts of events for one save are coalesced with a short settle delay.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		var settle *time.Timer
		settleCh := make(<-chan time.Time)

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if settle != nil {
					settle.Stop()
				}
				settle = time.NewTimer(250 * time.Millisecond)
				settleCh = settle.C
			case <-settleCh:
				w.reload()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("Config watcher error", zap.Error(err))
			}
		}
	}()
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous configuration",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("Configuration reloaded", zap.String("path", w.path))

	w.mu.Lock()
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, fn := range handlers {
		fn(cfg)
	}
}

// Close stops the watch loop and releases the fsnotify watcher.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	return w.watcher.Close()
}

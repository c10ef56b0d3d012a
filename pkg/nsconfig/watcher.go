package nsconfig

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nhairs/nserver/pkg/nslog"
)

// Watcher watches a config file for changes and reloads it, for the
// sections safe to apply at runtime. Server listener settings are
// copied into server.Settings once at startup, so a reload never
// touches them;
// only PolicyConfig is expected to change between reloads in practice,
// but the whole file is re-parsed and handed to OnChange so an
// application can decide what it actually wants to re-apply.
type Watcher struct {
	path     string
	cfg      *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   *nslog.Logger
}

// NewWatcher loads path once and starts watching it for writes.
func NewWatcher(path string, logger *nslog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = nslog.NewDefault()
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("nsconfig: load initial config: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("nsconfig: create file watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("nsconfig: watch config file: %w", err)
	}

	return &Watcher{path: path, cfg: cfg, watcher: fw, logger: logger}, nil
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnChange registers the callback invoked after each successful
// reload, with the newly loaded Config.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.onChange = fn
}

// Start runs the watch loop until ctx is cancelled, debouncing rapid
// successive writes (editors often save more than once per edit).
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("starting config file watcher", "path", w.path)

	debounce := time.NewTimer(0)
	debounce.Stop()
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("nsconfig: watcher events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debounce.Reset(debounceDelay)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("nsconfig: watcher errors channel closed")
			}
			w.logger.Error("config watcher error", "error", err)

		case <-debounce.C:
			if err := w.reload(); err != nil {
				w.logger.Error("failed to reload config", "error", err)
				continue
			}
			w.logger.Info("config reloaded")
			if w.onChange != nil {
				w.onChange(w.Config())
			}
		}
	}
}

func (w *Watcher) reload() error {
	newCfg, err := Load(w.path)
	if err != nil {
		return fmt.Errorf("nsconfig: load config: %w", err)
	}
	w.mu.Lock()
	w.cfg = newCfg
	w.mu.Unlock()
	return nil
}

// Close stops the underlying file watcher.
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

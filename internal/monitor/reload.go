package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is the quiet period after the last write before reloading.
const reloadDebounce = 500 * time.Millisecond

// ConfigReloader watches the config file and applies custom_risk_profiles
// to the live classifier. Other settings need a restart.
type ConfigReloader struct {
	watcher  *fsnotify.Watcher
	engine   *Engine
	path     string
	logger   *log.Logger
	debounce time.Duration
	onReload func(*Config, error)

	mu    sync.Mutex
	timer *time.Timer
}

// NewConfigReloader watches the directory holding path, so editors that
// replace the file on save are seen too.
func NewConfigReloader(engine *Engine, path string) (*ConfigReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("monitor: create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("monitor: resolve %q: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("monitor: watch %q: %w", path, err)
	}
	return &ConfigReloader{
		watcher:  watcher,
		engine:   engine,
		path:     abs,
		logger:   engine.logger.WithPrefix("reload"),
		debounce: reloadDebounce,
	}, nil
}

// OnReload sets a hook called after every reload attempt. Call before Run.
func (r *ConfigReloader) OnReload(fn func(*Config, error)) {
	r.onReload = fn
}

// Reload reads the config file and swaps the classifier overrides. An
// invalid file leaves the current overrides in place.
func (r *ConfigReloader) Reload() (*Config, error) {
	cfg, err := LoadConfig(r.path)
	if err != nil {
		return nil, err
	}
	r.engine.classifier.SetOverrides(cfg.RiskProfiles())
	return cfg, nil
}

// Run watches for changes until ctx is cancelled.
func (r *ConfigReloader) Run(ctx context.Context) error {
	defer r.watcher.Close()
	defer r.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				r.schedule()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (r *ConfigReloader) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		cfg, err := r.Reload()
		if err != nil {
			r.logger.Error("config reload failed", "path", r.path, "error", err)
		} else {
			r.logger.Info("config reloaded", "path", r.path, "overrides", len(cfg.CustomRiskProfiles))
		}
		if r.onReload != nil {
			r.onReload(cfg, err)
		}
	})
}

func (r *ConfigReloader) stopTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

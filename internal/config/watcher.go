package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ChangeFunc receives a freshly loaded and validated config.
type ChangeFunc func(cfg *Config)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	loader   *Loader
	path     string
	debounce time.Duration
	onChange ChangeFunc

	watcher  *fsnotify.Watcher
	done     chan struct{}
	timerMu  sync.Mutex
	timer    *time.Timer
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the loader's config file.
func NewWatcher(loader *Loader, onChange ChangeFunc) (*Watcher, error) {
	path := loader.GetConfigPath()
	if path == "" {
		return nil, fmt.Errorf("config path is not resolvable")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		loader:   loader,
		path:     filepath.Clean(path),
		debounce: 200 * time.Millisecond,
		onChange: onChange,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the directory holding the config file. Editors often replace
// files by rename, so watching the file itself would lose track of it.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.path).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
			w.reload()
		}
	})
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("Config reload failed, keeping previous config")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("Reloaded config is invalid, keeping previous config")
		return
	}

	log.Info().Str("path", w.path).Msg("Config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

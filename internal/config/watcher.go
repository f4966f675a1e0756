package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchCallback func(*Config)

// Watcher reloads the configuration whenever config.yaml changes on disk.
type Watcher struct {
	mu            sync.Mutex
	watcher       *fsnotify.Watcher
	filename      string
	callback      WatchCallback
	onError       func(error)
	debounce      time.Duration
	debounceTimer *time.Timer
	done          chan struct{}
}

func NewWatcher(callback WatchCallback, onError func(error)) (*Watcher, error) {
	filename, err := File()
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if onError == nil {
		onError = func(error) {}
	}

	return &Watcher{
		watcher:  watcher,
		filename: filename,
		callback: callback,
		onError:  onError,
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the config directory, so that editors replacing the file
// through a rename are picked up too.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.mu.Lock()
			if w.debounceTimer != nil {
				w.debounceTimer.Stop()
			}
			w.debounceTimer = time.AfterFunc(w.debounce, w.reload)
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		w.onError(err)
		return
	}

	if w.callback != nil {
		w.callback(cfg)
	}
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	select {
	case <-w.done:
	default:
		close(w.done)
	}

	return w.watcher.Close()
}

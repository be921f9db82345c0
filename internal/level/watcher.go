package level

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce collapses the write bursts editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a level file whenever it changes on disk and hands each
// successfully validated result to onReload. Invalid edits are logged and
// skipped, so the running battle keeps its last good layout.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	logger   *zap.Logger
	onReload func(*Level)

	closeCh chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewWatcher watches path's directory (editors often replace files rather
// than write them in place) and filters events down to path itself.
func NewWatcher(path string, logger *zap.Logger, onReload func(*Level)) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving level path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating level watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		watcher:  fw,
		path:     abs,
		logger:   logger.Named("level"),
		onReload: onReload,
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			pending = time.After(reloadDebounce)

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("level watcher error", zap.Error(err))

		case <-w.closeCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	l, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Warn("level reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("🗺️ level reloaded", zap.String("path", w.path), zap.String("name", l.Name))
	if w.onReload != nil {
		w.onReload(l)
	}
}

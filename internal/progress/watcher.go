package progress

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/datallboy/serenity/internal/infra/logger"
)

// Watcher resets a sound's progress when its file disappears from the
// sounds directory, so the UI never shows a deleted file as ready.
type Watcher struct {
	dir     string
	tracker *Tracker
	log     *logger.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
	mu      sync.Mutex
	running bool
}

func NewWatcher(dir string, tracker *Tracker, log *logger.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		dir:     dir,
		tracker: tracker,
		log:     log.With("WATCH"),
		watcher: fsWatcher,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	w.running = true

	go w.processEvents()
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.watcher.Close()
	<-w.stopped
}

func (w *Watcher) processEvents() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				name := filepath.Base(event.Name)
				if w.tracker.Reset(name) {
					w.log.Info("%s removed from sounds dir, progress reset", name)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error: %v", err)
		}
	}
}

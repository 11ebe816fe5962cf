package index

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/ferretbind/internal/engine"
)

// Watcher invalidates local indexes whose active version directory, or
// its segments marker, is removed or renamed behind the process's back.
// The next operation on an invalidated index reopens the newest valid
// version or rebuilds.
type Watcher struct {
	fs *fsnotify.Watcher

	mu      sync.Mutex
	bases   map[string]*LocalIndex
	actives map[string]*LocalIndex

	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewWatcher starts a watcher goroutine.
func NewWatcher() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:      fsw,
		bases:   make(map[string]*LocalIndex),
		actives: make(map[string]*LocalIndex),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Watch starts watching the base directory of l.
func (w *Watcher) Watch(l *LocalIndex) error {
	base := filepath.Clean(l.def.BaseDir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fs.Add(base); err != nil {
		return err
	}
	w.bases[base] = l
	if dir := l.def.IndexDir(); dir != "" {
		w.trackLocked(l, dir)
	}
	return nil
}

// Track follows a newly active version directory of l. It is installed
// as the swap hook of watched indexes.
func (w *Watcher) Track(l *LocalIndex, dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trackLocked(l, dir)
}

func (w *Watcher) trackLocked(l *LocalIndex, dir string) {
	dir = filepath.Clean(dir)
	for old, owner := range w.actives {
		if owner == l && old != dir {
			_ = w.fs.Remove(old)
			delete(w.actives, old)
		}
	}
	if err := w.fs.Add(dir); err != nil {
		slog.Warn("index_watch_failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}
	w.actives[dir] = l
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("index_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	name := filepath.Clean(event.Name)

	w.mu.Lock()
	var (
		target *LocalIndex
		dir    string
	)
	if l, ok := w.actives[name]; ok {
		target, dir = l, name
		delete(w.actives, name)
	} else if filepath.Base(name) == engine.MarkerFile {
		dir = filepath.Dir(name)
		if l, ok := w.actives[dir]; ok && !engine.HasMarker(dir) {
			target = l
		}
	}
	w.mu.Unlock()

	// A rebuild may already have moved on to a newer directory.
	if target != nil && filepath.Clean(target.def.IndexDir()) == dir {
		target.Invalidate()
	}
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		err = w.fs.Close()
		<-w.done
	})
	return err
}

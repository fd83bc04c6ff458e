package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce batches bursts of writes (editors, atomic renames) into
// one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reports debounced filesystem changes under a set of directory
// trees. fsnotify is not recursive, so subdirectories are added as they
// appear.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	log      *zap.Logger
	changes  chan struct{}
	done     chan struct{}
}

// NewWatcher watches every existing directory under dirs. Missing
// directories are skipped.
func NewWatcher(dirs []string, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		log:      log,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, dir := range dirs {
		if err := w.addTree(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.log.Debug("watching", zap.String("dir", path))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Changes delivers one value per settled burst of events.
func (w *Watcher) Changes() <-chan struct{} { return w.changes }

// Start runs the event loop until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Close stops watching and waits for the event loop to exit. It must only
// be called after Start.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.log.Warn("watch new directory", zap.String("dir", ev.Name), zap.Error(err))
					}
				}
			}
			settle = time.After(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))

		case <-settle:
			settle = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		}
	}
}

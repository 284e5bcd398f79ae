package daemon

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long the watcher waits after the last filesystem
// event before requesting a cycle, so bursts of writes collapse into one.
const watchDebounce = 2 * time.Second

// watcher arms fsnotify on every directory under the source root and calls
// onChange (debounced) when anything moves. Directories created later are
// added as they appear.
type watcher struct {
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	onChange func()

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

func newWatcher(root string, logger *slog.Logger, onChange func()) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &watcher{
		fsw:      fsw,
		logger:   logger,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// addTree registers root and every directory below it
func (w *watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			w.schedule()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// schedule (re)arms the debounce timer
func (w *watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, w.onChange)
}

func (w *watcher) Close() error {
	close(w.done)

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.fsw.Close()
}

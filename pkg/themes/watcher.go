package themes

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher watches theme directories and reports which theme ref changed.
// It only signals; reloading is left to the callback's owner.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	timers   map[string]*time.Timer
	dirs     []string

	onChange func(ref string)
	debounce time.Duration
}

// NewWatcher creates a watcher that calls onChange, once per burst of
// events, for each theme file that is written, created, renamed or removed.
func NewWatcher(onChange func(ref string)) *Watcher {
	return &Watcher{
		onChange: onChange,
		debounce: defaultDebounce,
	}
}

// Watch starts watching dirs, replacing any previous watch. Directories
// that do not exist are skipped. Subdirectories present at the time of the
// call are watched too.
func (w *Watcher) Watch(dirs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()

	var watched []string
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err == nil && d.IsDir() {
				watched = append(watched, p)
			}
			return nil
		})
	}
	if len(watched) == 0 {
		slog.Debug("No theme directories to watch")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range watched {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return err
		}
	}

	w.watcher = watcher
	w.dirs = watched
	w.stopChan = make(chan struct{})
	w.timers = make(map[string]*time.Timer)

	go w.watchLoop(watcher, w.stopChan)

	slog.Debug("Started watching theme directories", "dirs", watched)
	return nil
}

// Dirs returns the directories currently watched.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.dirs...)
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watcher) stopLocked() {
	if w.stopChan != nil {
		close(w.stopChan)
		w.stopChan = nil
	}
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = nil
	w.dirs = nil
}

func (w *Watcher) watchLoop(watcher *fsnotify.Watcher, stopChan chan struct{}) {
	for {
		select {
		case <-stopChan:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			ref, ok := refFromFile(filepath.Base(event.Name))
			if !ok {
				continue
			}
			w.schedule(ref, stopChan)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Theme directory watcher error", "error", err)
		}
	}
}

// schedule debounces editor save sequences (temp file, rename, chmod) into a
// single signal per ref.
func (w *Watcher) schedule(ref string, stopChan chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopChan != stopChan || w.timers == nil {
		return
	}
	if t, ok := w.timers[ref]; ok {
		t.Stop()
	}
	w.timers[ref] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		stale := w.stopChan != stopChan
		if !stale {
			delete(w.timers, ref)
		}
		w.mu.Unlock()
		if stale {
			return
		}

		slog.Debug("Theme file changed, signaling", "theme", ref)
		if w.onChange != nil {
			w.onChange(ref)
		}
	})
}

package homebrew

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces bursts of file events into one trigger.
const DefaultDebounce = 500 * time.Millisecond

// Watcher calls Trigger after JSON files under the homebrew directory change.
type Watcher struct {
	Dir      string
	Debounce time.Duration
	Trigger  func(ctx context.Context) error
	Log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start begins watching. A missing directory is logged and not watched.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}
	if _, err := os.Stat(w.Dir); os.IsNotExist(err) {
		w.Log.Warn().Str("dir", w.Dir).Msg("Homebrew directory missing; watcher disabled")
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addTree(fw, w.Dir); err != nil {
		_ = fw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, fw)
	w.Log.Info().Str("dir", w.Dir).Msg("Homebrew watcher started")
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.done)
	defer fw.Close()

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					_ = addTree(fw, ev.Name)
					timer.Reset(debounce)
					continue
				}
			}
			if !relevant(ev) {
				continue
			}
			w.Log.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Homebrew file changed")
			timer.Reset(debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.Log.Warn().Err(err).Msg("Homebrew watcher error")
		case <-timer.C:
			if w.Trigger == nil {
				continue
			}
			if err := w.Trigger(ctx); err != nil {
				w.Log.Warn().Err(err).Msg("Homebrew resync failed")
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(ev.Name), ".json") {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

package pipeline

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps the current pipeline snapshot for a file and reloads it when
// the file changes. A reload that fails validation keeps the previous
// snapshot.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher

	// OnReload is called after a successful reload.
	OnReload func(*Config)
}

var _ Source = (*Watcher)(nil)

// NewWatcher loads the file and starts watching its directory.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Editors often replace files by rename, so watch the directory.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{path: path, watcher: fw}
	w.current.Store(cfg)
	return w, nil
}

// Current implements Source.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[pipeline] watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Printf("[pipeline] reload of %s rejected, keeping previous snapshot: %v", w.path, err)
		return
	}
	w.current.Store(cfg)
	log.Printf("[pipeline] reloaded %s (%d tiers)", w.path, len(cfg.Tiers))
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
}

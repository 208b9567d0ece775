package templates

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"jordanella.com/natro-go/internal/logging"
)

// Watcher reloads catalog files when they change on disk. Changed YAML
// files are re-read; changed images drop the decoded needle cache so the
// next search decodes them again.
type Watcher struct {
	registry *TemplateRegistry
	dir      string
	debounce time.Duration
	logger   *logging.Logger
	onReload func()

	mu      sync.Mutex
	reloads int
	done    chan struct{}
}

// NewWatcher creates a watcher over dir for registry
func NewWatcher(registry *TemplateRegistry, dir string) *Watcher {
	return &Watcher{
		registry: registry,
		dir:      dir,
		debounce: 200 * time.Millisecond,
		logger:   logging.NewLogger("CatalogWatcher"),
	}
}

// WithLogger replaces the watcher logger
func (w *Watcher) WithLogger(logger *logging.Logger) *Watcher {
	w.logger = logger
	return w
}

// WithDebounce sets how long changes settle before a reload
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// WithOnReload sets a callback run after every reload pass, for callers
// that keep their own copies of catalog needles
func (w *Watcher) WithOnReload(fn func()) *Watcher {
	w.onReload = fn
	return w
}

// Start begins watching dir and its subdirectories. It returns once the
// watches are in place; watching stops when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}

	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.done = make(chan struct{})
	go w.loop(ctx, fw)

	w.logger.InfoWithContext("Watching catalog", map[string]interface{}{"dir": w.dir})
	return nil
}

// Done is closed when the watcher has stopped
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Reloads returns how many reload passes have run
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.done)
	defer fw.Close()

	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !catalogFile(event.Name) {
				continue
			}
			pending[event.Name] = true
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Catalog watch error", err)

		case <-timer.C:
			w.reload(pending)
			pending = make(map[string]bool)
		}
	}
}

// catalogFile reports whether path is a catalog YAML or needle image
func catalogFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".png", ".bmp", ".gif", ".jpg", ".jpeg":
		return true
	}
	return false
}

func (w *Watcher) reload(paths map[string]bool) {
	imagesChanged := false
	for path := range paths {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := w.registry.LoadFromFile(path); err != nil {
				w.logger.ErrorWithContext("Catalog reload failed", err, map[string]interface{}{
					"file": path,
				})
				continue
			}
			w.logger.InfoWithContext("Catalog reloaded", map[string]interface{}{
				"file":      path,
				"templates": w.registry.Count(),
			})
		default:
			imagesChanged = true
		}
	}

	if imagesChanged {
		w.registry.ImageCache().UnloadAll()
		w.logger.Debug("Needle images changed, cache cleared")
	}

	if w.onReload != nil {
		w.onReload()
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
}

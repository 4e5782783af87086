package catalog

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher marks the catalog dirty whenever something is created, removed or
// renamed directly under a scan root. The next Find then refreshes in the background.
type Watcher struct {
	mu      sync.Mutex
	catalog *Catalog
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher opens an fsnotify watcher on the catalog roots. Roots that cannot
// be watched are logged and ignored.
func NewWatcher(c *Catalog) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, root := range c.opts.Roots {
		if err := fw.Add(root); err != nil {
			c.log.Warn("cannot watch catalog root", map[string]interface{}{
				"root":  root,
				"error": err.Error(),
			})
		}
	}
	return &Watcher{
		catalog: c,
		watcher: fw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start runs the event loop in its own goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	go w.run(ctx)
}

// Stop ends the event loop and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.catalog.log.Debug("catalog root changed", map[string]interface{}{
					"path": event.Name,
					"op":   event.Op.String(),
				})
				w.catalog.MarkDirty()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.catalog.log.Warn("catalog watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

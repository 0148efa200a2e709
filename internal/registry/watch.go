package registry

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry whenever the backing file changes. Reload
// failures keep the previous view and are logged; the watcher keeps running
// until the context is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if !strings.HasSuffix(event.Name, r.path) && event.Name != r.path {
					continue
				}
				if err := r.Reload(); err != nil {
					r.logger.Warn("registry reload failed, keeping previous view", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("registry watcher error", "error", err)
			}
		}
	}()
	return nil
}

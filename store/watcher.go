package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"exovision/ml"
)

// Watch reloads the store when model files in the directory change. Bursts
// of events are coalesced into one reload after the debounce window. It
// blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.log.Info("watching model dir")

	timer := time.NewTimer(s.opts.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			s.log.Debug("model file changed", zap.String("file", event.Name), zap.Stringer("op", event.Op))
			timer.Reset(s.opts.Debounce)
		case <-timer.C:
			if err := s.Reload(); err != nil {
				s.log.Error("reload after change failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != ml.ArtifactExt {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

package registry

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the registry whenever its manifest changes on disk. It
// blocks until ctx is canceled; callers run it in a goroutine. Editors
// often write via rename, so the parent directory is watched and events
// are debounced briefly.
func (r *Registry) Watch(ctx context.Context, log zerolog.Logger) error {
	if r.manifest == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(r.manifest)); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := func() {
		if err := r.Reload(); err != nil {
			log.Error().Err(err).Str("manifest", r.manifest).Msg("registry reload failed")
			return
		}
		log.Info().Str("manifest", r.manifest).Int("models", len(r.Models())).Msg("registry reloaded")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(r.manifest) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("manifest watcher error")
		}
	}
}

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"omega/internal/obslog"
)

// Watch watches path for writes or atomic-save recreations (vim/nano
// write a new inode on save) and emits a debounced, non-blocking signal
// on the returned channel. cmd/omega's start command uses this to
// restart the gateway lifecycle in place on a config edit, without
// requiring a process restart.
func Watch(ctx context.Context, path string) <-chan struct{} {
	reloadCh := make(chan struct{}, 1)
	log := obslog.Component("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error().Err(err).Msg("failed to create fsnotify watcher")
		return reloadCh
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		log.Warn().Str("file", path).Msg("could not resolve absolute config path")
		absPath = path
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		log.Warn().Err(err).Str("file", absPath).Msg("could not watch config directory")
	}

	go func() {
		defer watcher.Close()
		defer close(reloadCh)

		const debounce = 500 * time.Millisecond
		var timer *time.Timer

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != absPath {
					continue
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(debounce, func() {
						log.Info().Str("file", event.Name).Msg("configuration change detected")
						select {
						case reloadCh <- struct{}{}:
						default:
						}
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("config watcher error")
			}
		}
	}()

	return reloadCh
}

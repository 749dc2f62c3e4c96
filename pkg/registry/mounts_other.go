//go:build !windows

package registry

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// mountPresent checks that the mount point resolves to a directory
func mountPresent(mount string) bool {
	info, err := os.Stat(mount)
	return err == nil && info.IsDir()
}

// startMountWatch watches the parent directories of the configured
// mounts (typically /mnt or /media/<user>) and nudges the presence poll
// when anything appears or disappears there
func startMountWatch(mounts []string, logger zerolog.Logger) (<-chan struct{}, func()) {
	nudge := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn().Err(err).Msg("Mount watcher unavailable, relying on polling")
		return nudge, func() {}
	}

	parents := make(map[string]bool)
	for _, mount := range mounts {
		parents[filepath.Dir(filepath.Clean(mount))] = true
	}
	for parent := range parents {
		if err := watcher.Add(parent); err != nil {
			logger.Debug().Err(err).Str("dir", parent).Msg("Cannot watch mount parent")
		}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				select {
				case nudge <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return nudge, func() {
		close(done)
		watcher.Close()
	}
}

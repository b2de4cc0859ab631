package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const watchDebounce = 500 * time.Millisecond

// Watch calls onChange after the file at path is written, created or
// replaced. Bursts of events within watchDebounce collapse into one call.
// The parent directory is watched so editors that replace the file by
// rename are followed. Watch returns once the watcher is running; it stops
// when ctx is done. The returned channel is closed after it has stopped
// and any onChange call in progress has returned.
func Watch(ctx context.Context, path string, onChange func()) (<-chan struct{}, error) {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create config watcher")
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, pkgerrors.Wrapf(err, "failed to watch %s", filepath.Dir(path))
	}

	logrus.WithField("path", path).Debug("watching config file for changes")

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer watcher.Close()

		// pending counts scheduled and running callbacks, so done is only
		// closed once no onChange can still run.
		var (
			pending sync.WaitGroup
			timer   *time.Timer
		)
		defer func() {
			if timer != nil && timer.Stop() {
				pending.Done()
			}
			pending.Wait()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				logrus.WithFields(logrus.Fields{
					"path": path,
					"op":   ev.Op.String(),
				}).Debug("config file changed")

				if timer != nil && timer.Stop() {
					pending.Done()
				}
				pending.Add(1)
				timer = time.AfterFunc(watchDebounce, func() {
					defer pending.Done()
					if ctx.Err() == nil {
						onChange()
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("config watcher error")
			}
		}
	}()

	return done, nil
}

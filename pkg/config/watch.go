package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the bursts of events editors produce on save.
const watchDebounce = 200 * time.Millisecond

// Watch reloads configPath whenever it changes and hands valid configs to
// onChange. It blocks until ctx is done. The parent directory is watched so
// atomic rename saves are seen.
func Watch(ctx context.Context, configPath string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create fsnotify watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch config dir %s", dir)
	}
	target := filepath.Clean(configPath)

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			log.Debugf("Config change detected: %s (%s)", event.Name, event.Op)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			config, err := LoadConfig(configPath)
			if err != nil {
				log.Warnf("Ignoring config change: %v", err)
				continue
			}
			log.Infof("Reloaded config from %s", configPath)
			onChange(config)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("Config watcher error: %v", err)
		}
	}
}

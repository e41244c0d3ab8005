package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce batches the burst of events editors produce on save.
const reloadDebounce = 300 * time.Millisecond

// configLoader re-reads the full layered config (file, env, flags).
type configLoader func() (Config, error)

// watchConfig watches the config file and sends a reloadRequest after every
// change that yields a valid config. Only the snap section and the log level
// are applied live; other sections need a restart.
//
// The directory is watched rather than the file so that editors which replace
// the file by rename keep working.
func watchConfig(ctx context.Context, path string, load configLoader, requests chan<- daemonRequest, level *slog.LevelVar, logger *slog.Logger) error {
	path = filepath.Clean(ExpandPath(path))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	logger.Info("watching config for changes", "path", path)

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			applyReload(ctx, load, requests, level, logger)

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("config file event", "op", event.Op.String())
			pending = true
			timer.Reset(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}

func applyReload(ctx context.Context, load configLoader, requests chan<- daemonRequest, level *slog.LevelVar, logger *slog.Logger) {
	cfg, err := load()
	if err != nil {
		logger.Error("config reload failed, keeping current config", "error", err)
		return
	}
	snapCfg, err := cfg.ToSnapConfig()
	if err != nil {
		logger.Error("config reload failed, keeping current config", "error", err)
		return
	}

	if level != nil {
		if lv, err := parseLogLevel(cfg.Logging.Level); err == nil && lv != level.Level() {
			level.Set(lv)
			logger.Info("log level changed", "level", lv)
		}
	}

	select {
	case requests <- reloadRequest{Config: snapCfg}:
	case <-ctx.Done():
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/matzehuels/eqrender/internal/config"
	"github.com/matzehuels/eqrender/pkg/template"
)

// watchDebounce coalesces the burst of events an editor emits on save.
const watchDebounce = 100 * time.Millisecond

// watch renders once, then re-renders whenever the input file or a template
// changes, until ctx is cancelled. A failed batch is reported and watching
// continues.
func (c *CLI) watch(ctx context.Context, cfg *config.Config, refresh bool) error {
	logger := loggerFromContext(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	input, err := filepath.Abs(cfg.Resolve(cfg.Input))
	if err != nil {
		return err
	}
	templatesDir, err := filepath.Abs(cfg.Resolve(cfg.TemplatesDir))
	if err != nil {
		return err
	}

	// Watch directories, not files: editors replace files on save.
	if err := watcher.Add(filepath.Dir(input)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(input), err)
	}
	if templatesDir != filepath.Dir(input) {
		if err := watcher.Add(templatesDir); err != nil {
			logger.Warn("templates directory not watched", "dir", templatesDir, "error", err)
		}
	}

	trigger := make(chan string, 1)
	go watchLoop(ctx, watcher, func(name string) bool {
		return relevantChange(name, input, templatesDir)
	}, trigger)

	c.runWatched(ctx, cfg, refresh)
	printInfo("Watching %s for changes (Ctrl+C to stop)", cfg.Resolve(cfg.Input))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case name := <-trigger:
			logger.Info("change detected", "file", filepath.Base(name))
			c.runWatched(ctx, cfg, refresh)
		}
	}
}

// runWatched runs one batch and reports a fatal error without returning it.
func (c *CLI) runWatched(ctx context.Context, cfg *config.Config, refresh bool) {
	if _, err := c.renderBatch(ctx, cfg, refresh); err != nil && !errors.Is(err, context.Canceled) {
		printError("%v", err)
	}
}

// watchLoop forwards relevant events to trigger after watchDebounce of
// quiet. Sends never block: a pending trigger already covers the change.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, relevant func(string) bool, trigger chan<- string) {
	logger := loggerFromContext(ctx)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !relevant(event.Name) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				select {
				case trigger <- name:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

// relevantChange reports whether a change to name affects the batch.
func relevantChange(name, input, templatesDir string) bool {
	name = filepath.Clean(name)
	if name == input {
		return true
	}
	return filepath.Dir(name) == templatesDir && filepath.Ext(name) == template.Ext
}

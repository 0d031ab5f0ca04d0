// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/localtube/localtube/internal/log"
)

// Watcher observes the media root for externally removed files so the
// catalog can drop stale media_path values before a client requests
// them, instead of waiting for the next refresh sweep to notice.
type Watcher struct {
	MediaRoot string

	// OnRemoved is invoked with the removed file's path relative to
	// MediaRoot (slash-separated). Required.
	OnRemoved func(ctx context.Context, relPath string)
}

// Run blocks watching the media root and its subdirectories until ctx is
// cancelled. Directories created while watching are added to the watch
// set; .info.json sidecars are ignored (their media row is keyed by the
// main file).
func (w *Watcher) Run(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "stream.watcher")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("stream: create watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.MediaRoot); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("media root watch error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Op.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = fsw.Add(event.Name)
		}
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		if strings.HasSuffix(event.Name, ".info.json") {
			return
		}
		rel, err := filepath.Rel(w.MediaRoot, event.Name)
		if err != nil || strings.HasPrefix(rel, "..") {
			return
		}
		w.OnRemoved(ctx, filepath.ToSlash(rel))
	}
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

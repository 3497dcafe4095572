// Package watch reports modified tracked files as they change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/debounce"
	"github.com/thiagokokada/dotrack/internal/tracker"
)

const DefaultDelay = 350 * time.Millisecond

// Source is the listing side of tracker.Engine.
type Source interface {
	Reset()
	Query(f tracker.Filter) ([]string, error)
}

type Options struct {
	Delay  time.Duration
	Logger *zap.Logger
}

// Run watches the directories holding tracked files and calls report with
// the modified listing once at start and again after each burst of events
// on a tracked path. It blocks until ctx is done.
func Run(ctx context.Context, src Source, report func([]string), opts Options) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}

	tracked, err := src.Query(tracker.FilterAll)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()

	set := make(map[string]struct{}, len(tracked))
	for _, p := range tracked {
		set[filepath.Clean(p)] = struct{}{}
	}
	for _, dir := range watchDirs(tracked) {
		if _, err := os.Stat(dir); err != nil {
			log.Debug("skipping missing directory", zap.String("path", dir))
			continue
		}
		log.Debug("adding path to FS watcher", zap.String("path", dir))
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	refresh := func() {
		src.Reset()
		modified, err := src.Query(tracker.FilterModified)
		if err != nil {
			log.Warn("listing modified files", zap.Error(err))
			return
		}
		report(modified)
	}
	d := debounce.New(delay, refresh)
	defer d.Stop()
	refresh()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev, set) {
				continue
			}
			log.Debug("fsnotify event", zap.Stringer("op", ev.Op), zap.String("path", ev.Name))
			d.Trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				d.Trigger()
			}
			log.Warn("fsnotify error", zap.Error(err))
		}
	}
}

func relevant(ev fsnotify.Event, tracked map[string]struct{}) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) &&
		!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Chmod) {
		return false
	}
	_, ok := tracked[filepath.Clean(ev.Name)]
	return ok
}

// watchDirs returns the sorted unique parent directories of paths.
func watchDirs(paths []string) []string {
	dirs := make([]string, 0, len(paths))
	for _, p := range paths {
		dirs = append(dirs, filepath.Dir(p))
	}
	slices.Sort(dirs)
	return slices.Compact(dirs)
}

// Package matchwait implements the MATCH_WAIT suspension point: a bounded
// wait for the external matcher's match-decisions file to appear, watched
// via fsnotify with a ticker-poll fallback when the watch itself cannot be
// established, mirroring pkg/cancel's stop-file polling shape.
package matchwait

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lotreace/skill-flywheel/pkg/flyerr"
)

// Config bounds the wait.
type Config struct {
	// Path is the match-decisions file being waited for.
	Path string
	// MaxWait is the total time to wait before giving up.
	MaxWait time.Duration
	// PollInterval bounds the fallback poll cadence when fsnotify is unavailable.
	PollInterval time.Duration
}

// Wait blocks until Path exists, ctx is cancelled, or MaxWait elapses,
// whichever comes first. Returns flyerr.CodeMatcherTimeout on timeout.
func Wait(ctx context.Context, cfg Config) error {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}

	if stat(cfg.Path) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.MaxWait)
	defer cancel()

	if err := waitViaFsnotify(ctx, cfg.Path); err == nil {
		return nil
	}
	return waitViaPoll(ctx, cfg)
}

func stat(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// waitViaFsnotify watches path's containing directory for a create event
// naming path. Returns a non-nil error if the watcher could not be
// established at all (caller falls back to polling) or if ctx expires.
func waitViaFsnotify(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	if stat(path) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return flyerr.New(flyerr.CodeMatcherTimeout, "timed out waiting for match-decisions file")
		case event, ok := <-watcher.Events:
			if !ok {
				return fsnotifyClosed()
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && filepath.Clean(event.Name) == filepath.Clean(path) {
				return nil
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return fsnotifyClosed()
			}
			// A watcher-internal error doesn't necessarily mean the file never
			// appears; fall through to re-check directly before giving up.
			if stat(path) {
				return nil
			}
		}
	}
}

func fsnotifyClosed() error {
	return context.Canceled
}

func waitViaPoll(ctx context.Context, cfg Config) error {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return flyerr.New(flyerr.CodeMatcherTimeout, "timed out waiting for match-decisions file")
		case <-ticker.C:
			if stat(cfg.Path) {
				return nil
			}
		}
	}
}

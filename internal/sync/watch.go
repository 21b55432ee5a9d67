package sync

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher drives SyncFromMarkdown off filesystem write events instead of
// a polling SyncDirectory call, for callers that want near-real-time
// sync. It does not change SyncFromMarkdown's contract — every event
// simply invokes the same function.
type Watcher struct {
	s        *Syncer
	watcher  *fsnotify.Watcher
	glob     string
	debounce time.Duration
}

// NewWatcher creates a Watcher over dir, matching files against glob
// (default "*.md").
func NewWatcher(s *Syncer, dir, glob string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if glob == "" {
		glob = "*.md"
	}
	return &Watcher{s: s, watcher: fw, glob: glob, debounce: 200 * time.Millisecond}, nil
}

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Run starts a background goroutine and returns immediately. The
// goroutine syncs each matching file once its write/create events have
// been quiet for the debounce interval, until ctx is cancelled or the
// watcher is closed, and then closes the returned channel. Errors from
// individual syncs are sent on that channel rather than stopping the
// loop; the channel buffers 16 errors and further errors are dropped
// while it is full.
func (w *Watcher) Run(ctx context.Context) <-chan error {
	errs := make(chan error, 16)
	go func() {
		defer close(errs)
		pending := map[string]time.Time{}
		ticker := time.NewTicker(w.debounce)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				matched, _ := filepath.Match(w.glob, filepath.Base(ev.Name))
				if !matched {
					continue
				}
				pending[ev.Name] = time.Now()
			case <-ticker.C:
				now := time.Now()
				for path, seen := range pending {
					if now.Sub(seen) < w.debounce {
						continue
					}
					delete(pending, path)
					if _, err := w.s.SyncFromMarkdown(ctx, path); err != nil {
						select {
						case errs <- err:
						default:
						}
					}
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				default:
				}
			}
		}
	}()
	return errs
}

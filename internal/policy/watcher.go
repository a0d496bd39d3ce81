package policy

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ehrlich-b/substrate/internal/logger"
)

// profileWatcher hot-reloads the broker's cache when a watched profile
// file changes on disk (spec §4.3: "Profiles are cached and optionally
// hot-reloaded"), grounded on fsnotify's standard watch-and-dispatch loop.
type profileWatcher struct {
	w       *fsnotify.Watcher
	broker  *Broker
	mu      sync.Mutex
	watched map[string]bool
}

// WatchHotReload starts an fsnotify watcher that invalidates the broker's
// cache whenever a profile file it has previously loaded is modified. It
// runs until stop is closed.
func (b *Broker) WatchHotReload(stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	pw := &profileWatcher{w: w, broker: b, watched: make(map[string]bool)}
	b.mu.Lock()
	b.watcher = pw
	b.mu.Unlock()

	go pw.run(stop)
	return nil
}

func (pw *profileWatcher) run(stop <-chan struct{}) {
	defer pw.w.Close()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-pw.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debug("policy: profile changed, invalidating cache", "path", ev.Name)
				pw.broker.InvalidateAll()
			}
		case err, ok := <-pw.w.Errors:
			if !ok {
				return
			}
			logger.Warn("policy: watcher error", "err", err)
		}
	}
}

// watch adds dir to the watch set if not already watched. Best-effort: a
// directory that doesn't exist yet (no profile there currently) is simply
// skipped until a later load discovers one.
func (pw *profileWatcher) watch(dir string) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.watched[dir] {
		return
	}
	if err := pw.w.Add(dir); err == nil {
		pw.watched[dir] = true
	}
}

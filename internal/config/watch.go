package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the live-tunable subset of a Config (f/K/B) into a
// Live whenever its backing file changes on disk (SPEC_FULL.md §4.8).
// Grounded on the teacher's internal/runtime/vfs/watch_fsnotify.go event
// loop. Within this module only Live.Batch is read back, when a Cache is
// bound; the LocalHeaps keep the f and K they were constructed with, so a
// reload of f or K does not change eviction on a running Allocator.
type Watcher struct {
	w    *fsnotify.Watcher
	live *Live
	base Config
	done chan struct{}
}

// WatchFile starts watching cfg.ConfigFile and applying changes to live.
// It is a no-op (nil, nil) if cfg.ConfigFile is empty.
func WatchFile(cfg Config, live *Live) (*Watcher, error) {
	if cfg.ConfigFile == "" {
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(cfg.ConfigFile); err != nil {
		w.Close()
		return nil, err
	}

	watcher := &Watcher{w: w, live: live, base: cfg, done: make(chan struct{})}
	go watcher.loop()

	return watcher, nil
}

func (wt *Watcher) loop() {
	for {
		select {
		case ev, ok := <-wt.w.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			next := wt.base
			if err := next.applyFile(next.ConfigFile); err != nil {
				log.Printf("tieredalloc: config reload %s: %v (keeping prior values)", next.ConfigFile, err)
				continue
			}

			wt.live.Store(next)
		case err, ok := <-wt.w.Errors:
			if !ok {
				return
			}

			log.Printf("tieredalloc: config watch error: %v", err)
		case <-wt.done:
			return
		}
	}
}

// Close stops the watcher.
func (wt *Watcher) Close() error {
	close(wt.done)
	return wt.w.Close()
}

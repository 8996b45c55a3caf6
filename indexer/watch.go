package indexer

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches layer roots for SKILL.md changes and triggers a
// re-index of the affected candidate, debouncing rapid successive saves.
type Watcher struct {
	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	log         zerolog.Logger
	debounceMap map[string]time.Time
	debounceDur time.Duration
}

func NewWatcher(roots []LayerRoot, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:         fsw,
		log:         log,
		debounceMap: make(map[string]time.Time),
		debounceDur: 300 * time.Millisecond,
	}
	for _, lr := range roots {
		if err := fsw.Add(lr.Root); err != nil {
			log.Warn().Err(err).Str("layer", lr.Layer).Str("root", lr.Root).Msg("watch root unavailable")
		}
	}
	return w, nil
}

func (w *Watcher) Close() error { return w.fsw.Close() }

// Run blocks, invoking onChange with the settled path of every SKILL.md
// create/write/rename, until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, onChange func(path string)) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		case <-ticker.C:
			w.flushSettled(onChange)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Base(ev.Name) != skillFileName {
		return
	}
	interesting := ev.Op&fsnotify.Create != 0 || ev.Op&fsnotify.Write != 0 || ev.Op&fsnotify.Rename != 0
	if !interesting {
		return
	}
	w.mu.Lock()
	w.debounceMap[ev.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flushSettled(onChange func(path string)) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		onChange(path)
	}
}

package credentials

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher invalidates store memory caches the moment a provider's config
// file changes on disk, instead of waiting for the next fingerprint
// window. Watches parent directories because CLIs typically replace their
// auth files via rename.
type Watcher struct {
	fs     *fsnotify.Watcher
	logger zerolog.Logger

	mu      sync.Mutex
	targets map[string][]*Store // absolute file path -> stores to invalidate
}

func NewWatcher(logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fs:      fsw,
		logger:  logger,
		targets: map[string][]*Store{},
	}, nil
}

// Watch registers a file whose changes should mark the store stale.
func (w *Watcher) Watch(path string, store *Store) error {
	abs, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := w.fs.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.targets[abs] = append(w.targets[abs], store)
	w.mu.Unlock()
	return nil
}

// Run dispatches events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.mu.Lock()
			stores, ok := w.targets[event.Name]
			w.mu.Unlock()
			if !ok {
				continue
			}
			w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).
				Msg("credential file changed on disk")
			for _, store := range stores {
				store.MarkStale()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("credential file watcher error")
		}
	}
}

func (w *Watcher) Close() error {
	return w.fs.Close()
}

package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const settleDelay = 100 * time.Millisecond

// Watch reports the stored session every time the file changes, nil once it
// is removed or holds no usable token. Bursts of writes are coalesced. It
// blocks until ctx is done.
func (s *SessionStore) Watch(ctx context.Context, fn func(*domain.Session)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: Save replaces the file by rename.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch session dir: %w", err)
	}

	name := filepath.Clean(s.path)
	settle := debounce.New(settleDelay)
	reload := func() {
		sess, err := s.Load(ctx)
		switch {
		case errors.Is(err, domain.ErrNoSession):
			fn(nil)
		case err != nil:
			log.Warn().Err(err).Str("path", s.path).Msg("Ignoring unreadable session file")
		default:
			fn(&sess)
		}
	}

	for {
		select {
		case <-ctx.Done():
			settle(func() {})
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				settle(reload)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Session watcher error")
		}
	}
}

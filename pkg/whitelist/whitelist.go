// Package whitelist restricts which actors may talk to the bot. The list is
// a text file with one actor id per line; blank lines and lines starting
// with # are ignored. An empty list admits everyone.
package whitelist

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/germanamz/stash/pkg/transport"
)

// List is a reloadable set of allowed actors. The zero value admits
// everyone.
type List struct {
	path string
	log  *slog.Logger

	mu  sync.RWMutex
	ids map[transport.ActorID]struct{}
}

// Load reads path. A missing file yields an empty list.
func Load(path string, log *slog.Logger) (*List, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	l := &List{path: path, log: log}
	if err := l.Reload(); err != nil {
		return nil, err
	}

	return l, nil
}

// Parse reads actor ids from data.
func Parse(data []byte) map[transport.ActorID]struct{} {
	ids := make(map[transport.ActorID]struct{})

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids[transport.ActorID(line)] = struct{}{}
	}

	return ids
}

// Reload re-reads the backing file.
func (l *List) Reload() error {
	if l.path == "" {
		return nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("whitelist: read %s: %w", l.path, err)
	}

	ids := Parse(data)

	l.mu.Lock()
	l.ids = ids
	l.mu.Unlock()

	l.log.Info("whitelist loaded", "path", l.path, "actors", len(ids))

	return nil
}

// Allowed reports whether actor may use the bot.
func (l *List) Allowed(actor transport.ActorID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.ids) == 0 {
		return true
	}
	_, ok := l.ids[actor]

	return ok
}

// Actors returns the allowed ids in sorted order. Empty means everyone.
func (l *List) Actors() []transport.ActorID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]transport.ActorID, 0, len(l.ids))
	for id := range l.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

func (l *List) String() string {
	actors := l.Actors()
	if len(actors) == 0 {
		return "[all]"
	}

	parts := make([]string, len(actors))
	for i, a := range actors {
		parts[i] = "'" + string(a) + "'"
	}

	return "[" + strings.Join(parts, ", ") + "]"
}

// Watch reloads the list whenever its file is written, created or removed,
// until ctx is done. Bursts of events are coalesced.
func (l *List) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("whitelist: watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	// Watch the directory so editors that replace the file are noticed.
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("whitelist: watch %s: %w", l.path, err)
	}

	debounce := time.NewTimer(0)
	<-debounce.C

	target := filepath.Clean(l.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(50 * time.Millisecond)
		case <-debounce.C:
			if err := l.Reload(); err != nil {
				l.log.Warn("whitelist reload failed", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("whitelist watcher error", "error", err)
		}
	}
}

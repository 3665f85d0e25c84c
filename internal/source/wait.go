package source

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Waiter idles between polls of a watch source. Wait returns after at
// most d, earlier if it learns that the stream changed.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
	Close() error
}

// PollWaiter sleeps for the full interval. Used when fsnotify is disabled
// or unavailable (e.g., NFS).
type PollWaiter struct{}

// Wait blocks for d or until ctx is cancelled.
func (PollWaiter) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close is a no-op.
func (PollWaiter) Close() error { return nil }

// NotifyWaiter wakes early on writes to the watched file. Events for other
// files in the same directory are ignored. The interval still bounds every
// wait so a missed event only costs latency.
type NotifyWaiter struct {
	name    string
	watcher *fsnotify.Watcher
}

// NewNotifyWaiter watches the directory containing path. Watching the
// directory rather than the file survives the file being recreated.
func NewNotifyWaiter(path string) (*NotifyWaiter, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &NotifyWaiter{name: filepath.Base(abs), watcher: watcher}, nil
}

// Wait blocks until the file is written, created, removed or renamed, d
// elapses, or ctx is cancelled. A watcher error (e.g., event queue
// overflow) is returned so the caller can log it; the next Wait keeps
// watching. Once the watcher is closed, Wait degrades to a plain sleep.
func (w *NotifyWaiter) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	events, errs := w.watcher.Events, w.watcher.Errors
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) != w.name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return fmt.Errorf("fsnotify %s: %w", w.name, err)
		}
	}
}

// Close stops the underlying watcher.
func (w *NotifyWaiter) Close() error {
	return w.watcher.Close()
}

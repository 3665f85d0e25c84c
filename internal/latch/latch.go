// Package latch is the one-way WATCHING -> LOCKED state machine. The
// transition happens at most once per Latch, persists a forensic artifact
// exactly once, and is never undone.
package latch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// DefaultArtifactPath is where the forensic trace is written.
const DefaultArtifactPath = "LOCKDOWN_TRACE.md"

// State is the latch state.
type State int32

const (
	Watching State = iota
	Locked
)

func (s State) String() string {
	if s == Locked {
		return "LOCKED"
	}
	return "WATCHING"
}

// Policy decides what an artifact left by a previous process means.
type Policy string

const (
	// StayLocked starts LOCKED when an artifact already exists.
	StayLocked Policy = "stay_locked"
	// StartFresh archives an existing artifact and starts WATCHING.
	StartFresh Policy = "start_fresh"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool { return p == StayLocked || p == StartFresh }

// Event describes the lock transition. Err is set when the artifact could
// not be persisted; the latch is LOCKED regardless.
type Event struct {
	RunID    string
	Stream   string
	Path     string
	At       time.Time
	Report   *model.AuditReport
	Artifact model.LockdownArtifact
	Resumed  bool
	Err      error
}

// Latch owns the lock state and the single artifact. One Latch per
// pipeline; tests create independent instances.
type Latch struct {
	mu    sync.Mutex
	state State
	path  string
	hooks []func(Event)
	now   func() time.Time
}

// New returns a WATCHING latch that writes its artifact to path.
func New(path string) *Latch {
	if path == "" {
		path = DefaultArtifactPath
	}
	return &Latch{path: path, now: time.Now}
}

// Path returns the artifact location.
func (l *Latch) Path() string { return l.path }

// OnLock registers a hook invoked synchronously after the transition.
func (l *Latch) OnLock(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, fn)
}

// State returns the current state.
func (l *Latch) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Locked reports whether the latch has tripped.
func (l *Latch) Locked() bool { return l.State() == Locked }

// Resume applies the startup policy to an artifact left on disk. With
// StayLocked an existing artifact puts the latch in LOCKED (hooks fire
// with Resumed set); with StartFresh it is archived to <path>.<unix> and
// the latch stays WATCHING. It returns whether the latch is now locked.
func (l *Latch) Resume(policy Policy) (bool, error) {
	if !policy.Valid() {
		return false, fmt.Errorf("latch: unknown resume policy %q", policy)
	}
	if _, err := os.Stat(l.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("latch: check artifact: %w", err)
	}

	if policy == StartFresh {
		archived := fmt.Sprintf("%s.%d", l.path, l.now().Unix())
		if err := os.Rename(l.path, archived); err != nil {
			return false, fmt.Errorf("latch: archive artifact: %w", err)
		}
		return false, nil
	}

	l.mu.Lock()
	if l.state == Locked {
		l.mu.Unlock()
		return true, nil
	}
	l.state = Locked
	hooks := append([]func(Event)(nil), l.hooks...)
	l.mu.Unlock()

	ev := Event{Path: l.path, At: l.now().UTC(), Resumed: true}
	for _, fn := range hooks {
		fn(ev)
	}
	return true, nil
}

// Evaluate inspects an enforced report. If the report requires lockdown
// and the latch is WATCHING, it persists the artifact, marks LOCKED and
// fires hooks, in that order. It returns whether the latch is locked
// after the call. A returned error means the artifact write failed; the
// latch is LOCKED anyway.
func (l *Latch) Evaluate(report *model.AuditReport, stream string) (bool, error) {
	l.mu.Lock()
	if l.state == Locked {
		l.mu.Unlock()
		return true, nil
	}
	if report == nil || !report.IsLockdown {
		l.mu.Unlock()
		return false, nil
	}

	ev := Event{
		RunID:  report.RunID,
		Stream: stream,
		Path:   l.path,
		At:     l.now().UTC(),
		Report: report,
	}
	if report.LockdownArtifact != nil {
		ev.Artifact = *report.LockdownArtifact
	}

	ev.Err = writeOnce(l.path, Render(ev))
	l.state = Locked
	hooks := append([]func(Event)(nil), l.hooks...)
	l.mu.Unlock()

	for _, fn := range hooks {
		fn(ev)
	}
	return true, ev.Err
}

// writeOnce creates path with data, failing if path already exists. The
// content is written to a temp file first and linked into place so that
// readers never observe a partial artifact.
func writeOnce(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".lockdown-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("artifact %s already exists: %w", path, err)
		}
		// Filesystems without hard links: exclusive create.
		f, cerr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if cerr != nil {
			return fmt.Errorf("create artifact: %w", cerr)
		}
		if _, werr := f.Write(data); werr != nil {
			_ = f.Close()
			return fmt.Errorf("write artifact: %w", werr)
		}
		return f.Close()
	}
	return nil
}

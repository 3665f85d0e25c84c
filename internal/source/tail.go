package source

import (
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// readChunk is how much is read from the file per refill.
const readChunk = 32 * 1024

// TailSource follows a live append-only file. Records written before the
// source attached are never delivered. Offsets are byte positions of the
// first byte of each line.
type TailSource struct {
	path   string
	f      *os.File
	info   os.FileInfo
	offset int64  // start of the first unconsumed byte
	buf    []byte // bytes read past offset that do not yet form a full line
	line   int
	now    func() time.Time
}

// OpenTail attaches to path, creating it if absent, and positions at the
// current end of data.
func OpenTail(path string) (*TailSource, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &Error{Op: "stat", Path: path, Err: err}
	}
	return &TailSource{
		path:   path,
		f:      f,
		info:   info,
		offset: info.Size(),
		now:    time.Now,
	}, nil
}

// Next returns the next complete, non-blank line appended since the last
// call. It returns ErrNoData when nothing new is available and *Error when
// the file vanished, was replaced, or could not be read.
func (t *TailSource) Next() (model.LogRecord, error) {
	if t.f == nil {
		return model.LogRecord{}, &Error{Op: "read", Path: t.path, Err: os.ErrClosed}
	}
	if err := t.checkFile(); err != nil {
		return model.LogRecord{}, err
	}

	for {
		if rec, ok := t.takeLine(); ok {
			return rec, nil
		}
		n, err := t.fill()
		if err != nil {
			return model.LogRecord{}, err
		}
		if n == 0 {
			return model.LogRecord{}, ErrNoData
		}
	}
}

// takeLine pops one complete line off the buffer, skipping blank lines.
func (t *TailSource) takeLine() (model.LogRecord, bool) {
	for {
		idx := bytes.IndexByte(t.buf, '\n')
		if idx < 0 {
			return model.LogRecord{}, false
		}
		raw := t.buf[:idx]
		start := t.offset
		t.buf = t.buf[idx+1:]
		t.offset += int64(idx + 1)
		t.line++
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		return parseEntry(raw, start, t.line, t.now()), true
	}
}

func (t *TailSource) fill() (int, error) {
	chunk := make([]byte, readChunk)
	n, err := t.f.ReadAt(chunk, t.offset+int64(len(t.buf)))
	if n > 0 {
		t.buf = append(t.buf, chunk[:n]...)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &Error{Op: "read", Path: t.path, Err: err}
	}
	return n, nil
}

// checkFile detects a vanished or replaced file and resets on truncation.
func (t *TailSource) checkFile() error {
	info, err := os.Stat(t.path)
	if err != nil {
		return &Error{Op: "stat", Path: t.path, Err: err}
	}
	if !os.SameFile(info, t.info) {
		return &Error{Op: "stat", Path: t.path, Err: errors.New("file was replaced")}
	}
	if info.Size() < t.offset+int64(len(t.buf)) {
		t.offset = 0
		t.buf = nil
	}
	return nil
}

// Reopen reattaches to the path after a stream failure and resumes from
// the last consumed offset. A replaced or truncated file is read from the
// start so that nothing appended after the failure is lost.
func (t *TailSource) Reopen() error {
	f, err := os.Open(t.path)
	if err != nil {
		return &Error{Op: "open", Path: t.path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return &Error{Op: "stat", Path: t.path, Err: err}
	}
	if t.f != nil {
		_ = t.f.Close()
	}
	if !os.SameFile(info, t.info) || info.Size() < t.offset {
		t.offset = 0
	}
	t.f = f
	t.info = info
	t.buf = nil
	return nil
}

// Offset returns the byte position of the next unconsumed line.
func (t *TailSource) Offset() int64 { return t.offset }

// Name identifies the stream for logs and artifacts.
func (t *TailSource) Name() string { return t.path }

// Close releases the file handle.
func (t *TailSource) Close() error {
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}

package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseBatchStructuredAndFallback(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := `[
		{"timestamp": "2025-01-01T00:00:00Z", "role": "assistant", "content": "hello", "parameters": {"k": "v"}},
		"plain text line",
		"   ",
		{"content": "missing timestamp"},
		42
	]`

	records, err := ParseBatch([]byte(doc), now)
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 records (blank dropped), got %d", len(records))
	}

	first := records[0]
	if first.Fallback || first.Content != "hello" || first.Role != "assistant" || first.Timestamp != "2025-01-01T00:00:00Z" {
		t.Errorf("unexpected structured record: %+v", first)
	}
	if first.Parameters["k"] != "v" {
		t.Errorf("parameters not carried: %+v", first.Parameters)
	}

	if !records[1].Fallback || records[1].Content != "plain text line" {
		t.Errorf("expected fallback for string element, got %+v", records[1])
	}
	if records[1].Timestamp != now.Format(time.RFC3339Nano) {
		t.Errorf("fallback timestamp = %q", records[1].Timestamp)
	}
	if records[1].Offset != 1 {
		t.Errorf("offset should be array index, got %d", records[1].Offset)
	}

	if !records[2].Fallback || records[2].Offset != 3 {
		t.Errorf("object without timestamp should fall back, got %+v", records[2])
	}
	if !records[3].Fallback || records[3].Content != "42" {
		t.Errorf("number should fall back with raw text, got %+v", records[3])
	}
}

func TestParseBatchRejectsNonArray(t *testing.T) {
	if _, err := ParseBatch([]byte(`{"content":"x"}`), time.Now()); err == nil {
		t.Fatal("expected error for non-array document")
	}
}

func TestBatchSourceExhausts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.json")
	doc := `[{"timestamp":"t1","content":"a"},{"timestamp":"t2","content":"b"}]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenBatch(path)
	if err != nil {
		t.Fatalf("OpenBatch: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Len = %d", src.Len())
	}
	for _, want := range []string{"a", "b"} {
		rec, err := src.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if rec.Content != want {
			t.Errorf("Content = %q, want %q", rec.Content, want)
		}
	}
	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF to repeat, got %v", err)
	}
}

func TestOpenBatchMissingFile(t *testing.T) {
	_, err := OpenBatch(filepath.Join(t.TempDir(), "nope.json"))
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped ErrNotExist, got %v", err)
	}
}

func appendLines(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(text); err != nil {
		t.Fatal(err)
	}
}

func TestTailSkipsExistingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte("old line 1\nold line 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenTail(path)
	if err != nil {
		t.Fatalf("OpenTail: %v", err)
	}
	defer func() { _ = src.Close() }()

	if _, err := src.Next(); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData at attach, got %v", err)
	}

	appendLines(t, path, "new line\n")
	rec, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Content != "new line" || !rec.Fallback {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Offset != int64(len("old line 1\nold line 2\n")) {
		t.Errorf("Offset = %d", rec.Offset)
	}
}

func TestTailCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.log")
	src, err := OpenTail(path)
	if err != nil {
		t.Fatalf("OpenTail: %v", err)
	}
	defer func() { _ = src.Close() }()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

func TestTailPartialAndBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	src, err := OpenTail(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	appendLines(t, path, `{"timestamp":"t1","content":"par`)
	if _, err := src.Next(); !errors.Is(err, ErrNoData) {
		t.Fatalf("partial line must not be delivered, got %v", err)
	}

	appendLines(t, path, "tial\"}\n\n   \nsecond\n")
	rec, err := src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Fallback || rec.Content != "partial" {
		t.Errorf("expected structured record, got %+v", rec)
	}

	rec, err = src.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Content != "second" {
		t.Errorf("blank lines should be skipped, got %+v", rec)
	}
	if rec.Line != 4 {
		t.Errorf("Line = %d, want 4", rec.Line)
	}

	if _, err := src.Next(); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestTailVanishedFileAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	src, err := OpenTail(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	appendLines(t, path, "one\n")
	if _, err := src.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	_, err = src.Next()
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected *Error for vanished file, got %v", err)
	}
	if err := src.Reopen(); err == nil {
		t.Fatal("Reopen should fail while file is missing")
	}

	if err := os.WriteFile(path, []byte("two\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := src.Reopen(); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	rec, err := src.Next()
	if err != nil {
		t.Fatalf("Next after reopen: %v", err)
	}
	if rec.Content != "two" {
		t.Errorf("replaced file should be read from start, got %+v", rec)
	}
}

func TestTailTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	src, err := OpenTail(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	appendLines(t, path, "a fairly long first line\n")
	if _, err := src.Next(); err != nil {
		t.Fatal(err)
	}

	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	appendLines(t, path, "short\n")
	rec, err := src.Next()
	if err != nil {
		t.Fatalf("Next after truncate: %v", err)
	}
	if rec.Content != "short" || rec.Offset != 0 {
		t.Errorf("expected re-read from start, got %+v", rec)
	}
}

func TestPollWaiterHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (PollWaiter{}).Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNotifyWaiterWakesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewNotifyWaiter(path)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer func() { _ = w.Close() }()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, []byte("x\n"), 0o644)
	}()

	start := time.Now()
	if err := w.Wait(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("waiter did not wake on write")
	}
}

func TestNotifyWaiterReturnsWatcherError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewNotifyWaiter(path)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer func() { _ = w.Close() }()

	overflow := errors.New("queue or buffer overflow")
	go func() { w.watcher.Errors <- overflow }()

	start := time.Now()
	err = w.Wait(context.Background(), 5*time.Second)
	if !errors.Is(err, overflow) {
		t.Fatalf("expected watcher error, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("waiter did not return on watcher error")
	}
}

func TestNotifyWaiterSleepsAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewNotifyWaiter(path)
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	_ = w.Close()

	start := time.Now()
	if err := w.Wait(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) < 80*time.Millisecond {
		t.Error("closed waiter should sleep for the interval instead of spinning")
	}
}

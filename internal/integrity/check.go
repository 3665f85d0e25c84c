// Package integrity verifies the binary checksum at startup.
// The expected hash is embedded at build time via ldflags.
// If the running binary does not match, a tamper event is
// recorded and the process refuses to start.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/sentinel/internal/alert"
)

// ExpectedHash is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/sentinel/internal/integrity.ExpectedHash=<sha256hex>"
//
// When empty (dev builds), verification falls back to a checksum file.
var ExpectedHash string

// DefaultChecksumPaths are checked in order for a sha256 checksum file
// holding a single hex-encoded SHA-256 digest.
var DefaultChecksumPaths = []string{
	"/etc/sentinel/binary.sha256",
	"$HOME/.sentinel/binary.sha256",
}

// ErrTampered is returned when the binary does not match its checksum.
var ErrTampered = errors.New("integrity: binary checksum mismatch")

// TamperEvent records a binary integrity violation.
type TamperEvent struct {
	Timestamp    string `json:"timestamp"`
	Binary       string `json:"binary"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
	Hostname     string `json:"hostname"`
	Type         string `json:"type"`
}

// Checker verifies one executable. Zero fields fall back to package
// defaults.
type Checker struct {
	Expected      string
	ChecksumPaths []string
	TamperLogDir  string
	Alerts        *alert.Dispatcher
	Logger        *slog.Logger
	Executable    func() (string, error)
}

// Verify checks the running binary against the expected hash.
// Returns nil when verification passes or when no expected hash is
// available (dev mode). On mismatch, records a tamper event and returns
// an error wrapping ErrTampered.
func (c *Checker) Verify() error {
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	expected := c.Expected
	if expected == "" {
		expected = ExpectedHash
	}
	if expected == "" {
		paths := c.ChecksumPaths
		if paths == nil {
			paths = DefaultChecksumPaths
		}
		expected = loadChecksumFile(paths)
	}
	if expected == "" {
		logger.Debug("integrity check skipped, no build-time hash or checksum file")
		return nil
	}

	exe := c.Executable
	if exe == nil {
		exe = os.Executable
	}
	exePath, err := exe()
	if err != nil {
		return fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	actual, err := hashFile(exePath)
	if err != nil {
		return fmt.Errorf("integrity: cannot hash binary: %w", err)
	}

	if strings.EqualFold(actual, expected) {
		logger.Debug("binary checksum verified", "sha256", actual)
		return nil
	}

	event := TamperEvent{
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Binary:       exePath,
		ExpectedHash: expected,
		ActualHash:   actual,
		Type:         alert.EventTamper,
	}
	event.Hostname, _ = os.Hostname()
	c.record(event, logger)

	return fmt.Errorf("%w (expected %s, got %s)", ErrTampered, expected, actual)
}

// HashSelf returns the SHA-256 hex digest of the running binary.
// Useful for writing the checksum file after install.
func HashSelf() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return hashFile(exePath)
}

// record appends the event to the tamper log, logs it and fires alerts.
func (c *Checker) record(event TamperEvent, logger *slog.Logger) {
	logger.Error("TAMPER ALERT", "binary", event.Binary, "expected", event.ExpectedHash, "actual", event.ActualHash)

	if dir := c.tamperLogDir(); dir != "" {
		if err := appendTamperLog(dir, event); err != nil {
			logger.Warn("tamper log write failed", "error", err)
		}
	}

	if c.Alerts != nil {
		c.Alerts.Dispatch(alert.AlertEvent{
			Timestamp: event.Timestamp,
			Type:      alert.EventTamper,
			Summary:   fmt.Sprintf("binary %s failed checksum verification", event.Binary),
			Reason:    fmt.Sprintf("expected %s, got %s on %s", event.ExpectedHash, event.ActualHash, event.Hostname),
		})
		// Synchronous, we're about to exit anyway.
		c.Alerts.Wait()
	}
}

func (c *Checker) tamperLogDir() string {
	if c.TamperLogDir != "" {
		return c.TamperLogDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sentinel")
}

func appendTamperLog(dir string, event TamperEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "tamper.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// loadChecksumFile reads the expected hash from the first valid checksum
// file. Returns "" if none is found.
func loadChecksumFile(paths []string) string {
	for _, p := range paths {
		// #nosec G304 -- fixed checksum locations.
		data, err := os.ReadFile(os.ExpandEnv(p))
		if err != nil {
			continue
		}
		hash := strings.TrimSpace(string(data))
		if len(hash) == 64 && isHex(hash) {
			return hash
		}
	}
	return ""
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func hashFile(path string) (string, error) {
	// #nosec G304 -- path is the running executable.
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

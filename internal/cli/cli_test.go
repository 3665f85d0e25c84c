package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/integrity"
)

type testEnv struct {
	dir      string
	artifact string
	trail    string
}

// useRulesConfig points the CLI at a rules-backend config in a temp dir and
// resets every flag when the test ends.
func useRulesConfig(t *testing.T) testEnv {
	t.Helper()
	for _, k := range []string{"SENTINEL_CONFIG", "SENTINEL_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY", "SENTINEL_API_URL", "SENTINEL_MODEL"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	env := testEnv{
		dir:      dir,
		artifact: filepath.Join(dir, "LOCKDOWN_TRACE.md"),
		trail:    filepath.Join(dir, "audit.jsonl"),
	}
	body := fmt.Sprintf(`oracle:
  backend: rules
lockdown:
  artifact_path: %s
audit:
  path: %s
watch:
  idle_interval: 10ms
  use_fsnotify: false
logging:
  level: error
`, env.artifact, env.trail)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	flagConfig = path
	t.Cleanup(func() {
		flagConfig, flagLogLevel, flagFormat = "", "", ""
		flagLogJSON = false
		batchDeterministic, batchReportPath = false, ""
		watchDeterministic = false
		tailLines, tailRunID, tailKind, auditStore = 10, "", "", ""
	})
	return env
}

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	return cmd, &out
}

func writeBatch(t *testing.T, dir string, contents ...string) string {
	t.Helper()
	entries := make([]map[string]string, 0, len(contents))
	for i, c := range contents {
		entries = append(entries, map[string]string{
			"timestamp": fmt.Sprintf("2026-01-01T00:00:0%dZ", i),
			"role":      "agent",
			"content":   c,
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "batch.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitClean},
		{"plain", errors.New("boom"), ExitFailure},
		{"config", &config.Error{Field: "oracle.api_key", Err: errors.New("missing")}, ExitConfig},
		{"wrapped config", fmt.Errorf("load: %w", &config.Error{Err: errors.New("x")}), ExitConfig},
		{"tampered", fmt.Errorf("%w (expected a, got b)", integrity.ErrTampered), ExitConfig},
		{"lockdown", lockdownError("trace.md"), ExitLockdown},
		{"explicit", &ExitError{Code: 3, Err: errors.New("x")}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestBatchCleanExitsZero(t *testing.T) {
	env := useRulesConfig(t)
	flagFormat = "json"
	input := writeBatch(t, env.dir, "job started", "job running", "job finished")

	cmd, out := newTestCmd()
	if err := runBatch(cmd, []string{input}); err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if !strings.Contains(out.String(), `"abLabsCompliance":"Pass"`) {
		t.Errorf("expected a passing JSON report, got %s", out.String())
	}
	if _, err := os.Stat(env.artifact); !os.IsNotExist(err) {
		t.Errorf("no artifact expected for a clean batch, stat err = %v", err)
	}

	res, err := audit.Tail(env.trail, 10, audit.Filter{})
	if err != nil {
		t.Fatalf("audit.Tail: %v", err)
	}
	if res.Summary.Classified != 3 || res.Summary.Lockdowns != 0 {
		t.Errorf("audit summary = %+v", res.Summary)
	}
}

func TestBatchLockdownExits100(t *testing.T) {
	env := useRulesConfig(t)
	batchReportPath = filepath.Join(env.dir, "report.md")
	input := writeBatch(t, env.dir, "job started", "customer lives at 10 Downing St", "job finished")

	cmd, _ := newTestCmd()
	err := runBatch(cmd, []string{input})
	if code := exitCode(err); code != ExitLockdown {
		t.Fatalf("exit code = %d (%v), want %d", code, err, ExitLockdown)
	}

	trace, rerr := os.ReadFile(env.artifact)
	if rerr != nil {
		t.Fatalf("artifact not written: %v", rerr)
	}
	if !strings.Contains(string(trace), "offset=1") {
		t.Errorf("trace should cite the violating record:\n%s", trace)
	}
	md, rerr := os.ReadFile(batchReportPath)
	if rerr != nil || !strings.Contains(string(md), "# Reasoning Integrity Audit") {
		t.Errorf("markdown report missing: %v", rerr)
	}
	if res := audit.Verify(env.trail); !res.Valid {
		t.Errorf("audit chain invalid: %+v", res)
	}
}

func TestBatchResumesExistingLockdown(t *testing.T) {
	env := useRulesConfig(t)
	if err := os.WriteFile(env.artifact, []byte("# previous lockdown\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd, _ := newTestCmd()
	err := runBatch(cmd, []string{filepath.Join(env.dir, "never-read.json")})
	if code := exitCode(err); code != ExitLockdown {
		t.Fatalf("exit code = %d (%v), want %d", code, err, ExitLockdown)
	}
}

func TestBatchMissingInputIsConfigError(t *testing.T) {
	env := useRulesConfig(t)
	cmd, _ := newTestCmd()
	err := runBatch(cmd, []string{filepath.Join(env.dir, "absent.json")})
	if code := exitCode(err); code != ExitConfig {
		t.Fatalf("exit code = %d (%v), want %d", code, err, ExitConfig)
	}
}

func TestBatchMissingCredentialIsConfigError(t *testing.T) {
	useRulesConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("oracle:\n  backend: http\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	flagConfig = path

	cmd, _ := newTestCmd()
	err := runBatch(cmd, []string{"unused.json"})
	if code := exitCode(err); code != ExitConfig {
		t.Fatalf("exit code = %d (%v), want %d", code, err, ExitConfig)
	}
}

func TestWatchLocksOnAppendedViolation(t *testing.T) {
	env := useRulesConfig(t)
	logPath := filepath.Join(env.dir, "agent.log")
	if err := os.WriteFile(logPath, []byte("old line at 10 Downing St\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd, _ := newTestCmd()
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runWatch(cmd, []string{logPath}) }()

	// Lines written before the watcher attaches are never delivered, so
	// keep appending until it picks one up.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if code := exitCode(err); code != ExitLockdown {
				t.Fatalf("exit code = %d (%v), want %d", code, err, ExitLockdown)
			}
			if _, err := os.Stat(env.artifact); err != nil {
				t.Fatalf("artifact not written: %v", err)
			}
			return
		case <-ticker.C:
			f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				t.Fatal(err)
			}
			_, _ = f.WriteString("shipping label: 221 Baker Street\n")
			_ = f.Close()
		case <-ctx.Done():
			t.Fatal("watch did not lock down in time")
		}
	}
}

func TestWatchStopsCleanlyOnCancel(t *testing.T) {
	env := useRulesConfig(t)
	logPath := filepath.Join(env.dir, "agent.log")

	ctx, cancel := context.WithCancel(context.Background())
	cmd, _ := newTestCmd()
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runWatch(cmd, []string{logPath}) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runWatch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestAuditVerifyAndTail(t *testing.T) {
	env := useRulesConfig(t)
	input := writeBatch(t, env.dir, "job started", "job finished")
	cmd, _ := newTestCmd()
	if err := runBatch(cmd, []string{input}); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	cmd, out := newTestCmd()
	if err := runAuditVerify(cmd, []string{env.trail}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out.String(), "OK: 2 entries verified") {
		t.Errorf("verify output = %q", out.String())
	}

	cmd, out = newTestCmd()
	tailLines = 1
	if err := runAuditTail(cmd, []string{env.trail}); err != nil {
		t.Fatalf("tail: %v", err)
	}
	if !strings.Contains(out.String(), "Audit trail") {
		t.Errorf("tail output = %q", out.String())
	}
}

func TestAuditVerifyDetectsTamper(t *testing.T) {
	env := useRulesConfig(t)
	input := writeBatch(t, env.dir, "job started", "job finished")
	cmd, _ := newTestCmd()
	if err := runBatch(cmd, []string{input}); err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	data, err := os.ReadFile(env.trail)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"status":"Clean"`, `"status":"Drift Detected"`, 1)
	if tampered == string(data) {
		t.Fatalf("fixture did not contain a Clean status: %s", data)
	}
	if err := os.WriteFile(env.trail, []byte(tampered), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd, _ = newTestCmd()
	err = runAuditVerify(cmd, []string{env.trail})
	if code := exitCode(err); code != ExitFailure {
		t.Fatalf("exit code = %d (%v), want %d", code, err, ExitFailure)
	}
}

func TestScanMasksMatches(t *testing.T) {
	useRulesConfig(t)
	cmd, out := newTestCmd()
	if err := runScan(cmd, []string{"ssn", "123-45-6789"}); err != nil {
		t.Fatalf("runScan: %v", err)
	}
	if !strings.Contains(out.String(), "ssn") {
		t.Errorf("expected an ssn match, got %q", out.String())
	}
	if strings.Contains(out.String(), "123-45-6789") {
		t.Errorf("value should be masked: %q", out.String())
	}
}

func TestScanNeedsNoCredential(t *testing.T) {
	useRulesConfig(t)
	flagConfig = ""
	t.Setenv("SENTINEL_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cmd, out := newTestCmd()
	if err := runScan(cmd, []string{"nothing to see"}); err != nil {
		t.Fatalf("runScan: %v", err)
	}
	if !strings.Contains(out.String(), "clean") {
		t.Errorf("output = %q", out.String())
	}
}

func TestVersionJSON(t *testing.T) {
	cmd, out := newTestCmd()
	versionCmd.Run(cmd, nil)
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %v", err)
	}
	if info["name"] != "sentinel" || info["version"] != Version {
		t.Errorf("info = %v", info)
	}
}

func TestStatusReportsArtifact(t *testing.T) {
	env := useRulesConfig(t)

	cmd, out := newTestCmd()
	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus without artifact: %v", err)
	}
	if !strings.Contains(out.String(), "WATCHING") {
		t.Errorf("output = %q", out.String())
	}

	if err := os.WriteFile(env.artifact, []byte("# trace\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cmd, out = newTestCmd()
	err := runStatus(cmd, nil)
	if code := exitCode(err); code != ExitLockdown {
		t.Fatalf("exit code = %d (%v), want %d", code, err, ExitLockdown)
	}
	if !strings.Contains(out.String(), "LOCKED") {
		t.Errorf("output = %q", out.String())
	}
}

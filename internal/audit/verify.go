package audit

import (
	"encoding/json"
	"fmt"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verifier checks a chain one serialized line at a time.
type Verifier struct {
	lines int
	prev  []byte
}

// Step validates the next line. It returns a failed result at the first
// broken link and nil while the chain holds.
func (v *Verifier) Step(line []byte) *VerifyResult {
	v.lines++

	var entry Entry
	if err := json.Unmarshal(line, &entry); err != nil {
		return &VerifyResult{Error: fmt.Sprintf("parse error: %v", err), ErrorLine: v.lines}
	}

	if v.lines == 1 {
		if entry.PrevHash != GenesisHash {
			return &VerifyResult{
				Error:     fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", entry.PrevHash),
				ErrorLine: 1,
			}
		}
	} else if expected := HashLine(v.prev); entry.PrevHash != expected {
		return &VerifyResult{
			Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", expected, entry.PrevHash),
			ErrorLine: v.lines,
		}
	}

	v.prev = append(v.prev[:0], line...)
	return nil
}

// Result is the verdict after the last Step.
func (v *Verifier) Result() VerifyResult {
	return VerifyResult{Valid: true, Lines: v.lines}
}

// Verify reads a JSONL audit log and validates the hash chain.
// Returns Valid=true if the chain is intact, or details about
// the first broken link.
func Verify(path string) VerifyResult {
	lines, err := readLines(path)
	if err != nil {
		return VerifyResult{Error: err.Error()}
	}
	var v Verifier
	for _, line := range lines {
		if res := v.Step(line); res != nil {
			return *res
		}
	}
	return v.Result()
}

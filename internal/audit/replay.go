package audit

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/sentinel/internal/model"
)

// Filter narrows a tail. Zero fields match everything.
type Filter struct {
	RunID  string
	Kind   string
	Stream string
}

func (f Filter) match(e Entry) bool {
	return (f.RunID == "" || e.RunID == f.RunID) &&
		(f.Kind == "" || e.Kind == f.Kind) &&
		(f.Stream == "" || e.Stream == f.Stream)
}

// Summary holds outcome counts over a set of entries.
type Summary struct {
	Total          int     `json:"total"`
	Classified     int     `json:"classified"`
	Skipped        int     `json:"skipped"`
	Violations     int     `json:"violations"`
	Lockdowns      int     `json:"lockdowns"`
	Restarts       int     `json:"restarts"`
	MinHealth      float64 `json:"min_reasoning_health"`
	FirstTimestamp string  `json:"first_timestamp"`
	LastTimestamp  string  `json:"last_timestamp"`
}

// TailResult is the last N matching entries and their summary.
type TailResult struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Tail reads a JSONL audit log and returns the last n entries matching the
// filter. n <= 0 returns all of them. Malformed lines are skipped.
func Tail(path string, n int, filter Filter) (*TailResult, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	return TailLines(lines, n, filter), nil
}

// TailLines is Tail over already-loaded serialized entries.
func TailLines(lines [][]byte, n int, filter Filter) *TailResult {
	var matched []Entry
	for _, line := range lines {
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if filter.match(entry) {
			matched = append(matched, entry)
		}
	}
	if n > 0 && len(matched) > n {
		matched = matched[len(matched)-n:]
	}

	result := &TailResult{Entries: matched}
	for _, e := range matched {
		updateSummary(&result.Summary, e)
	}
	return result
}

func updateSummary(s *Summary, e Entry) {
	s.Total++
	switch e.Kind {
	case KindClassified:
		s.Classified++
		if e.Status == string(model.StatusAxiomViolation) {
			s.Violations++
		}
		if s.Classified == 1 || e.ReasoningHealth < s.MinHealth {
			s.MinHealth = e.ReasoningHealth
		}
	case KindSkipped:
		s.Skipped++
	case KindLockdown:
		s.Lockdowns++
	case KindRestart:
		s.Restarts++
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}

// FormatJSON renders a TailResult as indented JSON.
func FormatJSON(result *TailResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tail result: %w", err)
	}
	return string(data), nil
}

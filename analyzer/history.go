package analyzer

import (
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

// DefaultHistorySize is the number of analysis records kept when no size is
// configured.
const DefaultHistorySize = 100

// HistoryEntry records one past analysis.
type HistoryEntry struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Diagnostics int       `json:"diagnostics"`
	Suggestions int       `json:"suggestions"`
	Degraded    bool      `json:"degraded,omitempty"`
}

// History is a bounded in-memory record of recent analyses, newest first.
// It is shared by concurrent tool invocations and guards itself; nothing is
// persisted across restarts.
type History struct {
	mu      sync.Mutex
	max     int
	entries []HistoryEntry
}

// NewHistory creates a history keeping at most max entries. A non-positive
// max falls back to DefaultHistorySize.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &History{max: max}
}

// Add records one analysis and returns the stored entry.
func (h *History) Add(fileName string, out Outcome) HistoryEntry {
	entry := HistoryEntry{
		ID:          uuid.New().String(),
		FileName:    fileName,
		Timestamp:   time.Now().UTC(),
		Diagnostics: len(out.Diagnostics),
		Suggestions: len(out.Suggestions),
		Degraded:    out.Degraded,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	return entry
}

// Recent returns up to limit entries, newest first. A non-empty pattern
// filters by fileName using glob matching; entries without a fileName only
// match the empty pattern.
func (h *History) Recent(pattern string, limit int) ([]HistoryEntry, error) {
	var matcher glob.Glob
	if pattern != "" {
		var err error
		matcher, err = glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}

	matched := make([]HistoryEntry, 0, limit)
	for i := len(h.entries) - 1; i >= 0 && len(matched) < limit; i-- {
		entry := h.entries[i]
		if matcher != nil && !matcher.Match(entry.FileName) {
			continue
		}
		matched = append(matched, entry)
	}
	return matched, nil
}

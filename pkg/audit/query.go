package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/forest6511/devlock/internal/fsutil"
)

// Summary aggregates attempt counts over a time window.
type Summary struct {
	Successes   int        `json:"successes"`
	Failures    int        `json:"failures"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// ExportOptions controls Export output.
type ExportOptions struct {
	Format         string    // "json" or "csv"
	Since          time.Time // zero = no lower bound
	Until          time.Time // zero = no upper bound
	IncludeEntered bool      // include the entered text of failed attempts
}

// rawLine keeps the original text next to its parsed form so a rewrite
// preserves lines byte for byte.
type rawLine struct {
	text  string
	event Event
	ok    bool
}

// readLines reads the whole log. A missing log is an empty log.
func (l *Logger) readLines() ([]rawLine, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	var lines []rawLine
	r := bufio.NewReader(f)
	for {
		text, err := r.ReadString('\n')
		if text != "" {
			event, perr := ParseLine(text)
			lines = append(lines, rawLine{text: text, event: event, ok: perr == nil})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read log file: %w", err)
		}
	}
	return lines, nil
}

// readEvents returns the parseable events in file order.
func (l *Logger) readEvents() ([]Event, error) {
	lines, err := l.readLines()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		if line.ok {
			events = append(events, line.event)
		}
	}
	return events, nil
}

// ListEvents returns audit events with optional filtering
// limit: maximum number of events to return (0 = all)
// since: only return events at or after this time (zero = no filter)
//
// All queries in this package treat since and until as inclusive bounds.
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	allEvents, err := l.readEvents()
	if err != nil {
		return nil, err
	}

	filtered := allEvents
	if !since.IsZero() {
		filtered = filtered[:0:0]
		for _, event := range allEvents {
			if !event.Timestamp.Before(since) {
				filtered = append(filtered, event)
			}
		}
	}

	// Apply limit (return most recent events)
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	return filtered, nil
}

// Summary counts successes and failures at or after since (zero = all time).
func (l *Logger) Summary(since time.Time) (*Summary, error) {
	events, err := l.ListEvents(0, since)
	if err != nil {
		return nil, err
	}

	s := &Summary{}
	for _, event := range events {
		ts := event.Timestamp
		switch event.Outcome {
		case OutcomeSuccess:
			s.Successes++
			if s.LastSuccess == nil || ts.After(*s.LastSuccess) {
				s.LastSuccess = &ts
			}
		case OutcomeFailure:
			s.Failures++
			if s.LastFailure == nil || ts.After(*s.LastFailure) {
				s.LastFailure = &ts
			}
		}
	}
	return s, nil
}

// Export exports audit events in the specified format (json or csv).
// Entered text is left out; use ExportWithOptions to include it.
func (l *Logger) Export(format string, since, until time.Time) ([]byte, error) {
	return l.ExportWithOptions(ExportOptions{Format: format, Since: since, Until: until})
}

// ExportWithOptions exports events between opts.Since and opts.Until inclusive.
func (l *Logger) ExportWithOptions(opts ExportOptions) ([]byte, error) {
	if opts.Format != "json" && opts.Format != "csv" {
		return nil, fmt.Errorf("audit: unsupported format: %s", opts.Format)
	}

	l.mu.Lock()
	allEvents, err := l.readEvents()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	filtered := make([]Event, 0, len(allEvents))
	for _, event := range allEvents {
		if !opts.Since.IsZero() && event.Timestamp.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && event.Timestamp.After(opts.Until) {
			continue
		}
		if !opts.IncludeEntered {
			event.Entered = ""
		}
		filtered = append(filtered, event)
	}

	if opts.Format == "csv" {
		return formatCSV(filtered, opts.IncludeEntered), nil
	}
	return json.MarshalIndent(filtered, "", "  ")
}

// formatCSV formats events as CSV with proper escaping
func formatCSV(events []Event, includeEntered bool) []byte {
	var b strings.Builder

	b.WriteString("timestamp,outcome")
	if includeEntered {
		b.WriteString(",entered")
	}
	b.WriteByte('\n')

	for _, event := range events {
		b.WriteString(csvEscape(event.Timestamp.Format(time.RFC3339)))
		b.WriteByte(',')
		b.WriteString(csvEscape(string(event.Outcome)))
		if includeEntered {
			b.WriteByte(',')
			b.WriteString(csvEscape(event.Entered))
		}
		b.WriteByte('\n')
	}

	return []byte(b.String())
}

// csvEscape escapes a field for CSV output to prevent injection attacks
func csvEscape(field string) string {
	if field == "" {
		return field
	}

	// Also quote fields starting with =, +, -, @, tab or CR to prevent
	// formula injection
	needsQuoting := strings.ContainsAny(field[:1], "=+-@\t\r") ||
		strings.ContainsAny(field, ",\"\n\r")
	if !needsQuoting {
		return field
	}

	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// Prune deletes log lines whose timestamp is at or before now-olderThan and
// returns how many were deleted. Unparseable lines are kept.
func (l *Logger) Prune(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)

	lines, err := l.readLines()
	if err != nil {
		return 0, err
	}

	var remaining strings.Builder
	deletedCount := 0
	for _, line := range lines {
		if line.ok && !line.event.Timestamp.After(cutoff) {
			deletedCount++
			continue
		}
		remaining.WriteString(line.text)
	}

	if deletedCount == 0 {
		return 0, nil
	}

	if remaining.Len() == 0 {
		if err := os.Remove(l.path); err != nil {
			return 0, fmt.Errorf("audit: failed to delete %s: %w", l.path, err)
		}
		return deletedCount, nil
	}

	if err := fsutil.WriteFileAtomic(l.path, []byte(remaining.String())); err != nil {
		return 0, fmt.Errorf("audit: failed to rewrite %s: %w", l.path, err)
	}
	return deletedCount, nil
}

// PrunePreview returns the count of entries that would be deleted
// without actually deleting them (for --dry-run)
func (l *Logger) PrunePreview(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)

	events, err := l.readEvents()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, event := range events {
		if !event.Timestamp.After(cutoff) {
			count++
		}
	}
	return count, nil
}

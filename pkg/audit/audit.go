// Package audit records every credential verification in an append-only,
// human-readable log and provides the operator-side queries over it.
//
// Each attempt is one line:
//
//	[2006-01-02 15:04:05] SUCCESSFUL LOGIN
//	[2006-01-02 15:04:05] FAILED LOGIN - Entered: <text>
//
// Timestamps are local time with second resolution. The entered text of
// a failed attempt is stored as typed, except that CR, LF and backslash
// are written as \r, \n and \\ so one attempt stays one line and the
// text can be recovered exactly. ParseLine reverses the escaping; an
// unknown backslash sequence is kept literally.
package audit

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/forest6511/devlock/internal/fsutil"
)

// DefaultFileName is the attempt log name used when none is configured.
const DefaultFileName = "attempts.log"

// TimestampLayout is the layout of the bracketed timestamp on each line.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	successMarker = "SUCCESSFUL LOGIN"
	failurePrefix = "FAILED LOGIN - Entered:"
)

// Outcome of a recorded attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ErrMalformedLine is returned by ParseLine for lines not written by Logger.
var ErrMalformedLine = errors.New("audit: malformed log line")

// Event is a single recorded attempt.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Outcome   Outcome   `json:"outcome"`
	Entered   string    `json:"entered,omitempty"` // failures only
}

// Logger appends attempt records to a single log file. The file is opened
// and closed on every write; nothing is cached between calls.
type Logger struct {
	path   string
	mu     sync.Mutex // serializes writes and rewrites
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source used for new records and prune cutoffs.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for disk-space warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLogger creates an attempt logger writing to path.
func NewLogger(path string, opts ...Option) *Logger {
	l := &Logger{
		path:   path,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the attempt log path.
func (l *Logger) Path() string {
	return l.path
}

// LogSuccess records a successful unlock.
func (l *Logger) LogSuccess() error {
	return l.Record(OutcomeSuccess, "")
}

// LogFailure records a rejected attempt together with the entered text.
func (l *Logger) LogFailure(entered string) error {
	return l.Record(OutcomeFailure, entered)
}

// Record appends one line for the given outcome. entered is ignored for
// successes.
func (l *Logger) Record(outcome Outcome, entered string) error {
	line, err := FormatLine(Event{
		Timestamp: l.now(),
		Outcome:   outcome,
		Entered:   entered,
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, fsutil.DirMode); err != nil {
		return fmt.Errorf("audit: failed to create log directory: %w", err)
	}
	if err := fsutil.CheckDiskSpaceForWrite(dir, len(line), l.logger.Warn); err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fsutil.FileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audit: failed to close log file: %w", err)
	}
	return nil
}

// FormatLine renders an event as a newline-terminated log line.
func FormatLine(e Event) (string, error) {
	ts := "[" + e.Timestamp.Local().Format(TimestampLayout) + "] "
	switch e.Outcome {
	case OutcomeSuccess:
		return ts + successMarker + "\n", nil
	case OutcomeFailure:
		return ts + failurePrefix + " " + escapeEntered(e.Entered) + "\n", nil
	default:
		return "", fmt.Errorf("audit: unknown outcome %q", e.Outcome)
	}
}

// ParseLine parses one line written by Logger. A trailing newline is
// ignored. Entered text is returned unescaped, exactly as it was typed.
func ParseLine(line string) (Event, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	// "[" + timestamp + "] "
	const headerLen = len(TimestampLayout) + 3
	if len(line) < headerLen || line[0] != '[' || line[headerLen-2:headerLen] != "] " {
		return Event{}, ErrMalformedLine
	}

	ts, err := time.ParseInLocation(TimestampLayout, line[1:headerLen-2], time.Local)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	body := line[headerLen:]
	switch {
	case body == successMarker:
		return Event{Timestamp: ts, Outcome: OutcomeSuccess}, nil
	case strings.HasPrefix(body, failurePrefix):
		entered := strings.TrimPrefix(body[len(failurePrefix):], " ")
		return Event{Timestamp: ts, Outcome: OutcomeFailure, Entered: unescapeEntered(entered)}, nil
	default:
		return Event{}, ErrMalformedLine
	}
}

var (
	enteredEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`)
	enteredUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r", `\n`, "\n")
)

func escapeEntered(s string) string {
	return enteredEscaper.Replace(s)
}

func unescapeEntered(s string) string {
	return enteredUnescaper.Replace(s)
}

// Package logbuf keeps a bounded in-memory tail of application log lines so
// the API can serve GET /logs without owning log storage.
package logbuf

import (
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Buffer is a fixed-capacity ring of log entries.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

// New creates a buffer holding at most maxSize entries.
func New(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Buffer{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Append records an entry, evicting the oldest when full.
func (b *Buffer) Append(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.maxSize {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	})
}

// Tail returns the most recent limit entries, newest-last.
func (b *Buffer) Tail(limit int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.entries) {
		limit = len(b.entries)
	}
	out := make([]Entry, limit)
	copy(out, b.entries[len(b.entries)-limit:])
	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Writer adapts the buffer to io.Writer so it can be teed behind the stdlib
// logger. Each Write is treated as one line; the stdlib date/time prefix is
// stripped since entries carry their own timestamp.
type Writer struct {
	buf *Buffer
}

// NewWriter returns an io.Writer feeding b.
func NewWriter(b *Buffer) *Writer {
	return &Writer{buf: b}
}

func (w *Writer) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	msg := stripLogPrefix(line)
	if msg == "" {
		return len(p), nil
	}
	w.buf.Append(classify(msg), msg)
	return len(p), nil
}

// stripLogPrefix removes the "2006/01/02 15:04:05 " prefix emitted by the
// stdlib logger's default flags.
func stripLogPrefix(line string) string {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) == 3 && len(fields[0]) == 10 && len(fields[1]) == 8 &&
		strings.Count(fields[0], "/") == 2 && strings.Count(fields[1], ":") == 2 {
		return fields[2]
	}
	return line
}

func classify(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return "error"
	case strings.Contains(lower, "warn"):
		return "warning"
	default:
		return "info"
	}
}

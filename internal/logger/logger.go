// Package logger sets up structured logging to a rotating file, with recent
// warnings and errors kept in memory for the status bar.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is a captured WARN or ERROR record.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
}

// Format renders the entry on one line.
func (e Entry) Format() string {
	return fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05"), e.Level.String(), e.Message)
}

// ringBuffer is a fixed-size circular buffer for log entries.
type ringBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	head    int
	count   int

	warnCount  int
	errorCount int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

func (rb *ringBuffer) add(entry Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	if entry.Level >= slog.LevelError {
		rb.errorCount++
	} else if entry.Level >= slog.LevelWarn {
		rb.warnCount++
	}
}

func (rb *ringBuffer) all() []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]Entry, rb.count)
	for i := 0; i < rb.count; i++ {
		idx := (rb.head - rb.count + i + rb.size) % rb.size
		result[i] = rb.entries[idx]
	}
	return result
}

func (rb *ringBuffer) counts() (warn, err int) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.warnCount, rb.errorCount
}

func (rb *ringBuffer) clearCounts() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.warnCount = 0
	rb.errorCount = 0
}

// captureHandler records WARN and ERROR entries before passing records on.
type captureHandler struct {
	inner  slog.Handler
	buffer *ringBuffer
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.buffer.add(Entry{Time: r.Time, Level: r.Level, Message: r.Message})
	}
	return h.inner.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{inner: h.inner.WithAttrs(attrs), buffer: h.buffer}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{inner: h.inner.WithGroup(name), buffer: h.buffer}
}

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// Options configure a Logger.
type Options struct {
	// Level is one of debug, info, warn or error.
	Level string
	// Path of the log file. Empty disables file output.
	Path string
	// Console receives WARN and ERROR records as text, typically os.Stderr.
	Console io.Writer
	// BufferSize is the number of captured entries kept; 100 when zero.
	BufferSize int
}

// Logger owns the slog logger, its rotating file and the capture buffer.
type Logger struct {
	*slog.Logger
	path   string
	writer *lumberjack.Logger
	buffer *ringBuffer
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger. The file is written as JSON and rotated at 10 MB,
// keeping 3 compressed backups for 7 days.
func New(opts Options) (*Logger, error) {
	size := opts.BufferSize
	if size <= 0 {
		size = 100
	}
	l := &Logger{buffer: newRingBuffer(size), path: opts.Path}

	var handlers fanoutHandler
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.writer = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(l.writer, &slog.HandlerOptions{Level: ParseLevel(opts.Level)}))
	}
	if opts.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Console, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, nil))
	}

	l.Logger = slog.New(&captureHandler{inner: handlers, buffer: l.buffer})
	return l, nil
}

// Init creates a Logger and installs it as the slog default.
func Init(opts Options) (*Logger, error) {
	l, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l.Logger)
	return l, nil
}

// Path returns the log file path, empty when logging to file is off.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.writer != nil {
		return l.writer.Close()
	}
	return nil
}

// Counts returns the warnings and errors logged since the last ClearCounts.
func (l *Logger) Counts() (warn, err int) {
	return l.buffer.counts()
}

// ClearCounts resets the warning and error counters.
func (l *Logger) ClearCounts() {
	l.buffer.clearCounts()
}

// Recent returns the captured entries, oldest first.
func (l *Logger) Recent() []Entry {
	return l.buffer.all()
}

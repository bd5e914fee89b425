package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

// biblHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<mountID>\t<message>\t<key=value ...>
type biblHandler struct {
	w       io.Writer
	mountID string
	level   slog.Leveler
	attrs   []slog.Attr
}

func (h *biblHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.level == nil {
		return true
	}
	return level >= h.level.Level()
}

func (h *biblHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	level := r.Level.String()

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, level, h.mountID, r.Message)
	if err != nil {
		return err
	}

	// Write pre-set attrs.
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}

	// Write per-record attrs.
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *biblHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &biblHandler{
		w:       h.w,
		mountID: h.mountID,
		level:   h.level,
		attrs:   append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *biblHandler) WithGroup(string) slog.Handler { return h }

// parseLevel maps a config level name to a slog level.
func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// stderrIsTerminal is replaced in tests.
var stderrIsTerminal = func() bool { return term.IsTerminal(int(os.Stderr.Fd())) }

// newLogger creates a structured logger. With a logDir it writes to
// logDir/biblfs.log, and also to stderr when stderr is a terminal; without
// one it writes to stderr only. It returns the slog.Logger, the open log
// file (nil without logDir), and any error.
func newLogger(logDir, mountID string, level slog.Level) (*slog.Logger, *os.File, error) {
	if logDir == "" {
		return slog.New(&biblHandler{w: os.Stderr, mountID: mountID, level: level}), nil, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "biblfs.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var w io.Writer = f
	if stderrIsTerminal() {
		w = io.MultiWriter(f, os.Stderr)
	}
	handler := &biblHandler{w: w, mountID: mountID, level: level}
	return slog.New(handler), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the biblfs.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

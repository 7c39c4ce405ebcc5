// Package logging provides the structured, leveled loggers used throughout
// the council engine. Each subsystem owns one Logger, backed by the same
// dual-stream btclog/v2 handler set (console plus an optional rotating log
// file) that the rest of the daemon uses.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"

	"github.com/roasbeef/councilreview/internal/build"
)

// root is the process-wide handler set. By default it logs to stderr only;
// AddWriter replaces it with one that also writes to another writer.
var root = build.NewHandlerSet(
	btclogv2.NewDefaultHandler(os.Stderr),
)

// SetLevel adjusts the level of every subsystem logger created through this
// package.
func SetLevel(level btclog.Level) {
	root.SetLevel(level)
}

// AddWriter fans log output out to an additional writer (e.g. a rotating
// log file), on top of the default stderr stream. Only loggers created by
// New after the call write to w; loggers created earlier keep the previous
// handler set.
func AddWriter(w io.Writer) {
	root = build.NewHandlerSet(
		btclogv2.NewDefaultHandler(os.Stderr),
		btclogv2.NewDefaultHandler(w),
	)
}

// Logger is a subsystem-scoped structured logger. It wraps slog with the
// InfoS/WarnS/ErrorS/DebugS/TraceS convention used across the engine: a
// message followed by alternating key/value pairs, with an explicit
// context.Context threaded through for cancellation-aware log correlation.
type Logger struct {
	sl *slog.Logger
}

// New returns a Logger tagged with the given subsystem name.
func New(subsystem string) *Logger {
	handler := root.SubSystem(subsystem)
	return &Logger{sl: slog.New(handler)}
}

// InfoS logs at info level.
func (l *Logger) InfoS(ctx context.Context, msg string, kv ...any) {
	l.sl.InfoContext(ctx, msg, kv...)
}

// WarnS logs at warn level.
func (l *Logger) WarnS(ctx context.Context, msg string, kv ...any) {
	l.sl.WarnContext(ctx, msg, kv...)
}

// ErrorS logs at error level.
func (l *Logger) ErrorS(ctx context.Context, msg string, kv ...any) {
	l.sl.ErrorContext(ctx, msg, kv...)
}

// DebugS logs at debug level.
func (l *Logger) DebugS(ctx context.Context, msg string, kv ...any) {
	l.sl.DebugContext(ctx, msg, kv...)
}

// TraceS logs at the finest granularity. slog has no trace level, so this
// is carried as a debug record tagged with level=trace.
func (l *Logger) TraceS(ctx context.Context, msg string, kv ...any) {
	l.sl.DebugContext(ctx, msg, append([]any{"level", "trace"}, kv...)...)
}

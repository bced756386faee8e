// Package telemetry implements the two structured-observability channels the
// session engine publishes to (spec.md §4.J): a structured log sink carrying
// session_id/item_no context, and a bounded drop-oldest progress stream that
// external collaborators subscribe to.
package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// Event is one structured log entry emitted by the engine. Mirrors the
// slog.String/slog.Int attribute shape the teacher's middleware and storage
// packages use throughout, but captured as a typed value so a Sink can
// forward it somewhere other than slog (e.g. Kafka).
type Event struct {
	SessionID string
	ItemNo    int
	Level     slog.Level
	Message   string
	Monotonic time.Time
}

// Sink receives structured log events. Logger.Log calls each sink
// synchronously and waits for it, so implementations must not block the
// caller for long.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Logger fans a session's structured events out to slog and any optional
// Sink (e.g. KafkaSink), attaching session_id/item_no consistently.
type Logger struct {
	base  *slog.Logger
	sinks []Sink
}

// NewLogger wraps base, attaching optional extra sinks constructed via
// functional options (the same composition idiom the teacher uses for
// storage.WithFieldResolver).
func NewLogger(base *slog.Logger, opts ...LoggerOption) *Logger {
	l := &Logger{base: base}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoggerOption configures optional Logger behavior.
type LoggerOption func(*Logger)

// WithSink adds an additional Sink that every event is forwarded to,
// best-effort: forwarding errors are logged to the base logger, never
// propagated to the caller.
func WithSink(s Sink) LoggerOption {
	return func(l *Logger) {
		l.sinks = append(l.sinks, s)
	}
}

// Log records one structured event for sessionID/itemNo (itemNo 0 when the
// event is session-scoped rather than item-scoped).
func (l *Logger) Log(ctx context.Context, sessionID string, itemNo int, level slog.Level, msg string, args ...any) {
	attrs := append([]any{
		slog.String("session_id", sessionID),
		slog.Int("item_no", itemNo),
	}, args...)

	l.base.Log(ctx, level, msg, attrs...)

	if len(l.sinks) == 0 {
		return
	}

	ev := Event{
		SessionID: sessionID,
		ItemNo:    itemNo,
		Level:     level,
		Message:   msg,
		Monotonic: time.Now(),
	}

	for _, sink := range l.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			l.base.Warn("telemetry: sink publish failed", slog.String("error", err.Error()))
		}
	}
}

// Info is a convenience wrapper around Log at slog.LevelInfo.
func (l *Logger) Info(ctx context.Context, sessionID string, itemNo int, msg string, args ...any) {
	l.Log(ctx, sessionID, itemNo, slog.LevelInfo, msg, args...)
}

// Error is a convenience wrapper around Log at slog.LevelError.
func (l *Logger) Error(ctx context.Context, sessionID string, itemNo int, msg string, args ...any) {
	l.Log(ctx, sessionID, itemNo, slog.LevelError, msg, args...)
}

package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger is an interface for logging
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
}

type contextKey string

const subjectKey contextKey = "subject"

// WithSubject attaches the authenticated caller to ctx so every entry carries it
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFrom returns the subject set by WithSubject
func SubjectFrom(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey).(string)
	return subject, ok && subject != ""
}

// ZeroLogger implements Logger using zerolog
type ZeroLogger struct {
	logger zerolog.Logger
	out    io.Writer
	json   bool
	level  zerolog.Level
}

// Option configures a ZeroLogger
type Option func(*ZeroLogger)

// New creates a new ZeroLogger
func New(options ...Option) *ZeroLogger {
	l := &ZeroLogger{out: os.Stdout, level: zerolog.InfoLevel}
	for _, option := range options {
		option(l)
	}

	var output io.Writer = l.out
	if !l.json {
		output = zerolog.ConsoleWriter{Out: l.out, TimeFormat: time.RFC3339}
	}
	l.logger = zerolog.New(output).Level(l.level).With().Timestamp().Logger()
	return l
}

// WithLevel sets the minimum level
func WithLevel(level string) Option {
	return func(l *ZeroLogger) {
		switch level {
		case "debug":
			l.level = zerolog.DebugLevel
		case "info":
			l.level = zerolog.InfoLevel
		case "warn":
			l.level = zerolog.WarnLevel
		case "error":
			l.level = zerolog.ErrorLevel
		default:
			l.level = zerolog.InfoLevel
		}
	}
}

// WithOutput redirects log output
func WithOutput(w io.Writer) Option {
	return func(l *ZeroLogger) {
		l.out = w
	}
}

// WithJSON switches from the console writer to line-delimited JSON
func WithJSON(enabled bool) Option {
	return func(l *ZeroLogger) {
		l.json = enabled
	}
}

// Info logs an info message
func (l *ZeroLogger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Info(), msg, fields)
}

// Warn logs a warning message
func (l *ZeroLogger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Warn(), msg, fields)
}

// Error logs an error message
func (l *ZeroLogger) Error(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Error(), msg, fields)
}

// Debug logs a debug message
func (l *ZeroLogger) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Debug(), msg, fields)
}

func (l *ZeroLogger) write(ctx context.Context, event *zerolog.Event, msg string, fields map[string]interface{}) {
	// disabled level
	if event == nil {
		return
	}
	if ctx != nil {
		if requestID := middleware.GetReqID(ctx); requestID != "" {
			event = event.Str("request_id", requestID)
		}
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			event = event.Str("trace_id", sc.TraceID().String())
		}
		if subject, ok := SubjectFrom(ctx); ok {
			event = event.Str("subject", subject)
		}
	}

	for k, v := range fields {
		event = event.Interface(k, v)
	}

	event.Msg(msg)
}

// Nop returns a Logger that discards everything
func Nop() Logger {
	return New(WithOutput(io.Discard), WithLevel("error"))
}

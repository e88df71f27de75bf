package vecnode

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with vecnode-specific structured helpers.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler. If handler is nil,
// a text handler writing to stderr at Info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger returns a Logger that discards all output. It is the default
// so embedding this core never forces log configuration on the caller.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(1000)}))}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{Logger: l.Logger.With("dimension", dim)}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{Logger: l.Logger.With("count", count)}
}

// LogTrain logs a Train call.
func (l *Logger) LogTrain(ctx context.Context, n int, metric string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "train failed", "trainingVectors", n, "metric", metric, "error", err)
		return
	}
	l.InfoContext(ctx, "train completed", "trainingVectors", n, "metric", metric)
}

// LogAdd logs an Add call.
func (l *Logger) LogAdd(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed", "count", count, "error", err)
		return
	}
	l.DebugContext(ctx, "add completed", "count", count)
}

// LogSearch logs a Search or RangeSearch call.
func (l *Logger) LogSearch(ctx context.Context, k int, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "error", err)
		return
	}
	l.DebugContext(ctx, "search completed", "k", k, "results", resultsFound)
}

// LogSerialize logs a Serialize/Deserialize call.
func (l *Logger) LogSerialize(ctx context.Context, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "serialize failed", "error", err)
		return
	}
	l.InfoContext(ctx, "serialize completed", "bytes", bytes)
}

// LogIteratorStep logs one IteratorWorkspace.Next call.
func (l *Logger) LogIteratorStep(ctx context.Context, visited int, exhausted bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "iterator step failed", "error", err)
		return
	}
	l.DebugContext(ctx, "iterator step completed", "visited", visited, "exhausted", exhausted)
}

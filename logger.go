package somgo

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with somgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithInstance adds an instance id field to the logger.
func (l *Logger) WithInstance(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("instance", id),
	}
}

// LogCreate logs an instance creation.
func (l *Logger) LogCreate(id string, width, height, dimension int, err error) {
	if err != nil {
		l.Error("create instance failed", "error", err)
	} else {
		l.Info("instance created",
			"instance", id,
			"grid_width", width,
			"grid_height", height,
			"dimension", dimension,
		)
	}
}

// LogLoad logs a data load operation.
func (l *Logger) LogLoad(id string, loaded, rejected int, err error) {
	switch {
	case err != nil:
		l.Error("load failed", "instance", id, "error", err)
	case rejected > 0:
		l.Warn("load completed with rejects",
			"instance", id,
			"loaded", loaded,
			"rejected", rejected,
		)
	default:
		l.Info("load completed", "instance", id, "loaded", loaded)
	}
}

// LogTrainStart logs the acceptance of a training run.
func (l *Logger) LogTrainStart(id string, epochs, batchSize int) {
	l.Info("training accepted", "instance", id, "epochs", epochs, "batch_size", batchSize)
}

// LogDelete logs an instance deletion.
func (l *Logger) LogDelete(id string, waited time.Duration) {
	l.Info("instance deleted", "instance", id, "cancel_wait", waited)
}

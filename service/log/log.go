package log

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	level       = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base        *zap.Logger
	initialized sync.Once
)

func defaultLogger() *zap.Logger {
	initialized.Do(func() {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), level)
		base = zap.New(core)
	})
	return base
}

// SetLevel changes the level of the process-wide logger
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// Logger returns the logger attached to ctx, or the process-wide logger
func Logger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return defaultLogger()
}

// WithLogger returns a context carrying the given logger
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// With returns a context whose logger logs the additional key/value field
func With(ctx context.Context, key string, value interface{}) context.Context {
	return context.WithValue(ctx, ctxKey{}, Logger(ctx).With(zap.Any(key, value)))
}

// Fatal logs the message with the process-wide logger and exits
func Fatal(msg string, fields ...zap.Field) {
	defaultLogger().Fatal(msg, fields...)
}

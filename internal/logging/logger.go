package logging

import "context"

type ctxkey struct{}

// With attaches a logger to the context.
func With(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxkey{}, logger)
}

// FromContext returns the scoped logger, or a no-op logger if none was
// attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxkey{}).(Logger); ok {
		return l
	}
	return NewNopLogger()
}

// Logger provides an abstract logging interface designed around uber-go/zap's
// sugared logger.
//
// Callers must never pass token values, authorization codes or client
// secrets as fields.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})

	// Named creates a child logger with the given name.
	Named(name string) Logger

	// With creates a child logger and attaches structured context to it.
	With(field string, value interface{}) Logger

	// Sync flushes buffered log entries.
	Sync() error
}

// helperSkipper is implemented by loggers that can report the caller of the
// ctx helpers below instead of the helpers themselves.
type helperSkipper interface {
	forHelpers() Logger
}

func fromContextForHelper(ctx context.Context) Logger {
	l := FromContext(ctx)
	if h, ok := l.(helperSkipper); ok {
		return h.forHelpers()
	}
	return l
}

func Debugw(ctx context.Context, msg string, fields ...interface{}) {
	fromContextForHelper(ctx).Debugw(msg, fields...)
}

func Infow(ctx context.Context, msg string, fields ...interface{}) {
	fromContextForHelper(ctx).Infow(msg, fields...)
}

func Warnw(ctx context.Context, msg string, fields ...interface{}) {
	fromContextForHelper(ctx).Warnw(msg, fields...)
}

func Errorw(ctx context.Context, msg string, fields ...interface{}) {
	fromContextForHelper(ctx).Errorw(msg, fields...)
}

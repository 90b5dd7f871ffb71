package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewDevLogger returns a zap logger that prints dev friendly output.
func NewDevLogger() Logger {
	l, _ := zap.NewDevelopment(zap.AddCallerSkip(1))
	return newZapLogger(l.Sugar())
}

// NewProdLogger returns a zap logger that outputs JSON.
func NewProdLogger() Logger {
	l, _ := zap.NewProduction(zap.AddCallerSkip(1))
	return newZapLogger(l.Sugar())
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return newZapLogger(zap.NewNop().Sugar())
}

// NewZapLogger wraps an existing zap core, mostly useful for tests that
// capture output with zaptest/observer. Callers are reported like the dev and
// prod loggers do.
func NewZapLogger(core zapcore.Core) Logger {
	return newZapLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar())
}

// ZapLogger is a logging adapter for a Zap Sugared Logger.
type ZapLogger struct {
	z *zap.SugaredLogger

	// helper skips the extra frame of the package level ctx helpers.
	helper *zap.SugaredLogger
}

func newZapLogger(s *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{z: s, helper: s.WithOptions(zap.AddCallerSkip(1))}
}

func (z *ZapLogger) forHelpers() Logger {
	return &ZapLogger{z: z.helper, helper: z.helper}
}

func (z *ZapLogger) Debugw(msg string, keysAndValues ...interface{}) {
	z.z.Debugw(msg, keysAndValues...)
}

func (z *ZapLogger) Infow(msg string, keysAndValues ...interface{}) {
	z.z.Infow(msg, keysAndValues...)
}

func (z *ZapLogger) Warnw(msg string, keysAndValues ...interface{}) {
	z.z.Warnw(msg, keysAndValues...)
}

func (z *ZapLogger) Errorw(msg string, keysAndValues ...interface{}) {
	z.z.Errorw(msg, keysAndValues...)
}

func (z *ZapLogger) Fatalw(msg string, keysAndValues ...interface{}) {
	z.z.Fatalw(msg, keysAndValues...)
}

func (z *ZapLogger) Named(name string) Logger {
	return newZapLogger(z.z.Named(name))
}

func (z *ZapLogger) With(field string, value interface{}) Logger {
	return newZapLogger(z.z.With(field, value))
}

func (z *ZapLogger) Sync() error {
	return z.z.Sync()
}

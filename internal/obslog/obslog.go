// Package obslog provides the sugared-zap logger shared by every long-lived
// component, matching the call shape of go-datatrails-common's
// logger.Sugar.WithServiceName(...) (that private module has no inspectable
// source in this tree, so its shape is reproduced directly over zap rather
// than guessed at).
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a component-scoped sugared logger.
type Logger struct {
	s *zap.SugaredLogger
}

var base *zap.Logger

// New initializes the process-wide zap base logger at the given level
// ("DEBUG", "INFO", "WARNING", "ERROR").
func New(level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	base = l
	return nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "DEBUG":
		return zap.DebugLevel
	case "WARNING":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// With returns a Logger scoped to the named component, analogous to
// logger.Sugar.WithServiceName(component).
func With(component string) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{s: base.Sugar().With("component", component)}
}

func (l *Logger) Debugf(tmpl string, args ...any) { l.s.Debugf(tmpl, args...) }
func (l *Logger) Infof(tmpl string, args ...any) { l.s.Infof(tmpl, args...) }
func (l *Logger) Warnf(tmpl string, args ...any) { l.s.Warnf(tmpl, args...) }
func (l *Logger) Errorf(tmpl string, args ...any) { l.s.Errorf(tmpl, args...) }

// Sync flushes any buffered log entries; call during shutdown.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}

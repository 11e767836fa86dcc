package logging

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output names accepted by Config.Output.
const (
	CONSOLE = "console"
	JOURNAL = "journal"
)

// Logger wraps a *zap.SugaredLogger with named child loggers and a
// configured periodic-logging interval, the way every long-running
// component in this module (worker runtimes, the dispatcher) wants to emit
// the occasional "n rows processed" summary without flooding the log at
// debug level.
type Logger struct {
	*zap.SugaredLogger

	name     string
	interval time.Duration
	core     zapcore.Core
	options  Options
}

// NewLogger creates a root Logger from the given Config.
//
// identifier is used both as the systemd-journald SYSLOG_IDENTIFIER (when
// Config.Output is JOURNAL) and as a prefix for named child loggers created
// via Logger.With.
func NewLogger(identifier string, c *Config) (*Logger, error) {
	if err := AssertOutput(c.Output); err != nil {
		return nil, errors.WithStack(err)
	}

	var core zapcore.Core
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch c.Output {
	case JOURNAL:
		core = NewJournaldCore(identifier, c.Level)
	default:
		encoder := zapcore.NewConsoleEncoder(encoderConfig)
		core = zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), c.Level)
	}

	return &Logger{
		SugaredLogger: zap.New(core).Sugar(),
		name:          identifier,
		interval:      c.Interval,
		core:          core,
		options:       c.Options,
	}, nil
}

// With returns a named child Logger for the given subsystem, honoring any
// per-name level override from Config.Options and falling back to this
// Logger's own level otherwise.
func (l *Logger) With(name string) *Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}

	child := &Logger{
		SugaredLogger: l.SugaredLogger.Named(name),
		name:          full,
		interval:      l.interval,
		core:          l.core,
		options:       l.options,
	}

	if lvl, ok := l.options[name]; ok {
		child.SugaredLogger = zap.New(&levelOverrideCore{Core: l.core, level: lvl}).Sugar().Named(full)
	}

	return child
}

// levelOverrideCore re-enables a core at a specific level, ignoring whatever
// level the wrapped core was originally constructed with. Used so a single
// named child logger can be turned up or down via Config.Options without
// rebuilding the whole output pipeline (encoder, writer, journald socket).
type levelOverrideCore struct {
	zapcore.Core
	level zapcore.Level
}

func (c *levelOverrideCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.level
}

func (c *levelOverrideCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Interval returns the periodic-logging interval this Logger was configured
// with, for use with the periodic package.
func (l *Logger) Interval() time.Duration {
	return l.interval
}

// Debug forwards to the underlying zap sugared logger. It exists so that
// non-zap callers (e.g. a driver's own logging hook) can be adapted with a
// plain func(...interface{}) without importing zap.
func (l *Logger) Debug(args ...interface{}) {
	l.SugaredLogger.Debug(args...)
}

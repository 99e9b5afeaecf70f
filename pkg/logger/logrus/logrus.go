// Package logrus adapts github.com/sirupsen/logrus to the logger.Logger
// contract used across the module.
package logrus

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nrhinela/zoltag-sub001/pkg/logger"
	"github.com/nrhinela/zoltag-sub001/pkg/logger/conf"
)

type logrusWrapper struct {
	entry *logrus.Entry
}

// NewLogrusWrapper builds a logger.Logger backed by a configured
// logrus.Logger. OutputPath, when set, is rotated with lumberjack
// instead of writing to stderr.
func NewLogrusWrapper(cfg *conf.LogConfig) (logger.Logger, error) {
	base := logrus.New()
	base.SetLevel(toLogrusLevel(cfg.Level))

	switch cfg.Formatter {
	case conf.ConsoleFormater:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case conf.StructuredFormater:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	default:
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	var out io.Writer = os.Stderr
	if cfg.OutputPath != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.OutputPath,
			MaxSize:    maxOr(cfg.MaxSizeMB, 100),
			MaxBackups: maxOr(cfg.MaxBackups, 5),
			MaxAge:     maxOr(cfg.MaxAgeDays, 14),
			Compress:   true,
		}
	}
	base.SetOutput(out)

	return &logrusWrapper{entry: logrus.NewEntry(base)}, nil
}

func maxOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func toLogrusLevel(l conf.Level) logrus.Level {
	switch l {
	case conf.FatalLevel:
		return logrus.FatalLevel
	case conf.ErrorLevel:
		return logrus.ErrorLevel
	case conf.WarnLevel:
		return logrus.WarnLevel
	case conf.InfoLevel:
		return logrus.InfoLevel
	case conf.DebugLevel:
		return logrus.DebugLevel
	case conf.TraceLevel:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

func (w *logrusWrapper) Log(level conf.Level, v ...interface{}) {
	w.entry.Log(toLogrusLevel(level), v...)
}

func (w *logrusWrapper) Logf(level conf.Level, format string, v ...interface{}) {
	w.entry.Logf(toLogrusLevel(level), format, v...)
}

func (w *logrusWrapper) WithField(key string, value interface{}) logger.Logger {
	return &logrusWrapper{entry: w.entry.WithField(key, value)}
}

func (w *logrusWrapper) WithFields(fields map[string]interface{}) logger.Logger {
	return &logrusWrapper{entry: w.entry.WithFields(fields)}
}

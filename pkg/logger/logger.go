package logger

import "github.com/nrhinela/zoltag-sub001/pkg/logger/conf"

// Logger is the contract every logging backend must satisfy. The
// package-level helpers in pkg/logger/log dispatch onto the active
// implementation so call sites never import a concrete backend.
type Logger interface {
	Log(level conf.Level, v ...interface{})
	Logf(level conf.Level, format string, v ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

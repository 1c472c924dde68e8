package gologger

import (
	"io"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// NewConsoleLogger returns a go-logger text logger writing to w, stderr when
// nil. The result is also the LoggerProvider for named child loggers. Fatal
// only logs, so a CLI command can still return its error.
func NewConsoleLogger(w io.Writer, level string) *glog.BaseLogger {
	if w == nil {
		w = os.Stderr
	}
	return glog.NewLogger(
		glog.WithLevel(NormalizeLevel(level)),
		glog.WithWriter(w),
		glog.WithLoggerTypeConsole(),
		glog.WithFatalBehavior(glog.FatalBehaviorLogOnly),
	)
}

// NormalizeLevel maps flag spellings onto go-logger level names. Unknown
// values fall back to glog.DefaultLogLevel.
func NormalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return glog.Trace
	case "debug":
		return glog.Debug
	case "info":
		return glog.Info
	case "warn", "warning":
		return glog.Warn
	case "error":
		return glog.Error
	case "fatal":
		return glog.Fatal
	default:
		return glog.DefaultLogLevel
	}
}

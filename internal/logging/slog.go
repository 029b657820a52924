package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	opLogger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// Op returns the operational logger used by daemons, transports and the
// invocation pipeline.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetOp replaces the operational logger. Tests use it to capture output.
func SetOp(l *slog.Logger) {
	if l != nil {
		opLogger.Store(l)
	}
}

// SetLevel changes the level of the operational logger.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// ParseLevel maps debug, info, warn(ing) and error to slog levels.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// SetLevelFromString sets the level from its name. Unknown names are ignored.
func SetLevelFromString(level string) {
	if l, ok := ParseLevel(level); ok {
		logLevel.Set(l)
	}
}

// Package logging holds the process-wide structured logger. The CLI
// initializes it once from --log-level; LOOM_LOG_LEVEL is the
// fallback when no level was given, so library-style callers get a
// working logger without any CLI wiring.
package logging

import (
	"log/slog"
	"os"
	"sync"
)

// LevelEnvVar overrides the default log level when Init is called
// without one.
const LevelEnvVar = "LOOM_LOG_LEVEL"

var (
	mu     sync.Mutex
	logger *slog.Logger
)

// ParseLevel maps a level name ("debug", "info", "warn", "error",
// case-insensitive) to a slog.Level. Unrecognized names mean info.
func ParseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Init builds the shared logger writing to stderr at the given level.
// An empty level falls back to LOOM_LOG_LEVEL, then to info.
func Init(level string) {
	if level == "" {
		level = os.Getenv(LevelEnvVar)
	}
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))

	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// Logger returns the shared logger, initializing it on first use.
func Logger() *slog.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l == nil {
		Init("")
		return Logger()
	}
	return l
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }

func Info(msg string, args ...any) { Logger().Info(msg, args...) }

func Warn(msg string, args ...any) { Logger().Warn(msg, args...) }

func Error(msg string, args ...any) { Logger().Error(msg, args...) }

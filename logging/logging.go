// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// levels maps accepted level names to slog levels. "silent" is far above
// slog.LevelError so nothing passes the handler.
var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
	"silent":  slog.Level(1000),
	"none":    slog.Level(1000),
}

// ParseLogLevel converts a level name to a slog.Level, defaulting to info.
func ParseLogLevel(name string) slog.Level {
	if level, ok := levels[name]; ok {
		return level
	}
	return slog.LevelInfo
}

// ValidLogLevels returns the level names accepted on the command line.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warning", "error", "silent"}
}

// InitLogging installs a text handler on stderr as the default logger.
func InitLogging(logLevel string) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLogLevel(logLevel),
	})
	slog.SetDefault(slog.New(handler))
}

// LogLevel is the cobra --log-level flag value. It records whether the flag
// was set so the CLI can distinguish "explicit" from "configured".
var LogLevel = &logLevelFlag{value: "silent"}

type logLevelFlag struct {
	value string
	set   bool
}

func (l *logLevelFlag) Set(value string) error {
	if !slices.Contains(ValidLogLevels(), value) {
		return fmt.Errorf("invalid value '%s'. Allowed values: %s",
			value, strings.Join(ValidLogLevels(), ", "))
	}
	l.value = value
	l.set = true
	return nil
}

func (l *logLevelFlag) String() string { return l.value }

func (l *logLevelFlag) Type() string {
	return fmt.Sprintf("one of [%s]", strings.Join(ValidLogLevels(), "|"))
}

// IsSet reports whether the flag was passed on the command line.
func (l *logLevelFlag) IsSet() bool { return l.set }

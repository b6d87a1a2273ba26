// Package logging configures structured logging for hvman.
//
// Loggers are plain *slog.Logger values. Filtering is driven by a Spec
// so that a noisy component (the hypervisor channel, say) can be
// turned up to trace without flooding the rest of the output.
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level is a slog level with one extra step, trace, below debug.
type Level int

const (
	// LevelTrace logs every hypervisor exchange.
	LevelTrace Level = Level(slog.LevelDebug) - 4
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

var levelNames = []struct {
	level Level
	names []string
}{
	{LevelTrace, []string{"trace"}},
	{LevelDebug, []string{"debug"}},
	{LevelInfo, []string{"info"}},
	{LevelWarn, []string{"warn", "warning"}},
	{LevelError, []string{"error", "err"}},
}

// ParseLevel parses a level name in any case. An empty string is info.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LevelInfo, nil
	}
	for _, ln := range levelNames {
		for _, name := range ln.names {
			if s == name {
				return ln.level, nil
			}
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

func (l Level) ToSlog() slog.Level { return slog.Level(l) }

func (l Level) String() string {
	for _, ln := range levelNames {
		if ln.level == l {
			return ln.names[0]
		}
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

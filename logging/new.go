package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar names the environment variable holding a log spec.
const EnvVar = "HVMAN_LOG"

// Format is the log output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses "text" (the default) or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %q", s)
}

// Options configures New.
type Options struct {
	// CLISpec comes from --log and wins over everything else.
	CLISpec string
	// EnvSpec comes from HVMAN_LOG.
	EnvSpec string
	// ConfigSpec comes from the config file.
	ConfigSpec string
	Format     Format
	// Output defaults to os.Stderr so that command output on stdout
	// stays machine readable.
	Output io.Writer
}

// New builds a logger with component filtering. Precedence is
// CLISpec, then EnvSpec, then ConfigSpec, then info.
func New(opts Options) (*slog.Logger, error) {
	specStr := opts.ConfigSpec
	switch {
	case opts.CLISpec != "":
		specStr = opts.CLISpec
	case opts.EnvSpec != "":
		specStr = opts.EnvSpec
	}

	spec, err := ParseSpec(specStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	// The inner handler accepts everything; filteringHandler decides.
	handlerOpts := &slog.HandlerOptions{
		Level:       LevelTrace.ToSlog(),
		ReplaceAttr: nameTraceLevel,
	}

	var inner slog.Handler
	switch opts.Format {
	case FormatJSON:
		inner = slog.NewJSONHandler(out, handlerOpts)
	default:
		inner = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// nameTraceLevel prints trace records as TRACE rather than DEBUG-4.
func nameTraceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) != 0 {
		return a
	}
	if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace.ToSlog() {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

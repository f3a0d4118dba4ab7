// Package logging builds the go-kit loggers used by the executor and CLI.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Output formats.
const (
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

// Levels accepted by New, lowest first.
var Levels = []string{"debug", "info", "warn", "error"}

// Options configures a logger.
type Options struct {
	Level  string
	Format string
}

// New returns a logger writing to w that drops entries below opts.Level.
// Every entry carries ts and caller fields.
func New(w io.Writer, opts Options) (log.Logger, error) {
	filter, err := allow(opts.Level)
	if err != nil {
		return nil, err
	}

	var logger log.Logger
	switch strings.ToLower(opts.Format) {
	case "", FormatLogfmt:
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case FormatJSON:
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	logger = level.NewFilter(logger, filter)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.Caller(3)), nil
}

// Nop returns a logger that discards everything.
func Nop() log.Logger {
	return log.NewNopLogger()
}

// ValidLevel reports whether name is a level New accepts.
func ValidLevel(name string) bool {
	_, err := allow(name)
	return err == nil
}

func allow(name string) (level.Option, error) {
	switch strings.ToLower(name) {
	case "debug":
		return level.AllowDebug(), nil
	case "", "info":
		return level.AllowInfo(), nil
	case "warn", "warning":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	}
	return nil, fmt.Errorf("unknown log level %q, want one of %s", name, strings.Join(Levels, ", "))
}

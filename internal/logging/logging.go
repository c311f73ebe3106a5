// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
)

// Options configures New.
type Options struct {
	Level string
	// Console adds a colored human-readable stream on stderr.
	Console bool
	// JSON is where structured records go. Defaults to stdout.
	JSON io.Writer
	// ConsoleOut defaults to stderr.
	ConsoleOut io.Writer
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a JSON logger, fanned out to a console handler in development.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.JSON
	if out == nil {
		out = os.Stdout
	}
	handler := slog.Handler(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))

	if opts.Console {
		consoleOut := opts.ConsoleOut
		if consoleOut == nil {
			consoleOut = os.Stderr
		}
		handler = slogmulti.Fanout(
			handler,
			console.NewHandler(consoleOut, &console.HandlerOptions{
				AddSource: true,
				Level:     level,
			}),
		)
	}
	return slog.New(handler), nil
}

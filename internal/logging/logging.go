// Package logging builds the harness logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
)

// ParseLevel accepts the names slog knows (debug, info, warn, error) plus
// "trace" and "crit".
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace, nil
	case "crit":
		return log.LevelCrit, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// New returns a terminal-format logger writing to w.
func New(w io.Writer, level slog.Level, color bool) log.Logger {
	return log.NewLogger(log.NewTerminalHandlerWithLevel(w, level, color))
}

// Setup builds the logger from flag values and installs it as the root
// logger.
func Setup(w io.Writer, level string, color bool) (log.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := New(w, lvl, color)
	log.SetDefault(l)
	return l, nil
}

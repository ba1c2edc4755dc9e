// Package logging configures the default slog logger used across shelf.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type HandlerType string

const (
	HandlerTypeText HandlerType = "text"
	HandlerTypeJSON HandlerType = "json"
)

type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// ParseLevel maps a level name to its slog level.
func ParseLevel(level Level) (slog.Level, error) {
	switch Level(strings.ToLower(string(level))) {
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelInfo, "":
		return slog.LevelInfo, nil
	case LevelWarn:
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", level)
	}
}

// New builds a logger writing to w with the given handler type and level.
func New(w io.Writer, handlerType HandlerType, level Level) (*slog.Logger, error) {
	slogLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	switch HandlerType(strings.ToLower(string(handlerType))) {
	case HandlerTypeJSON, "":
		handler = slog.NewJSONHandler(w, &opts)
	case HandlerTypeText:
		handler = slog.NewTextHandler(w, &opts)
	default:
		return nil, fmt.Errorf("unsupported log handler type %q", handlerType)
	}
	return slog.New(handler), nil
}

// Init configures the default slog logger to write to stdout. It must be
// called after flags are parsed.
func Init(handlerType HandlerType, level Level) error {
	logger, err := New(os.Stdout, handlerType, level)
	if err != nil {
		return err
	}
	// SetDefault is atomic and safe to call from several goroutines.
	slog.SetDefault(logger)
	slog.Debug("Log handler configured successfully.", "type", handlerType, "logLevel", level)
	return nil
}

// based on https://dusted.codes/creating-a-pretty-console-logger-using-gos-slog-package
package prettylog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

const timeFormat = "15:04:05.000"

const (
	reset = "\033[0m"

	yellow   = 33
	cyan     = 36
	darkGray = 90
	lightRed = 91
	white    = 97
)

func colorize(colorCode int, v string) string {
	return fmt.Sprintf("\033[%sm%s%s", strconv.Itoa(colorCode), v, reset)
}

type handler struct {
	Level  slog.Level
	Output *os.File
}

func NewHandler(level slog.Level) slog.Handler {
	return &handler{
		Level:  level,
		Output: os.Stderr,
	}
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.Level
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *handler) WithGroup(name string) slog.Handler {
	return h
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.Level {
		return nil
	}

	level := r.Level.String() + ":"

	switch r.Level {
	case slog.LevelDebug:
		level = colorize(darkGray, level)
	case slog.LevelInfo:
		level = colorize(cyan, level)
	case slog.LevelWarn:
		level = colorize(yellow, level)
	case slog.LevelError:
		level = colorize(lightRed, level)
	}

	h.Output.WriteString(colorize(darkGray, r.Time.Format(timeFormat)))
	h.Output.WriteString(" ")
	h.Output.WriteString(level)
	h.Output.WriteString(" ")
	h.Output.WriteString(colorize(white, r.Message))
	h.Output.WriteString(" ")

	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.Output.WriteString(colorize(darkGray, attributesToString(attrs)))
	h.Output.WriteString("\n")

	return nil
}

func attributesToString(attrs map[string]any) string {
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			attrs[k] = err.Error()
			continue
		}
		if _, err := json.Marshal(v); err != nil {
			attrs[k] = fmt.Sprintf("%v", v)
		}
	}

	asJson, err := json.MarshalIndent(attrs, "  ", "  ")
	if err != nil {
		return fmt.Sprintf("%v", attrs)
	}
	return string(asJson)
}

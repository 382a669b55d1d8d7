package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// newLogger creates a logger writing to w. "json" and "text" select the
// slog handlers of the same name; anything else gets the console format.
func newLogger(levelStr, formatStr string, w io.Writer, noColor bool) *slog.Logger {
	level := parseLogLevel(levelStr)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch formatStr {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = newConsoleHandler(w, level, noColor || !isTerminal(w))
	}
	return slog.New(handler)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// consoleHandler prints records the way a build log reads: the message,
// prefixed by "[task]" when a task logged it. Remaining attributes follow as
// key=value pairs.
type consoleHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr

	debug, warn, fail, prefix *color.Color
}

func newConsoleHandler(w io.Writer, level slog.Leveler, noColor bool) *consoleHandler {
	h := &consoleHandler{
		mu:     &sync.Mutex{},
		w:      w,
		level:  level,
		debug:  color.New(color.Faint),
		warn:   color.New(color.FgYellow),
		fail:   color.New(color.FgRed, color.Bold),
		prefix: color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range []*color.Color{h.debug, h.warn, h.fail, h.prefix} {
			c.DisableColor()
		}
	} else {
		for _, c := range []*color.Color{h.debug, h.warn, h.fail, h.prefix} {
			c.EnableColor()
		}
	}
	return h
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var task string
	var extra []string
	collect := func(a slog.Attr) bool {
		if a.Key == "task" {
			task = a.Value.String()
			return true
		}
		extra = append(extra, a.Key+"="+a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	var b strings.Builder
	if task != "" {
		b.WriteString(h.prefix.Sprintf("%12s ", "["+task+"]"))
	}
	msg := r.Message
	if len(extra) > 0 {
		msg += " " + strings.Join(extra, " ")
	}
	switch {
	case r.Level >= slog.LevelError:
		b.WriteString(h.fail.Sprint(msg))
	case r.Level >= slog.LevelWarn:
		b.WriteString(h.warn.Sprint(msg))
	case r.Level < slog.LevelInfo:
		b.WriteString(h.debug.Sprint(msg))
	default:
		b.WriteString(msg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(slices.Clone(h.attrs), attrs...)
	return &clone
}

// WithGroup is a no-op; console output has no room for nesting.
func (h *consoleHandler) WithGroup(string) slog.Handler {
	return h
}

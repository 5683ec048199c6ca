// Package logging renders slog records as compact single lines, with
// multi-line attributes shown as indented blocks underneath.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// ANSI color codes.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"

	padding = "  " // left padding to align with the CLI banner
)

// Block attributes are rendered as indented blocks below the log line
// instead of inline key=value pairs.
var blockKeys = map[string]bool{
	"excerpt": true,
	"body":    true,
}

// Secret attributes are never written out.
var secretKeys = map[string]bool{
	"token":        true,
	"key_material": true,
}

// Options configures a Handler.
type Options struct {
	Level slog.Leveler
	Color bool
}

// Handler is a compact, optionally colored slog handler.
type Handler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	color  bool
	attrs  []slog.Attr
	prefix string
}

// NewHandler creates a new log handler.
func NewHandler(w io.Writer, opts *Options) *Handler {
	if opts == nil {
		opts = &Options{}
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{
		w:     w,
		mu:    &sync.Mutex{},
		level: level,
		color: opts.Color,
	}
}

// Setup installs a Handler writing to w as the default logger.
func Setup(w io.Writer, level string, color bool) *slog.Logger {
	logger := slog.New(NewHandler(w, &Options{Level: ParseLevel(level), Color: color}))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config level name to a slog level. Unknown names mean
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	// Timestamp: short for terminal, full for file.
	var ts string
	if h.color {
		ts = r.Time.Format("15:04:05")
	} else {
		ts = r.Time.Format("2006-01-02 15:04:05")
	}

	var inline strings.Builder
	var blocks []string
	add := func(a slog.Attr) {
		a.Value = a.Value.Resolve()
		if a.Equal(slog.Attr{}) {
			return
		}
		if blockKeys[a.Key] {
			blocks = append(blocks, a.Value.String())
			return
		}
		h.writeAttr(&inline, a)
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		a.Key = h.prefix + a.Key
		add(a)
		return true
	})

	var sb strings.Builder
	sb.WriteString(padding)
	if h.color {
		sb.WriteString(ansiGray + ts + ansiReset + " " + colorLevel(r.Level) + " ")
	} else {
		sb.WriteString(ts + " " + levelLabel(r.Level) + " ")
	}
	sb.WriteString(r.Message)
	sb.WriteString(inline.String())
	sb.WriteByte('\n')

	for _, text := range blocks {
		for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
			if h.color {
				sb.WriteString(padding + "  " + ansiGray + "│" + ansiReset + " " + line + "\n")
			} else {
				sb.WriteString(padding + "  | " + line + "\n")
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	combined = append(combined, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		combined = append(combined, a)
	}
	clone := *h
	clone.attrs = combined
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func (h *Handler) writeAttr(sb *strings.Builder, a slog.Attr) {
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			ga.Key = a.Key + "." + ga.Key
			h.writeAttr(sb, ga)
		}
		return
	}

	val := a.Value.String()
	if secretKeys[lastKey(a.Key)] && val != "" {
		val = "[redacted]"
	} else if strings.ContainsAny(val, " \t\n\"") {
		val = strconv.Quote(val)
	}

	sb.WriteByte(' ')
	if h.color {
		sb.WriteString(ansiGray + a.Key + ansiReset)
	} else {
		sb.WriteString(a.Key)
	}
	sb.WriteByte('=')
	sb.WriteString(val)
}

func lastKey(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERR"
	case level >= slog.LevelWarn:
		return "WRN"
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func colorLevel(level slog.Level) string {
	label := levelLabel(level)
	switch {
	case level >= slog.LevelError:
		return ansiRed + label + ansiReset
	case level >= slog.LevelWarn:
		return ansiYellow + label + ansiReset
	case level >= slog.LevelInfo:
		return ansiCyan + label + ansiReset
	default:
		return ansiGray + label + ansiReset
	}
}

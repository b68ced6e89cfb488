// Package logger holds the process-wide slog loggers: one for diagnostics and
// one for the tool-invocation audit trail.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config selects level, format and sinks for diagnostics plus the audit trail.
type Config struct {
	Level string
	// Format is "text" (default) or "json".
	Format string
	// OutputPaths accepts "stderr", "stdout" or file paths. Empty means stderr.
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig enables a rotated JSON audit file. Disabled audit entries go to
// the diagnostic logger instead.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

const redacted = "[REDACTED]"

// Attribute keys whose values never reach a sink.
var secretKeys = map[string]struct{}{
	"token":         {},
	"authorization": {},
	"snowflake_pat": {},
}

var (
	mu      sync.Mutex
	once    sync.Once
	initErr error
	base    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
)

// Init installs the loggers. Later calls return the outcome of the first one.
func Init(cfg Config) error {
	once.Do(func() {
		l, a, c, err := build(cfg)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			initErr = err
			for _, closer := range c {
				_ = closer.Close()
			}
			return
		}
		base, audit, closers = l, a, c
	})
	return initErr
}

func build(cfg Config) (*slog.Logger, *slog.Logger, []io.Closer, error) {
	sink, opened, err := openSinks(cfg.OutputPaths)
	if err != nil {
		return nil, nil, opened, err
	}
	diag := slog.New(newHandler(sink, cfg.Format, parseLevel(cfg.Level)))
	if !cfg.Audit.Enabled {
		return diag, diag, opened, nil
	}

	if cfg.Audit.Path == "" {
		return nil, nil, opened, errors.New("audit log enabled without a path")
	}
	rotating, err := newRotatingWriter(cfg.Audit)
	if err != nil {
		return nil, nil, opened, err
	}
	opened = append(opened, rotating)
	return diag, slog.New(newHandler(rotating, "json", slog.LevelInfo)), opened, nil
}

func newHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func redact(_ []string, attr slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, redacted)
	}
	return attr
}

func openSinks(paths []string) (io.Writer, []io.Closer, error) {
	if len(paths) == 0 {
		return os.Stderr, nil, nil
	}
	var (
		writers []io.Writer
		opened  []io.Closer
	)
	for _, p := range paths {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "stderr":
			writers = append(writers, os.Stderr)
		case "stdout":
			writers = append(writers, os.Stdout)
		default:
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, opened, fmt.Errorf("create log directory: %w", err)
			}
			f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, opened, fmt.Errorf("open log file %s: %w", p, err)
			}
			writers = append(writers, f)
			opened = append(opened, f)
		}
	}
	if len(writers) == 1 {
		return writers[0], opened, nil
	}
	return io.MultiWriter(writers...), opened, nil
}

func parseLevel(level string) slog.Level {
	if strings.EqualFold(strings.TrimSpace(level), "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// L returns the diagnostic logger, installing stderr defaults on first use.
func L() *slog.Logger {
	mu.Lock()
	l := base
	mu.Unlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	mu.Lock()
	l = base
	mu.Unlock()
	if l == nil {
		return slog.New(newHandler(os.Stderr, "text", slog.LevelInfo))
	}
	return l
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	mu.Lock()
	a := audit
	mu.Unlock()
	if a != nil {
		return a
	}
	return L()
}

// Sync closes file sinks opened by Init.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	for _, c := range closers {
		err = errors.Join(err, c.Close())
	}
	closers = nil
	return err
}

// Named tags entries with component=name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

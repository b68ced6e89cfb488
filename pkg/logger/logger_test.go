package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
		" info ":  slog.LevelInfo,
		"WARN":    slog.LevelWarn,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotatingWriterDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	w, err := newRotatingWriter(AuditConfig{Path: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Close()

	if w.MaxSize != defaultAuditMaxSizeMB || w.MaxBackups != defaultAuditMaxBackups || w.MaxAge != defaultAuditMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", w)
	}
	if _, err := w.Write([]byte("{\"msg\":\"x\"}\n")); err != nil {
		t.Fatalf("write audit entry: %v", err)
	}
}

func TestRotatingWriterRequiresPath(t *testing.T) {
	if _, err := newRotatingWriter(AuditConfig{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestNewHandlerFormats(t *testing.T) {
	if _, ok := newHandler(&bytes.Buffer{}, "JSON", slog.LevelInfo).(*slog.JSONHandler); !ok {
		t.Fatalf("expected JSON handler")
	}
	if _, ok := newHandler(&bytes.Buffer{}, "", slog.LevelInfo).(*slog.TextHandler); !ok {
		t.Fatalf("expected text handler by default")
	}
}

func TestHandlerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, "json", slog.LevelInfo))
	log.Info("call", slog.String("token", "pat-123"), slog.String("Authorization", "Bearer pat-123"), slog.String("request_id", "r1"))

	out := buf.String()
	if strings.Contains(out, "pat-123") {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, `"request_id":"r1"`) || !strings.Contains(out, redacted) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestOpenSinksDefaultsToStderr(t *testing.T) {
	w, closers, err := openSinks(nil)
	if err != nil || w != os.Stderr || len(closers) != 0 {
		t.Fatalf("unexpected default sink: %v %v %v", w, closers, err)
	}
}

func TestOpenSinksFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "cortex.log")
	w, closers, err := openSinks([]string{"stderr", path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closers) != 1 {
		t.Fatalf("expected one file closer, got %d", len(closers))
	}
	if _, err := w.Write([]byte("line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, c := range closers {
		_ = c.Close()
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "line\n" {
		t.Fatalf("unexpected file contents %q: %v", data, err)
	}
}

func TestBuildRequiresAuditPath(t *testing.T) {
	if _, _, _, err := build(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for audit without path")
	}
}

func TestBuildSeparatesAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	diag, audit, closers, err := build(Config{Audit: AuditConfig{Enabled: true, Path: path}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	if diag == audit {
		t.Fatalf("audit logger should be separate when enabled")
	}
	audit.Info("tool invocation", slog.String("outcome", "success"))
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), `"outcome":"success"`) {
		t.Fatalf("audit entry not written: %q %v", data, err)
	}
}

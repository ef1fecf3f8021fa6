package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)

	SetLevel(LevelWarn)
	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below warn leaked through: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("warn/error messages missing: %q", out)
	}
}

func TestFormatting(t *testing.T) {
	buf := captureOutput(t)

	SetLevel(LevelDebug)
	Info("exported %d pages from %s", 12, "DOCS")

	out := buf.String()
	if !strings.Contains(out, "exported 12 pages from DOCS") {
		t.Errorf("formatted message missing: %q", out)
	}
	if !strings.Contains(out, "INFO") {
		t.Errorf("level tag missing: %q", out)
	}
}

func TestSetLogFile(t *testing.T) {
	buf := captureOutput(t)
	path := filepath.Join(t.TempDir(), "confmig.log")

	if err := SetLogFile(path); err != nil {
		t.Fatalf("SetLogFile failed: %v", err)
	}
	Info("goes to both sinks")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "goes to both sinks") {
		t.Errorf("log file content = %q", data)
	}
	if !strings.Contains(buf.String(), "goes to both sinks") {
		t.Error("message missing from primary output")
	}
}

func TestSetLogFileBadPath(t *testing.T) {
	if err := SetLogFile(filepath.Join(t.TempDir(), "missing", "x.log")); err == nil {
		t.Error("SetLogFile accepted an uncreatable path")
		Close()
	}
}

func TestGetLevelRoundTrip(t *testing.T) {
	t.Cleanup(func() { SetLevel(LevelInfo) })
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		SetLevel(level)
		if got := GetLevel(); got != level {
			t.Errorf("GetLevel() = %v after SetLevel(%v)", got, level)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q) accepted an unknown level", tt.input)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v", tt.input, got, err, tt.want)
		}
	}
}

func TestLevelString(t *testing.T) {
	tests := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range tests {
		if got := level.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", level, got, want)
		}
	}
}

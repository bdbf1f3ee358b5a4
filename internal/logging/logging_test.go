package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.WarnLevel},
		{"verbose", zapcore.WarnLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", ParseFormat("JSON"))
	logger.Sugar().Infow("Wrote records", "added", 3)
	logger.Debug("hidden")
	_ = logger.Sync()

	out := buf.String()
	if !strings.Contains(out, `"msg":"Wrote records"`) || !strings.Contains(out, `"added":3`) {
		t.Errorf("unexpected JSON log output: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug message logged at info level")
	}
}

func TestNewWithWriterConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", FormatConsole)
	logger.Warn("disk low")
	_ = logger.Sync()

	if !strings.Contains(buf.String(), " | WARN | ") {
		t.Errorf("console output missing separator/level: %q", buf.String())
	}
}

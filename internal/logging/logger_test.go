package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerNilConfigUsesDefaults(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected no output below Warn level, got: %s", buf.String())
	}

	logger.Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}
}

func TestKeyValueFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("attached to ring", "key", "0x1234", "nbufs", 8)

	output := buf.String()
	if !strings.Contains(output, "attached to ring") {
		t.Errorf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, "key=0x1234") {
		t.Errorf("expected key=0x1234 in output, got: %s", output)
	}
	if !strings.Contains(output, "nbufs=8") {
		t.Errorf("expected nbufs=8 in output, got: %s", output)
	}
}

func TestDanglingKeyIsDropped(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("message", "orphan")

	output := buf.String()
	if strings.Contains(output, "orphan") {
		t.Errorf("expected dangling key to be dropped, got: %s", output)
	}
}

func TestFormattedVariants(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Infof("bandwidth: %.3f Gb/s", 52.125)
	if !strings.Contains(buf.String(), "bandwidth: 52.125 Gb/s") {
		t.Errorf("expected formatted output, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	defer SetDefault(prev)

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}

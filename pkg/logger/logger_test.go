package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Error("Messages below the configured level should be suppressed")
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Error("Messages at or above the configured level should be logged")
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Output: &buf})

	log.Info("frame sent",
		String("type", "DCS"),
		Int("len", 7),
		Byte("fcf", 0x83),
		Hex("payload", []byte{0xFF, 0x13}),
		Bool("final", true))

	out := buf.String()
	for _, want := range []string{"type=DCS", "len=7", "fcf=0x83", "payload=FF 13", "final=true"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got %q", want, out)
		}
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf}).WithComponent("t30")

	log.Info("phase change")

	if !strings.Contains(buf.String(), "[t30]") {
		t.Errorf("Expected component prefix, got %q", buf.String())
	}
}

func TestLogger_ErrorField(t *testing.T) {
	if f := Error(nil); f.Value != "nil" {
		t.Errorf("Expected nil error to render as nil, got %v", f.Value)
	}
}

func TestParseLevel_Default(t *testing.T) {
	if parseLevel("nonsense") != InfoLevel {
		t.Error("Unknown levels should default to info")
	}
}

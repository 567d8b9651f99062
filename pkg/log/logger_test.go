package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(
		WithLevel(WarnLevel),
		WithFormatter(&TextFormatter{DisableTimestamp: true}),
		WithOutput(&WriterOutput{W: &buf}),
	)

	logger.Debug("dropped debug")
	logger.Info("dropped info")
	logger.Warn("kept warn")
	logger.Error("kept error")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("below-level entries were written: %q", out)
	}
	if !strings.Contains(out, "kept warn") || !strings.Contains(out, "kept error") {
		t.Fatalf("expected warn and error entries, got: %q", out)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(
		WithLevel(DebugLevel),
		WithFormatter(&JSONFormatter{}),
		WithOutput(&WriterOutput{W: &buf}),
	)

	child := logger.With(Str("zone", "z0"), Int("shard", 3))
	child.Info("cache ready", Uint64("entries", 42))

	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if obj["msg"] != "cache ready" {
		t.Fatalf("msg = %v", obj["msg"])
	}
	if obj["zone"] != "z0" {
		t.Fatalf("zone field not carried: %v", obj["zone"])
	}
	if obj["shard"] != float64(3) {
		t.Fatalf("shard field not carried: %v", obj["shard"])
	}
	if obj["entries"] != float64(42) {
		t.Fatalf("entries field missing: %v", obj["entries"])
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(
		WithLevel(DebugLevel),
		WithFormatter(&TextFormatter{DisableTimestamp: true}),
		WithOutput(&WriterOutput{W: &buf}),
	)

	logger.WithComponent("wbot").Info("started")

	if !strings.Contains(buf.String(), "component=wbot") {
		t.Fatalf("component field missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestApplyConfig(t *testing.T) {
	noConsole := false
	logger, err := ApplyConfig(&Config{Level: "debug", Format: "json", Console: &noConsole})
	if err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if logger.GetLevel() != DebugLevel {
		t.Fatalf("level = %v, want debug", logger.GetLevel())
	}

	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

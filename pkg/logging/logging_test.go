package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})

		log.Info("hello", "key", "value")

		out := buf.String()
		if !strings.Contains(out, "hello") || !strings.Contains(out, "key=value") {
			t.Errorf("unexpected text output: %q", out)
		}
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

		log.Info("hello")

		if !strings.Contains(buf.String(), `"msg":"hello"`) {
			t.Errorf("unexpected json output: %q", buf.String())
		}
	})

	t.Run("add source", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(Config{Level: LevelInfo, Output: &buf, AddSource: true})

		log.Info("hello")

		if !strings.Contains(buf.String(), "logging_test.go") {
			t.Errorf("expected source location in output: %q", buf.String())
		}
	})

	t.Run("level filters output", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(Config{Level: LevelWarn, Output: &buf})

		log.Info("quiet")
		log.Warn("loud")

		out := buf.String()
		if strings.Contains(out, "quiet") {
			t.Error("info message should have been filtered")
		}
		if !strings.Contains(out, "loud") {
			t.Error("warn message missing")
		}
	})
}

func TestNop(t *testing.T) {
	// Must not panic and must not write anywhere visible.
	Nop().Error("discarded", "key", "value")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"ERROR":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("json") != FormatJSON {
		t.Error("json not recognized")
	}
	if ParseFormat("text") != FormatText || ParseFormat("") != FormatText {
		t.Error("text fallback broken")
	}
}

package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerWritesFieldsInOrder(t *testing.T) {
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf)).With(String("comp", "dispatch"))
	l.Info("tick", Int("topics", 3), String("comp", "override"), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["message"] != "tick" {
		t.Fatalf("message=%v", m["message"])
	}
	if m["topics"] != float64(3) {
		t.Fatalf("topics=%v", m["topics"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err=%v", m["err"])
	}
	if !strings.Contains(buf.String(), `"override"`) {
		t.Fatalf("expected later field to be written: %s", buf.String())
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero value should report IsZero")
	}
	l.Error("ignored", String("k", "v"))
	if Nop().IsZero() {
		t.Fatalf("Nop() should not be zero")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf).Level(zerolog.WarnLevel))
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", buf.String())
	}
	if l.Enabled(LevelDebug) {
		t.Fatalf("debug should be disabled")
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestFormatOperatorLine(t *testing.T) {
	line := `{"level":"error","time":"x","message":"send <failed>","user":42,"comp":"notifier"}`
	got := formatOperatorLine([]byte(line))
	if !strings.HasPrefix(got, "<b>ERROR</b> send &lt;failed&gt;") {
		t.Fatalf("unexpected head: %q", got)
	}
	if strings.Index(got, "comp=") > strings.Index(got, "user=") {
		t.Fatalf("keys should be sorted: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("time should be omitted: %q", got)
	}
}

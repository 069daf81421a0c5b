package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		value   string
		want    Mode
		wantErr bool
	}{
		{value: "", want: ModeAuto},
		{value: "auto", want: ModeAuto},
		{value: "CLI", want: ModeCLI},
		{value: "text", want: ModeCLI},
		{value: " json ", want: ModeJSON},
		{value: "xml", wantErr: true},
	}
	for _, tc := range testCases {
		got, err := ParseMode(tc.value)
		if (err != nil) != tc.wantErr || (!tc.wantErr && got != tc.want) {
			t.Fatalf("ParseMode(%q) = %v, %v", tc.value, got, err)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for value, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"err":     slog.LevelError,
	} {
		got, err := ParseLevel(value)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", value, got, err)
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Fatal("ParseLevel(trace) error = nil")
	}
}

func TestAutoUsesJSONOffTerminal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if IsTerminal(&buf) {
		t.Fatal("IsTerminal(buffer) = true")
	}

	NewAuto(&buf, slog.LevelInfo).Info("zone milestone reached", "zone", "ipsbuild")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output %q is not JSON: %v", buf.String(), err)
	}
	if record["msg"] != "zone milestone reached" || record["zone"] != "ipsbuild" {
		t.Fatalf("record = %v", record)
	}
}

func TestCLIHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, slog.LevelInfo).With("component", "planner")
	logger.Debug("hidden")
	logger.Info("building package", "package", "library/zlib")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record emitted: %q", out)
	}
	for _, want := range []string{"INFO", "building package", "component=planner", "package=library/zlib"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

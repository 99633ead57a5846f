package slogutil

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	logger.Info("Indexed file", "uri", "file:///ws/a.R", "edges", 3)

	out := buf.String()
	for _, want := range []string{"[info]", "Indexed file", " | ", "uri=file:///ws/a.R", "edges=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("output %q does not end in newline", out)
	}
}

func TestHandlerNoAttrs(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo).Info("plain")
	if strings.Contains(buf.String(), "|") {
		t.Errorf("output %q should have no attribute separator", buf.String())
	}
}

func TestHandlerLevels(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{LevelTrace, "[trace]"},
		{slog.LevelDebug, "[debug]"},
		{slog.LevelInfo, "[info]"},
		{slog.LevelWarn, "[warn]"},
		{slog.LevelError, "[error]"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			var buf bytes.Buffer
			NewLogger(&buf, LevelTrace).Log(context.Background(), tt.level, "msg")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q missing %s", buf.String(), tt.want)
			}
		})
	}
}

func TestHandlerFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Debug("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("output %q contains filtered records", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("output %q missing warn record", out)
	}
}

func TestHandlerGroupsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).With("component", "indexer").WithGroup("queue")
	logger.Info("Queued", "depth", 2)

	out := buf.String()
	if !strings.Contains(out, "component=indexer") {
		t.Errorf("output %q missing pre-set attr", out)
	}
	if !strings.Contains(out, "queue.depth=2") {
		t.Errorf("output %q missing grouped attr", out)
	}
}

func TestDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled at error")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.in); got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		quiet     bool
		want      slog.Level
	}{
		{0, false, slog.LevelWarn},
		{1, false, slog.LevelInfo},
		{2, false, slog.LevelDebug},
		{3, false, LevelTrace},
		{5, false, LevelTrace},
		{2, true, levelSilent},
	}
	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.verbosity, tt.quiet); got != tt.want {
			t.Errorf("LevelFromVerbosity(%d, %v) = %v, want %v", tt.verbosity, tt.quiet, got, tt.want)
		}
	}
}

func TestTeeLogger(t *testing.T) {
	var info, debug bytes.Buffer
	logger := NewTeeLogger(
		NewHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		NewHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger.Debug("detail")
	logger.Info("summary")

	if strings.Contains(info.String(), "detail") {
		t.Errorf("info sink got debug record: %q", info.String())
	}
	if !strings.Contains(info.String(), "summary") {
		t.Errorf("info sink missing info record: %q", info.String())
	}
	if !strings.Contains(debug.String(), "detail") || !strings.Contains(debug.String(), "summary") {
		t.Errorf("debug sink = %q, want both records", debug.String())
	}
}

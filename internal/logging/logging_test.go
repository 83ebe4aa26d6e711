package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestIsNil(t *testing.T) {
	var typed *componentLogger
	tests := []struct {
		name   string
		logger Logger
		want   bool
	}{
		{"nil interface", nil, true},
		{"nil pointer", typed, true},
		{"nop", Nop(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNil(tt.logger); got != tt.want {
				t.Errorf("IsNil() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrNopReplacesNil(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	logger := Nop()
	if OrNop(logger) != logger {
		t.Error("OrNop should return the original non-nil logger")
	}
}

func TestComponentLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := FromSlog(slog.New(NewHandler(&buf, slog.LevelDebug)).With("component", "Bus"))
	logger.Info("published %d events", 3)

	out := buf.String()
	if !strings.Contains(out, "component=Bus") {
		t.Errorf("output missing component tag: %q", out)
	}
	if !strings.Contains(out, "published 3 events") {
		t.Errorf("output missing formatted message: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMultiFlattensAndFansOut(t *testing.T) {
	var a, b bytes.Buffer
	la := FromSlog(slog.New(NewHandler(&a, slog.LevelDebug)))
	lb := FromSlog(slog.New(NewHandler(&b, slog.LevelDebug)))

	m := Multi(la, Multi(lb, nil))
	m.Warn("circuit %s open", "claude")

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		if !strings.Contains(buf.String(), "circuit claude open") {
			t.Errorf("logger %s did not receive message: %q", name, buf.String())
		}
	}
}

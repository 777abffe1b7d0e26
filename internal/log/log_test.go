package log

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tc := range testCases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestL_InitializesOnce(t *testing.T) {
	first := L()
	if first == nil {
		t.Fatal("Expected logger to be initialized")
	}

	Init("debug")
	if L() != first {
		t.Error("Expected Init to be a no-op after the first initialization")
	}
}

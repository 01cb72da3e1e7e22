package infra

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level string
		want  zerolog.Level
	}{
		{level: "debug", want: zerolog.DebugLevel},
		{level: " WARN ", want: zerolog.WarnLevel},
		{level: "", want: zerolog.InfoLevel},
		{level: "chatty", want: zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := NewLogger("production", tc.level).GetLevel(); got != tc.want {
			t.Fatalf("NewLogger(%q) level = %v, want %v", tc.level, got, tc.want)
		}
	}
}

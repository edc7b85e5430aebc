package util

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{time.Second, "1s"},
		{90 * time.Minute, "1h 30m"},
		{24 * time.Hour, "1day"},
		{7 * 24 * time.Hour, "7days"},
		{30 * 24 * time.Hour, "30days"},
		{26*time.Hour + 1500*time.Millisecond, "1day 2h 1s 500ms"},
		{31 * 24 * time.Hour, "1month 13h 26m 24s"},
		{365*24*time.Hour + 6*time.Hour, "1year"},
		{1500 * time.Nanosecond, "1us 500ns"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package repository

import (
	"errors"
	"testing"
	"time"
)

func TestWindowStart(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		window string
		want   time.Time
	}{
		{"1y", time.Date(2025, 10, 18, 12, 0, 0, 0, time.UTC)},
		{"6mo", time.Date(2026, 4, 18, 12, 0, 0, 0, time.UTC)},
		{"2w", time.Date(2026, 10, 4, 12, 0, 0, 0, time.UTC)},
		{"30d", time.Date(2026, 9, 18, 12, 0, 0, 0, time.UTC)},
		{"12h30m", time.Date(2026, 10, 17, 23, 30, 0, 0, time.UTC)},
		{"1y6mo", time.Date(2025, 4, 18, 12, 0, 0, 0, time.UTC)},
		{"90s", time.Date(2026, 10, 18, 11, 58, 30, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.window, func(t *testing.T) {
			got, err := WindowStart(now, tt.window)
			if err != nil {
				t.Fatalf("window start: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWindowStartRejectsGarbage(t *testing.T) {
	for _, window := range []string{"", "y", "1", "1x", "-1y", "1y2"} {
		if _, err := WindowStart(time.Now(), window); !errors.Is(err, ErrInvalidWindow) {
			t.Fatalf("window %q: expected ErrInvalidWindow, got %v", window, err)
		}
	}
	if err := ValidateWindow("1y"); err != nil {
		t.Fatalf("1y should be valid: %v", err)
	}
}

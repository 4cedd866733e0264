package repository

import (
	"fmt"
	"strconv"
	"time"
)

// WindowStart converts a Flux style duration literal ("1y", "30d",
// "1y6mo", "12h30m") into the start instant of a window ending at now.
// Calendar units are applied with AddDate, as Flux does.
func WindowStart(now time.Time, window string) (time.Time, error) {
	if window == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidWindow)
	}
	start := now
	rest := window
	for rest != "" {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWindow, window)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWindow, window)
		}
		rest = rest[i:]

		j := 0
		for j < len(rest) && (rest[j] < '0' || rest[j] > '9') {
			j++
		}
		unit := rest[:j]
		rest = rest[j:]

		switch unit {
		case "y":
			start = start.AddDate(-n, 0, 0)
		case "mo":
			start = start.AddDate(0, -n, 0)
		case "w":
			start = start.AddDate(0, 0, -7*n)
		case "d":
			start = start.AddDate(0, 0, -n)
		case "h":
			start = start.Add(-time.Duration(n) * time.Hour)
		case "m":
			start = start.Add(-time.Duration(n) * time.Minute)
		case "s":
			start = start.Add(-time.Duration(n) * time.Second)
		case "ms":
			start = start.Add(-time.Duration(n) * time.Millisecond)
		default:
			return time.Time{}, fmt.Errorf("%w: unknown unit %q in %q", ErrInvalidWindow, unit, window)
		}
	}
	return start, nil
}

// ValidateWindow reports whether window is a usable duration literal.
func ValidateWindow(window string) error {
	_, err := WindowStart(time.Time{}.AddDate(2000, 0, 0), window)
	return err
}

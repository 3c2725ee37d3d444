package delivery

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day, minutes since midnight.
type Clock int

// ParseClock parses "HH:MM" (24h, both fields two digits). Partial matches
// and trailing text are rejected so config typos fail at load.
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock(h*60 + m), nil
}

func clockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

// QuietWindow is a do-not-disturb interval of wall-clock time, half-open
// [Start, End). It may wrap past midnight (Start > End, e.g. 21:00 to 10:00).
type QuietWindow struct {
	Start Clock
	End   Clock
}

// ParseQuietWindow builds a window from two "HH:MM" strings. Both empty
// means no quiet hours.
func ParseQuietWindow(start, end string) (QuietWindow, error) {
	if start == "" && end == "" {
		return QuietWindow{}, nil
	}
	if start == "" || end == "" {
		return QuietWindow{}, fmt.Errorf("quiet hours need both a start and an end")
	}
	s, err := ParseClock(start)
	if err != nil {
		return QuietWindow{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return QuietWindow{}, err
	}
	return QuietWindow{Start: s, End: e}, nil
}

// Enabled reports whether the window suppresses anything at all. A window
// with Start == End (including the zero value) never suppresses.
func (w QuietWindow) Enabled() bool { return w.Start != w.End }

// Suppressed reports whether t falls inside the window.
func (w QuietWindow) Suppressed(t time.Time) bool {
	if !w.Enabled() {
		return false
	}
	now := clockOf(t)
	if w.Start < w.End {
		return w.Start <= now && now < w.End
	}
	// Wrapping window: quiet from Start through midnight to End.
	return now >= w.Start || now < w.End
}

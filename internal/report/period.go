// Package report turns observation tables into period-over-period
// statistical reports.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Cadence is a reporting frequency. Each cadence owns a period-key format
// and a lookback offset.
type Cadence string

const (
	CadenceDay   Cadence = "day"
	CadenceWeek  Cadence = "week"
	CadenceMonth Cadence = "month"
)

// Cadences lists the supported cadences in menu order.
func Cadences() []Cadence {
	return []Cadence{CadenceDay, CadenceWeek, CadenceMonth}
}

func ParseCadence(s string) (Cadence, error) {
	switch Cadence(strings.ToLower(strings.TrimSpace(s))) {
	case CadenceDay:
		return CadenceDay, nil
	case CadenceWeek:
		return CadenceWeek, nil
	case CadenceMonth:
		return CadenceMonth, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCadence, s)
	}
}

// lookback offsets applied before bucketing "now": a report generated today
// should summarize a period that has fully elapsed, not the partially
// observed current one.
var lookbacks = map[Cadence]time.Duration{
	CadenceDay:   -6 * time.Hour,
	CadenceWeek:  -7 * 24 * time.Hour,
	CadenceMonth: -30 * 24 * time.Hour,
}

// Bucket maps a timestamp to its period key under the cadence. Two
// timestamps share a key iff they fall in the same bucket.
func Bucket(t time.Time, c Cadence) (string, error) {
	switch c {
	case CadenceDay:
		return t.Format("2006-01-02"), nil
	case CadenceWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week), nil
	case CadenceMonth:
		return t.Format("2006-01"), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCadence, c)
	}
}

// CurrentPeriod computes the period key a report generated at "now" should
// reference: the bucket of now shifted back by the cadence's lookback.
func CurrentPeriod(now time.Time, c Cadence) (string, error) {
	off, ok := lookbacks[c]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCadence, c)
	}
	return Bucket(now.Add(off), c)
}

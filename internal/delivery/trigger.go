package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger decides when the next delivery pass runs.
//
// Supported spec forms:
//   - Cron (crontab.guru-style): "*/30 * * * *", "0 8 * * *", "@hourly"
//   - Interval duration: "30m", "2h30m"
//
// Optional "cron:" / "interval:" prefixes force one parser.
type Trigger struct {
	sched cron.Schedule
	every time.Duration
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseTrigger parses a trigger spec. Empty specs are rejected; the caller
// decides the default.
func ParseTrigger(raw string) (Trigger, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Trigger{}, fmt.Errorf("trigger spec required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCronTrigger(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalTrigger(strings.TrimSpace(s[len("interval:"):]))
	}

	// Whitespace or a leading '@' means cron, anything else an interval.
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCronTrigger(s)
	}
	return parseIntervalTrigger(s)
}

func parseCronTrigger(expr string) (Trigger, error) {
	if expr == "" {
		return Trigger{}, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid cron spec %q: %w", expr, err)
	}
	return Trigger{sched: sched}, nil
}

func parseIntervalTrigger(v string) (Trigger, error) {
	if v == "" {
		return Trigger{}, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid trigger spec %q (use cron like '*/30 * * * *' or a duration like '30m')", v)
	}
	if d <= 0 {
		return Trigger{}, fmt.Errorf("interval must be > 0")
	}
	return Trigger{every: d}, nil
}

// Next returns the first instant strictly after now at which a pass should
// run.
func (t Trigger) Next(now time.Time) time.Time {
	if t.sched != nil {
		return t.sched.Next(now)
	}
	return now.Add(t.every)
}

func (t Trigger) zero() bool { return t.sched == nil && t.every == 0 }

package delivery

import "time"

// Skip reasons recorded on Result entries that were not attempted.
const (
	SkipAlreadyDelivered = "already_delivered"
	SkipNoPrevious       = "no_previous_period"
	SkipNoData           = "no_data"
)

// Result is the outcome of one delivery unit: one report (a source, for the
// national series or one area) to one chat in one period.
type Result struct {
	ChatID    int64
	Source    string
	Area      string // empty for the national series
	Period    string
	Delivered bool
	Skip      string // one of the Skip* constants when not attempted
	Err       error
	Took      time.Duration
}

// PassSummary aggregates one delivery pass.
type PassSummary struct {
	Start     time.Time
	End       time.Time
	Units     int
	Delivered int
	Skipped   int
	Failed    int
	Results   []Result
}

// EventPassDone is published on the event bus after each completed pass,
// with a PassSummary as data.
const EventPassDone = "delivery.pass_done"

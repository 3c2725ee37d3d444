package report

import "errors"

// Configuration errors: fatal to the single report-generation call, never
// to the delivery pass.
var (
	ErrUnknownCadence        = errors.New("report: unknown cadence")
	ErrNoDateVariable        = errors.New("report: no date variable declared")
	ErrMultipleDateVariables = errors.New("report: more than one date variable declared")
)

// Data errors: the requested comparison cannot be produced from the table.
var (
	ErrPeriodNotFound   = errors.New("report: no data for requested period")
	ErrNoPreviousPeriod = errors.New("report: no previous period to diff against")
	ErrVariableMissing  = errors.New("report: declared variable missing from table")
)

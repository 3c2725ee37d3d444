// Package dataset retrieves and parses the public Covid-19 open-data feeds
// (contagion counters, vaccination counters) into observation tables.
package dataset

import (
	"errors"
	"time"
)

var (
	ErrUnknownSource = errors.New("dataset: unknown source")
	ErrUnknownFile   = errors.New("dataset: unknown file key")
	ErrNoAreaColumn  = errors.New("dataset: table has no area column")
	ErrAreaNotFound  = errors.New("dataset: no data for area")
)

// VariableKind tells the report engine how to interpret a column.
type VariableKind string

const (
	// KindDate marks the column supplying the timestamp used for period
	// bucketing. Exactly one per source.
	KindDate VariableKind = "date"
	// KindActual values are already per-period quantities.
	KindActual VariableKind = "actual"
	// KindCumulative values are running totals; per-period quantities are
	// first differences of consecutive period maxima.
	KindCumulative VariableKind = "cumulative"
)

// Variable is one declared column. Declaration order matters: when a table
// accidentally declares several date columns, lenient report generation
// picks the first.
type Variable struct {
	Name string
	Kind VariableKind
}

// Record is one observation row. Values only holds the columns that parsed
// as numbers; a column absent from the map was empty or malformed in the
// feed.
type Record struct {
	Time   time.Time
	Area   string
	Values map[string]float64
}

// Table is an ordered collection of records sharing one column schema.
type Table struct {
	Columns []string
	Records []Record
}

// HasColumn reports whether name is part of the table schema.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Format selects how a report is delivered to a chat.
type Format string

const (
	// FormatText renders the report as a chat message.
	FormatText Format = "text"
	// FormatSheet renders the report as a CSV attachment.
	FormatSheet Format = "sheet"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText:
		return FormatText, nil
	case FormatSheet:
		return FormatSheet, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// RenderText renders a report as plain text, one variable per line:
//
//	new_cases: 2310 (avg 330, std 41.3) +12.5%
//
// The percent change is omitted on rows where it is undefined.
func RenderText(rep Report) string {
	var b strings.Builder
	b.WriteString(rep.Title)
	b.WriteString(" — ")
	b.WriteString(rep.Period)
	b.WriteByte('\n')
	for _, row := range rep.Rows {
		b.WriteString(row.Name)
		b.WriteString(": ")
		b.WriteString(formatNumber(row.Total))
		b.WriteString(" (avg ")
		b.WriteString(formatNumber(row.Mean))
		b.WriteString(", std ")
		b.WriteString(formatNumber(row.StdDev))
		b.WriteString(")")
		if !math.IsNaN(row.PctChange) {
			b.WriteString(" ")
			b.WriteString(formatPct(row.PctChange))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderCSV renders a report as a CSV sheet with a fixed header. Undefined
// percent changes produce an empty cell.
func RenderCSV(rep Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"variable", "total", "mean", "std", "pct_change"}); err != nil {
		return nil, err
	}
	for _, row := range rep.Rows {
		pct := ""
		if !math.IsNaN(row.PctChange) {
			pct = strconv.FormatFloat(row.PctChange, 'f', 4, 64)
		}
		rec := []string{
			row.Name,
			formatNumber(row.Total),
			formatNumber(row.Mean),
			formatNumber(row.StdDev),
			pct,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// formatNumber renders whole values without a fraction and everything else
// with one decimal place.
func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func formatPct(v float64) string {
	return fmt.Sprintf("%+.1f%%", v*100)
}

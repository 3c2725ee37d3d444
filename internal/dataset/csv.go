package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Timestamp layouts seen across the feeds. The national feed uses a bare
// ISO datetime without zone; the vaccine feed uses plain dates.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// readTable parses a CSV feed into a Table.
//
// area == "" returns all rows without area filtering. A non-empty area
// requires spec.AreaColumn to exist (ErrNoAreaColumn) and at least one row
// to match (ErrAreaNotFound); matched rows keep only the selected area.
func readTable(r io.Reader, spec Spec, area string, loc *time.Location) (Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return Table{}, fmt.Errorf("read header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	colIdx := map[string]int{}
	for i, c := range columns {
		colIdx[c] = i
	}

	dateIdx, hasDate := colIdx[spec.DateColumn]
	if !hasDate {
		return Table{}, fmt.Errorf("feed %s is missing date column %q", spec.Source, spec.DateColumn)
	}

	areaIdx := -1
	if area != "" {
		i, ok := colIdx[spec.AreaColumn]
		if !ok {
			return Table{}, fmt.Errorf("%w: %q", ErrNoAreaColumn, spec.AreaColumn)
		}
		areaIdx = i
	}

	// Numeric columns: everything declared except the date column.
	numeric := make(map[string]int, len(spec.Variables))
	for _, v := range spec.Variables {
		if v.Kind == KindDate {
			continue
		}
		if i, ok := colIdx[v.Name]; ok {
			numeric[v.Name] = i
		}
	}

	t := Table{Columns: columns}
	matched := false
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read row: %w", err)
		}
		if areaIdx >= 0 {
			if !strings.EqualFold(strings.TrimSpace(row[areaIdx]), area) {
				continue
			}
			matched = true
		}

		ts, err := parseTime(row[dateIdx], loc)
		if err != nil {
			// Skip malformed rows instead of failing the whole feed.
			continue
		}

		rec := Record{Time: ts, Values: make(map[string]float64, len(numeric))}
		if areaIdx >= 0 {
			rec.Area = strings.TrimSpace(row[areaIdx])
		}
		for name, i := range numeric {
			raw := strings.TrimSpace(row[i])
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			rec.Values[name] = v
		}
		t.Records = append(t.Records, rec)
	}

	if areaIdx >= 0 && !matched {
		return Table{}, fmt.Errorf("%w: %q", ErrAreaNotFound, area)
	}
	return t, nil
}

// readTableFile is readTable over a cached file on disk.
func readTableFile(path string, spec Spec, area string, loc *time.Location) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()
	return readTable(f, spec, area, loc)
}

// readAreas lists the distinct area names in a per-area feed, in first-seen
// order (used to build the settings keyboard).
func readAreas(path string, spec Spec) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	areaIdx := -1
	for i, h := range header {
		if strings.TrimSpace(h) == spec.AreaColumn {
			areaIdx = i
			break
		}
	}
	if areaIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoAreaColumn, spec.AreaColumn)
	}

	seen := map[string]bool{}
	var areas []string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		name := strings.TrimSpace(row[areaIdx])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		areas = append(areas, name)
	}
	return areas, nil
}

package dataset

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testSpec() Spec {
	return Spec{
		Source:     "contagions",
		AreaColumn: "denominazione_regione",
		DateColumn: "data",
		Variables: []Variable{
			{Name: "data", Kind: KindDate},
			{Name: "nuovi_positivi", Kind: KindActual},
			{Name: "deceduti", Kind: KindCumulative},
		},
	}
}

const regionalCSV = `data,denominazione_regione,nuovi_positivi,deceduti,note
2021-03-01T17:00:00,Lazio,120,4000,
2021-03-01T17:00:00,Lombardia,300,9000,
2021-03-02T17:00:00,Lazio,140,4010,
garbage-date,Lazio,1,1,
2021-03-03T17:00:00,Lazio,,4025,
`

func TestReadTableUnfiltered(t *testing.T) {
	t.Parallel()
	table, err := readTable(strings.NewReader(regionalCSV), testSpec(), "", time.UTC)
	if err != nil {
		t.Fatalf("readTable error: %v", err)
	}
	// The malformed-timestamp row is dropped, everything else kept.
	if len(table.Records) != 4 {
		t.Fatalf("records = %d, want 4", len(table.Records))
	}
	if !table.HasColumn("nuovi_positivi") || !table.HasColumn("note") {
		t.Fatalf("columns = %v", table.Columns)
	}
	first := table.Records[0]
	if first.Values["nuovi_positivi"] != 120 || first.Values["deceduti"] != 4000 {
		t.Fatalf("unexpected values: %v", first.Values)
	}
	if !first.Time.Equal(time.Date(2021, 3, 1, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("time = %v", first.Time)
	}
}

func TestReadTableAreaFilter(t *testing.T) {
	t.Parallel()
	table, err := readTable(strings.NewReader(regionalCSV), testSpec(), "lazio", time.UTC)
	if err != nil {
		t.Fatalf("readTable error: %v", err)
	}
	if len(table.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(table.Records))
	}
	for _, rec := range table.Records {
		if rec.Area != "Lazio" {
			t.Fatalf("area = %q", rec.Area)
		}
	}
	// Blank values are absent, not zero.
	last := table.Records[2]
	if _, ok := last.Values["nuovi_positivi"]; ok {
		t.Fatal("blank cell must not produce a value")
	}
	if last.Values["deceduti"] != 4025 {
		t.Fatalf("deceduti = %v", last.Values["deceduti"])
	}
}

func TestReadTableAreaErrors(t *testing.T) {
	t.Parallel()
	if _, err := readTable(strings.NewReader(regionalCSV), testSpec(), "Atlantis", time.UTC); !errors.Is(err, ErrAreaNotFound) {
		t.Fatalf("err = %v, want ErrAreaNotFound", err)
	}

	spec := testSpec()
	spec.AreaColumn = "nome_area"
	if _, err := readTable(strings.NewReader(regionalCSV), spec, "Lazio", time.UTC); !errors.Is(err, ErrNoAreaColumn) {
		t.Fatalf("err = %v, want ErrNoAreaColumn", err)
	}
}

func TestParseTimeLayouts(t *testing.T) {
	t.Parallel()
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2021-03-01T17:00:00", time.Date(2021, 3, 1, 17, 0, 0, 0, rome)},
		{"2021-03-01 17:00:00", time.Date(2021, 3, 1, 17, 0, 0, 0, rome)},
		{"2021-03-01", time.Date(2021, 3, 1, 0, 0, 0, 0, rome)},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.raw, rome)
		if err != nil {
			t.Fatalf("parseTime(%q) error: %v", tt.raw, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("parseTime(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	if _, err := parseTime("yesterday", rome); err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

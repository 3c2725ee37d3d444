package report

import (
	"errors"
	"math"
	"testing"
	"time"

	"epibot/internal/dataset"
	logx "epibot/pkg/logx"
)

func day(d int, hour int) time.Time {
	return time.Date(2021, 3, d, hour, 0, 0, 0, time.UTC)
}

func rec(at time.Time, values map[string]float64) dataset.Record {
	return dataset.Record{Time: at, Values: values}
}

func testVars() []dataset.Variable {
	return []dataset.Variable{
		{Name: "data", Kind: dataset.KindDate},
		{Name: "new_cases", Kind: dataset.KindActual},
		{Name: "total_cases", Kind: dataset.KindCumulative},
	}
}

func TestGenerateActualStats(t *testing.T) {
	t.Parallel()
	table := dataset.Table{
		Columns: []string{"data", "new_cases", "total_cases"},
		Records: []dataset.Record{
			rec(day(1, 17), map[string]float64{"new_cases": 10}),
			rec(day(2, 17), map[string]float64{"new_cases": 20}),
			rec(day(3, 17), map[string]float64{"new_cases": 30}),
		},
	}
	vars := []dataset.Variable{
		{Name: "data", Kind: dataset.KindDate},
		{Name: "new_cases", Kind: dataset.KindActual},
	}

	rep, err := NewEngine(nopLogger()).Generate(table, vars, "2021-03-03", CadenceDay, true)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if rep.Period != "2021-03-03" {
		t.Fatalf("Period = %q", rep.Period)
	}
	if len(rep.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rep.Rows))
	}
	row := rep.Rows[0]
	if row.Total != 30 || row.Mean != 30 || row.StdDev != 0 {
		t.Fatalf("unexpected stats: %+v", row)
	}
	// 30 vs 20 the day before.
	if math.Abs(row.PctChange-0.5) > 1e-9 {
		t.Fatalf("PctChange = %v, want 0.5", row.PctChange)
	}
}

func TestGenerateCumulativeDifferencing(t *testing.T) {
	t.Parallel()
	// Running totals 100, 140, 190: the increments are 40 and 50, and the
	// first observation yields none.
	table := dataset.Table{
		Columns: []string{"data", "total_cases"},
		Records: []dataset.Record{
			rec(day(1, 17), map[string]float64{"total_cases": 100}),
			rec(day(2, 17), map[string]float64{"total_cases": 140}),
			rec(day(3, 17), map[string]float64{"total_cases": 190}),
		},
	}
	vars := []dataset.Variable{
		{Name: "data", Kind: dataset.KindDate},
		{Name: "total_cases", Kind: dataset.KindCumulative},
	}

	rep, err := NewEngine(nopLogger()).Generate(table, vars, "2021-03-03", CadenceDay, true)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if len(rep.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rep.Rows))
	}
	row := rep.Rows[0]
	if row.Total != 50 {
		t.Fatalf("Total = %v, want 50", row.Total)
	}
	if math.Abs(row.PctChange-0.25) > 1e-9 {
		t.Fatalf("PctChange = %v, want 0.25 (50 vs 40)", row.PctChange)
	}
}

func TestGenerateCumulativeDuplicateTimestamps(t *testing.T) {
	t.Parallel()
	// Duplicate observations at the same instant collapse to the maximum
	// before differencing.
	table := dataset.Table{
		Columns: []string{"data", "total_cases"},
		Records: []dataset.Record{
			rec(day(2, 17), map[string]float64{"total_cases": 90}),
			rec(day(2, 17), map[string]float64{"total_cases": 100}),
			rec(day(3, 17), map[string]float64{"total_cases": 130}),
		},
	}
	vars := []dataset.Variable{
		{Name: "data", Kind: dataset.KindDate},
		{Name: "total_cases", Kind: dataset.KindCumulative},
	}

	rep, err := NewEngine(nopLogger()).Generate(table, vars, "2021-03-03", CadenceDay, true)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if rep.Rows[0].Total != 30 {
		t.Fatalf("Total = %v, want 30 (130-100)", rep.Rows[0].Total)
	}
}

func TestGenerateFlatSeries(t *testing.T) {
	t.Parallel()
	table := dataset.Table{
		Columns: []string{"data", "new_cases"},
		Records: []dataset.Record{
			rec(day(2, 17), map[string]float64{"new_cases": 5}),
			rec(day(3, 17), map[string]float64{"new_cases": 5}),
		},
	}
	vars := []dataset.Variable{
		{Name: "data", Kind: dataset.KindDate},
		{Name: "new_cases", Kind: dataset.KindActual},
	}

	rep, err := NewEngine(nopLogger()).Generate(table, vars, "2021-03-03", CadenceDay, true)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got := rep.Rows[0].PctChange; got != 0 {
		t.Fatalf("PctChange = %v, want 0", got)
	}
}

func TestGenerateZeroPreviousMeanIsNaN(t *testing.T) {
	t.Parallel()
	table := dataset.Table{
		Columns: []string{"data", "new_cases"},
		Records: []dataset.Record{
			rec(day(2, 17), map[string]float64{"new_cases": 0}),
			rec(day(3, 17), map[string]float64{"new_cases": 7}),
		},
	}
	vars := []dataset.Variable{
		{Name: "data", Kind: dataset.KindDate},
		{Name: "new_cases", Kind: dataset.KindActual},
	}

	rep, err := NewEngine(nopLogger()).Generate(table, vars, "2021-03-03", CadenceDay, true)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !math.IsNaN(rep.Rows[0].PctChange) {
		t.Fatalf("PctChange = %v, want NaN", rep.Rows[0].PctChange)
	}
}

func TestGenerateWeeklyStdDev(t *testing.T) {
	t.Parallel()
	// Week 2021-W09 is Mar 1-7, week 2021-W10 is Mar 8-14.
	table := dataset.Table{
		Columns: []string{"data", "new_cases"},
		Records: []dataset.Record{
			rec(day(1, 17), map[string]float64{"new_cases": 10}),
			rec(day(2, 17), map[string]float64{"new_cases": 10}),
			rec(day(8, 17), map[string]float64{"new_cases": 10}),
			rec(day(9, 17), map[string]float64{"new_cases": 20}),
		},
	}
	vars := []dataset.Variable{
		{Name: "data", Kind: dataset.KindDate},
		{Name: "new_cases", Kind: dataset.KindActual},
	}

	rep, err := NewEngine(nopLogger()).Generate(table, vars, "2021-W10", CadenceWeek, true)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	row := rep.Rows[0]
	if row.Total != 30 || row.Mean != 15 {
		t.Fatalf("unexpected stats: %+v", row)
	}
	// Sample std of {10, 20}.
	if math.Abs(row.StdDev-math.Sqrt(50)) > 1e-9 {
		t.Fatalf("StdDev = %v, want sqrt(50)", row.StdDev)
	}
	if math.Abs(row.PctChange-0.5) > 1e-9 {
		t.Fatalf("PctChange = %v, want 0.5", row.PctChange)
	}
}

func TestGenerateErrors(t *testing.T) {
	t.Parallel()
	table := dataset.Table{
		Columns: []string{"data", "new_cases", "total_cases"},
		Records: []dataset.Record{
			rec(day(2, 17), map[string]float64{"new_cases": 1, "total_cases": 1}),
			rec(day(3, 17), map[string]float64{"new_cases": 2, "total_cases": 3}),
		},
	}

	eng := NewEngine(nopLogger())

	t.Run("no date variable", func(t *testing.T) {
		vars := []dataset.Variable{{Name: "new_cases", Kind: dataset.KindActual}}
		if _, err := eng.Generate(table, vars, "2021-03-03", CadenceDay, false); !errors.Is(err, ErrNoDateVariable) {
			t.Fatalf("err = %v, want ErrNoDateVariable", err)
		}
	})

	t.Run("multiple date variables strict", func(t *testing.T) {
		vars := append(testVars(), dataset.Variable{Name: "data2", Kind: dataset.KindDate})
		if _, err := eng.Generate(table, vars, "2021-03-03", CadenceDay, true); !errors.Is(err, ErrMultipleDateVariables) {
			t.Fatalf("err = %v, want ErrMultipleDateVariables", err)
		}
	})

	t.Run("multiple date variables lenient", func(t *testing.T) {
		vars := append(testVars(), dataset.Variable{Name: "data2", Kind: dataset.KindDate})
		if _, err := eng.Generate(table, vars, "2021-03-03", CadenceDay, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("missing variable strict", func(t *testing.T) {
		vars := append(testVars(), dataset.Variable{Name: "icu", Kind: dataset.KindActual})
		if _, err := eng.Generate(table, vars, "2021-03-03", CadenceDay, true); !errors.Is(err, ErrVariableMissing) {
			t.Fatalf("err = %v, want ErrVariableMissing", err)
		}
	})

	t.Run("missing variable lenient", func(t *testing.T) {
		vars := append(testVars(), dataset.Variable{Name: "icu", Kind: dataset.KindActual})
		rep, err := eng.Generate(table, vars, "2021-03-03", CadenceDay, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, row := range rep.Rows {
			if row.Name == "icu" {
				t.Fatal("missing variable should be omitted")
			}
		}
	})

	t.Run("period not found", func(t *testing.T) {
		if _, err := eng.Generate(table, testVars(), "2021-04-01", CadenceDay, true); !errors.Is(err, ErrPeriodNotFound) {
			t.Fatalf("err = %v, want ErrPeriodNotFound", err)
		}
	})

	t.Run("no previous period", func(t *testing.T) {
		if _, err := eng.Generate(table, testVars(), "2021-03-02", CadenceDay, true); !errors.Is(err, ErrNoPreviousPeriod) {
			t.Fatalf("err = %v, want ErrNoPreviousPeriod", err)
		}
	})
}

func nopLogger() logx.Logger { return logx.Nop() }

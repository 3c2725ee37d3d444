package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"epibot/internal/dataset"
	logx "epibot/pkg/logx"
)

// Row holds the four statistics for one variable, comparing the current
// period to the previous one. PctChange is the raw fractional change of the
// means (0.25 == +25%); it is NaN when the previous mean is zero or the
// previous period has no samples, and renderers omit it in that case.
type Row struct {
	Name      string
	Total     float64
	Mean      float64
	StdDev    float64
	PctChange float64
}

// Report is the result of one engine run.
type Report struct {
	Title  string
	Period string
	Rows   []Row
}

// Engine generates reports. It has no state besides a logger; Generate is a
// pure function of its inputs.
type Engine struct {
	log logx.Logger
}

func NewEngine(log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{log: log}
}

// Generate compares currentKey against the immediately preceding period
// observed in the table.
//
// strict controls how configuration slack is treated: with strict=true a
// declaration of several date variables or a declared variable missing from
// the table fails the call; with strict=false the first date variable wins
// and missing variables are logged and omitted. Zero date variables is
// always fatal.
func (e *Engine) Generate(t dataset.Table, vars []dataset.Variable, currentKey string, cadence Cadence, strict bool) (Report, error) {
	dateCount := 0
	for _, v := range vars {
		if v.Kind == dataset.KindDate {
			dateCount++
		}
	}
	if dateCount == 0 {
		return Report{}, ErrNoDateVariable
	}
	if dateCount > 1 {
		if strict {
			return Report{}, ErrMultipleDateVariables
		}
		e.log.Warn("multiple date variables declared; using the first",
			logx.Int("count", dateCount))
	}

	// Verify declared variables exist in the table schema.
	active := make([]dataset.Variable, 0, len(vars))
	for _, v := range vars {
		if v.Kind == dataset.KindDate {
			continue
		}
		if !t.HasColumn(v.Name) {
			if strict {
				return Report{}, fmt.Errorf("%w: %q", ErrVariableMissing, v.Name)
			}
			e.log.Warn("declared variable missing from table; omitting",
				logx.String("variable", v.Name))
			continue
		}
		active = append(active, v)
	}

	// Bucket every record and order the distinct period keys by the
	// earliest timestamp observed under each key. Keys must be compared by
	// time, not lexicographically, to stay correct for any key format.
	keys, keyOf, err := periodKeys(t.Records, cadence)
	if err != nil {
		return Report{}, err
	}

	curIdx := -1
	for i, k := range keys {
		if k == currentKey {
			curIdx = i
			break
		}
	}
	if curIdx < 0 {
		return Report{}, fmt.Errorf("%w: %q", ErrPeriodNotFound, currentKey)
	}
	if curIdx == 0 {
		return Report{}, fmt.Errorf("%w: %q is the earliest period observed", ErrNoPreviousPeriod, currentKey)
	}
	previousKey := keys[curIdx-1]

	// Restrict the working set to the two periods being compared.
	var restricted []dataset.Record
	for i, rec := range t.Records {
		if k := keyOf[i]; k == currentKey || k == previousKey {
			restricted = append(restricted, rec)
		}
	}

	rep := Report{Period: currentKey}
	for _, v := range active {
		var cur, prev []float64
		switch v.Kind {
		case dataset.KindActual:
			cur, prev = splitByPeriod(restricted, v.Name, cadence, currentKey, previousKey)
		case dataset.KindCumulative:
			incs := increments(restricted, v.Name)
			cur, prev = splitIncrements(incs, cadence, currentKey, previousKey)
		default:
			// Unknown kinds are skipped for forward compatibility.
			continue
		}

		if len(cur) == 0 {
			e.log.Debug("no samples for variable in current period; omitting",
				logx.String("variable", v.Name), logx.String("period", currentKey))
			continue
		}

		row := Row{Name: v.Name}
		row.Total = sum(cur)
		row.Mean = row.Total / float64(len(cur))
		row.StdDev = stdDev(cur, row.Mean)
		row.PctChange = pctChange(row.Mean, prev)
		rep.Rows = append(rep.Rows, row)
	}

	return rep, nil
}

// periodKeys returns the distinct period keys sorted by earliest underlying
// timestamp, plus each record's key by index.
func periodKeys(recs []dataset.Record, cadence Cadence) ([]string, []string, error) {
	keyOf := make([]string, len(recs))
	earliest := map[string]time.Time{}
	for i, rec := range recs {
		k, err := Bucket(rec.Time, cadence)
		if err != nil {
			return nil, nil, err
		}
		keyOf[i] = k
		if first, ok := earliest[k]; !ok || rec.Time.Before(first) {
			earliest[k] = rec.Time
		}
	}

	keys := make([]string, 0, len(earliest))
	for k := range earliest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return earliest[keys[i]].Before(earliest[keys[j]])
	})
	return keys, keyOf, nil
}

// splitByPeriod collects the raw per-record samples of one variable in the
// current and previous periods.
func splitByPeriod(recs []dataset.Record, name string, cadence Cadence, currentKey, previousKey string) (cur, prev []float64) {
	for _, rec := range recs {
		v, ok := rec.Values[name]
		if !ok {
			continue
		}
		k, err := Bucket(rec.Time, cadence)
		if err != nil {
			continue
		}
		switch k {
		case currentKey:
			cur = append(cur, v)
		case previousKey:
			prev = append(prev, v)
		}
	}
	return cur, prev
}

type increment struct {
	at    time.Time
	value float64
}

// increments converts a cumulative series into per-instant increments:
// collapse duplicate observations at the same instant to their maximum,
// then take first differences between consecutive instants. The earliest
// instant has no predecessor and yields no increment.
func increments(recs []dataset.Record, name string) []increment {
	maxAt := map[time.Time]float64{}
	var order []time.Time
	for _, rec := range recs {
		v, ok := rec.Values[name]
		if !ok {
			continue
		}
		if prev, seen := maxAt[rec.Time]; !seen {
			maxAt[rec.Time] = v
			order = append(order, rec.Time)
		} else if v > prev {
			maxAt[rec.Time] = v
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]increment, 0, len(order))
	for i := 1; i < len(order); i++ {
		out = append(out, increment{
			at:    order[i],
			value: maxAt[order[i]] - maxAt[order[i-1]],
		})
	}
	return out
}

// splitIncrements re-buckets per-instant increments by period key.
func splitIncrements(incs []increment, cadence Cadence, currentKey, previousKey string) (cur, prev []float64) {
	for _, inc := range incs {
		k, err := Bucket(inc.at, cadence)
		if err != nil {
			continue
		}
		switch k {
		case currentKey:
			cur = append(cur, inc.value)
		case previousKey:
			prev = append(prev, inc.value)
		}
	}
	return cur, prev
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

// stdDev is the sample standard deviation. A single-sample period is
// defined to have zero deviation, not an undefined one.
func stdDev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func pctChange(curMean float64, prev []float64) float64 {
	if len(prev) == 0 {
		return math.NaN()
	}
	prevMean := sum(prev) / float64(len(prev))
	if prevMean == 0 {
		return math.NaN()
	}
	return curMean/prevMean - 1
}

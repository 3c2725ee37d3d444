package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"epibot/internal/dataset"
	"epibot/internal/eventbus"
	"epibot/internal/report"
	"epibot/internal/storage"
	logx "epibot/pkg/logx"
)

// Source is the slice of a dataset provider the scheduler needs. Satisfied
// by *dataset.Provider.
type Source interface {
	Name() string
	Title() string
	Variables() []dataset.Variable
	Refresh(ctx context.Context) error
	NationalTable(ctx context.Context) (dataset.Table, error)
	AreaTable(ctx context.Context, area string) (dataset.Table, error)
}

// Dispatcher sends a finished report to a chat. Satisfied by the core's
// Telegram dispatcher.
type Dispatcher interface {
	Deliver(ctx context.Context, chatID int64, rep report.Report, format report.Format) error
}

// State of the scheduler loop.
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Options is the tunable part of the scheduler, replaceable as a whole on
// config reload.
type Options struct {
	Trigger         Trigger
	MinPassGap      time.Duration
	SubscriberDelay time.Duration
	Location        *time.Location
	Quiet           QuietWindow
	Strict          bool
}

func (o *Options) normalize() {
	if o.Trigger.zero() {
		o.Trigger, _ = ParseTrigger("30m")
	}
	if o.MinPassGap <= 0 {
		o.MinPassGap = 10 * time.Second
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
}

// Scheduler runs periodic delivery passes: refresh the sources, then walk
// every subscription and deliver each report exactly once per period.
//
// A failed unit is logged and audited, never aborts the pass, and keeps the
// (chat, source) marker unset so the next pass retries it.
type Scheduler struct {
	sources    []Source
	store      storage.Store
	tracker    *Tracker
	dispatcher Dispatcher
	engine     *report.Engine
	bus        eventbus.Bus
	log        logx.Logger

	now func() time.Time

	mu    sync.Mutex
	opts  Options
	state State
}

func NewScheduler(sources []Source, store storage.Store, dispatcher Dispatcher, engine *report.Engine, bus eventbus.Bus, opts Options, log logx.Logger) *Scheduler {
	opts.normalize()
	ordered := append([]Source(nil), sources...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name() < ordered[j].Name() })
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		sources:    ordered,
		store:      store,
		tracker:    NewTracker(store),
		dispatcher: dispatcher,
		engine:     engine,
		bus:        bus,
		log:        log,
		now:        time.Now,
		opts:       opts,
	}
}

// Apply swaps the options; the change takes effect from the next wait.
func (s *Scheduler) Apply(opts Options) {
	opts.normalize()
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
	s.log.Info("delivery options applied")
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// Run blocks until ctx is done, firing passes per the trigger.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		opts := s.options()
		now := s.now()
		next := opts.Trigger.Next(now)
		if gap := now.Add(opts.MinPassGap); next.Before(gap) {
			next = gap
		}
		if err := sleepUntil(ctx, next.Sub(now)); err != nil {
			return err
		}

		opts = s.options()
		summary := s.Pass(ctx, s.now().In(opts.Location))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventPassDone, Data: summary})
		}
	}
}

// Pass runs one delivery pass at the given instant and returns its summary.
// Exported so the core can run a pass on demand.
func (s *Scheduler) Pass(ctx context.Context, now time.Time) (summary PassSummary) {
	opts := s.options()
	now = now.In(opts.Location)

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
	}()

	summary.Start = now
	defer func() { summary.End = s.now() }()

	s.log.Info("delivery pass starting", logx.Time("at", now))

	for _, src := range s.sources {
		if err := src.Refresh(ctx); err != nil {
			// Stale cached data still yields a report; the freshness gate
			// in the fetcher keeps periods honest.
			s.log.Warn("source refresh failed, using cached data",
				logx.String("source", src.Name()), logx.Err(err))
		}
	}

	// Sources stay fresh during quiet hours; only deliveries pause.
	if opts.Quiet.Suppressed(now) {
		s.log.Debug("deliveries suppressed by quiet hours", logx.Time("at", now))
		return summary
	}

	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		s.log.Error("listing subscriptions failed", logx.Err(err))
		return summary
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ChatID < subs[j].ChatID })

	for i, sub := range subs {
		if ctx.Err() != nil {
			return summary
		}
		if i > 0 && opts.SubscriberDelay > 0 {
			if err := sleepUntil(ctx, opts.SubscriberDelay); err != nil {
				return summary
			}
		}
		s.passSubscriber(ctx, now, opts, sub, &summary)
	}

	s.log.Info("delivery pass finished",
		logx.Int("units", summary.Units),
		logx.Int("delivered", summary.Delivered),
		logx.Int("skipped", summary.Skipped),
		logx.Int("failed", summary.Failed))
	return summary
}

func (s *Scheduler) passSubscriber(ctx context.Context, now time.Time, opts Options, sub storage.Subscription, summary *PassSummary) {
	cadence, err := report.ParseCadence(sub.Cadence)
	if err != nil {
		s.log.Warn("subscription has unknown cadence, skipping chat",
			logx.Int64("chat_id", sub.ChatID), logx.String("cadence", sub.Cadence))
		return
	}
	period, err := report.CurrentPeriod(now, cadence)
	if err != nil {
		s.log.Error("period bucketing failed", logx.Err(err))
		return
	}
	format, err := report.ParseFormat(sub.Format)
	if err != nil {
		format = report.FormatText
	}

	for _, src := range s.sources {
		sel, ok := sub.Sources[src.Name()]
		if !ok || sel.Empty() {
			continue
		}

		due, err := s.tracker.Due(ctx, sub.ChatID, src.Name(), period)
		if err != nil {
			s.log.Error("marker lookup failed",
				logx.Int64("chat_id", sub.ChatID), logx.String("source", src.Name()), logx.Err(err))
			continue
		}
		if !due {
			summary.Units++
			summary.Skipped++
			summary.Results = append(summary.Results, Result{
				ChatID: sub.ChatID, Source: src.Name(), Period: period,
				Skip: SkipAlreadyDelivered,
			})
			continue
		}

		allOK := true
		attempted := 0
		units := s.unitsFor(sel)
		for _, area := range units {
			res := s.deliverUnit(ctx, sub.ChatID, src, area, period, cadence, format, opts.Strict)
			summary.Units++
			switch {
			case res.Err != nil:
				summary.Failed++
				allOK = false
			case res.Delivered:
				summary.Delivered++
				attempted++
			default:
				summary.Skipped++
			}
			summary.Results = append(summary.Results, res)
			s.audit(ctx, res)
		}

		// Mark only after a fully clean run so failed units are retried;
		// all-skip runs stay unmarked in case data lands later in the period.
		if allOK && attempted > 0 {
			if err := s.tracker.MarkDone(ctx, sub.ChatID, src.Name(), period); err != nil {
				s.log.Error("marker update failed",
					logx.Int64("chat_id", sub.ChatID), logx.String("source", src.Name()), logx.Err(err))
			}
		}
	}
}

// unitsFor expands a selection into delivery units; "" is the national
// series.
func (s *Scheduler) unitsFor(sel storage.SourceSelection) []string {
	var units []string
	if sel.National {
		units = append(units, "")
	}
	units = append(units, sel.Areas...)
	return units
}

func (s *Scheduler) deliverUnit(ctx context.Context, chatID int64, src Source, area, period string, cadence report.Cadence, format report.Format, strict bool) (res Result) {
	start := s.now()
	res = Result{ChatID: chatID, Source: src.Name(), Area: area, Period: period}
	defer func() { res.Took = s.now().Sub(start) }()

	var (
		table dataset.Table
		err   error
	)
	if area == "" {
		table, err = src.NationalTable(ctx)
	} else {
		table, err = src.AreaTable(ctx, area)
	}
	if err != nil {
		res.Err = err
		s.log.Error("loading table failed",
			logx.Int64("chat_id", chatID), logx.String("source", src.Name()),
			logx.String("area", area), logx.Err(err))
		return res
	}

	rep, err := s.engine.Generate(table, src.Variables(), period, cadence, strict)
	switch {
	case errors.Is(err, report.ErrNoPreviousPeriod):
		res.Skip = SkipNoPrevious
		return res
	case errors.Is(err, report.ErrPeriodNotFound):
		res.Skip = SkipNoData
		return res
	case err != nil:
		res.Err = err
		s.log.Error("report generation failed",
			logx.Int64("chat_id", chatID), logx.String("source", src.Name()),
			logx.String("area", area), logx.String("period", period), logx.Err(err))
		return res
	}

	rep.Title = src.Title()
	if area != "" {
		rep.Title += " · " + area
	}

	if err := s.dispatcher.Deliver(ctx, chatID, rep, format); err != nil {
		res.Err = err
		s.log.Error("delivery failed",
			logx.Int64("chat_id", chatID), logx.String("source", src.Name()),
			logx.String("area", area), logx.Err(err))
		return res
	}
	res.Delivered = true
	return res
}

func (s *Scheduler) audit(ctx context.Context, res Result) {
	if res.Skip != "" {
		// Benign skips are not audited; they happen on every pass.
		return
	}
	e := storage.AuditEntry{
		At:     s.now(),
		ChatID: res.ChatID,
		Action: "deliver",
		Source: res.Source,
		Period: res.Period,
		OK:     res.Err == nil,
		TookMS: res.Took.Milliseconds(),
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.Err(err))
	}
}

func sleepUntil(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

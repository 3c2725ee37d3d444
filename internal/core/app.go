package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"epibot/internal/config"
	"epibot/internal/dataset"
	"epibot/internal/delivery"
	"epibot/internal/eventbus"
	"epibot/internal/report"
	"epibot/internal/runtime/supervisor"
	"epibot/internal/storage"
	kit "epibot/internal/transport"
	telegram "epibot/internal/transport/telegram"
	logx "epibot/pkg/logx"
	"epibot/pkg/tgui"
)

const defaultTimezone = "Europe/Rome"

// App wires the bot together: config, logging, storage, dataset providers,
// the delivery scheduler and the command router.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store      storage.Store
	adapter    kit.Adapter
	sources    []delivery.Source
	sched      *delivery.Scheduler
	engine     *report.Engine
	dispatcher *TelegramDispatcher

	router   *Router
	sessions *sessionManager

	updates chan kit.Update
	version string
}

func NewApp(cfgPath, version string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies the config immediately; bootstrap with the Telegram
	// sink off, set the target chat, then apply the real config.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))
	applyLogTarget(logSvc, cfg)
	logSvc.Apply(mapLogConfig(cfg))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	loc := timezoneOf(cfg)
	fetchTimeout, err := config.ParseDurationOrDefault("datasets.fetch_timeout", cfg.Datasets.FetchTimeout, 60*time.Second)
	if err != nil {
		return nil, err
	}
	cacheDir := strings.TrimSpace(cfg.Datasets.CacheDir)
	if cacheDir == "" {
		cacheDir = "./data/datasets"
	}
	fetcher := dataset.NewFetcher(cacheDir, fetchTimeout, log.With(logx.String("comp", "datasets")))

	var sources []delivery.Source
	for _, p := range dataset.NewProviders(fetcher, loc) {
		sources = append(sources, p)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name() < sources[j].Name() })

	engine := report.NewEngine(log.With(logx.String("comp", "report")))
	dispatcher := NewTelegramDispatcher(ad)

	opts, err := mapDeliveryOptions(cfg, loc)
	if err != nil {
		return nil, err
	}
	sched := delivery.NewScheduler(sources, store, dispatcher, engine, bus, opts,
		log.With(logx.String("comp", "delivery")))

	sessions := newSessionManager(store, sources, ad, log.With(logx.String("comp", "session")))
	router := NewRouter(ad, sessions, cfg.Telegram.OwnerUserIDs, log.With(logx.String("comp", "commands")))

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		sources:    sources,
		sched:      sched,
		engine:     engine,
		dispatcher: dispatcher,
		router:     router,
		sessions:   sessions,
		updates:    make(chan kit.Update, 128),
		version:    version,
	}
	a.registerCommands()
	return a, nil
}

// Run starts every component and blocks until ctx is cancelled or a fatal
// error occurs.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if spec := strings.TrimSpace(cfg.Delivery.Poll); spec != "" {
			if _, err := delivery.ParseTrigger(spec); err != nil {
				return fmt.Errorf("delivery.poll: %w", err)
			}
		}
		if _, err := delivery.ParseQuietWindow(cfg.Delivery.QuietStart, cfg.Delivery.QuietEnd); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		if err := mu.UpdateMenuCommands(a.sup.Context(), a.router.MenuCommands()); err != nil {
			a.log.Warn("updating command menu failed", logx.Err(err))
		}
	}

	cfg := a.cfgm.Get()
	if cfg.Delivery.Enabled {
		a.sup.Go("delivery.run", a.sched.Run)
	} else {
		a.log.Info("delivery disabled; reports only on demand")
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.startReloadLoop()
	a.startPassNotifier()

	a.log.Info("epibot started", logx.String("version", a.version))

	<-a.sup.Context().Done()
	return a.shutdown()
}

func (a *App) shutdown() error {
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.adapter.Stop(stopCtx); err != nil {
		a.log.Warn("adapter stop failed", logx.Err(err))
	}
	if err := a.sup.Wait(stopCtx); err != nil && a.sup.Err() == nil {
		a.log.Warn("goroutines still active at shutdown", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing storage failed", logx.Err(err))
	}
	err := a.sup.Err()
	_ = a.logs.Close()
	return err
}

// startReloadLoop applies validated config changes while running: logging
// sinks, owner list and delivery options. Storage and token changes need a
// restart.
func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts, keeping only the newest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})
}

func (a *App) applyConfig(cfg *config.Config) {
	applyLogTarget(a.logs, cfg)
	a.logs.Apply(mapLogConfig(cfg))
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	opts, err := mapDeliveryOptions(cfg, timezoneOf(cfg))
	if err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
		return
	}
	a.sched.Apply(opts)
	a.log.Info("config reloaded")
}

// startPassNotifier forwards failed-pass summaries to the owners.
func (a *App) startPassNotifier() {
	events, unsub := a.bus.Subscribe(16)
	a.sup.Go0("delivery.notify", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type != delivery.EventPassDone {
					continue
				}
				sum, ok := e.Data.(delivery.PassSummary)
				if !ok || sum.Failed == 0 {
					continue
				}
				a.notifyOwners(c, fmt.Sprintf(
					"Delivery pass had failures: %d of %d units failed (%d delivered, %d skipped).",
					sum.Failed, sum.Units, sum.Delivered, sum.Skipped))
			}
		}
	})
}

func (a *App) notifyOwners(ctx context.Context, text string) {
	cfg := a.cfgm.Get()
	for _, id := range cfg.Telegram.OwnerUserIDs {
		html := tgui.JoinH(" ", tgui.B("epibot:"), tgui.Esc(text)).String()
		_, err := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: id}, html, &kit.SendOptions{
			ParseMode: "HTML", DisablePreview: true,
		})
		if err != nil {
			a.log.Warn("owner notification failed", logx.Int64("chat_id", id), logx.Err(err))
		}
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func applyLogTarget(svc *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		svc.SetTelegramTarget(0)
		return
	}
	if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
		svc.SetTelegramTarget(chatID)
	}
}

func timezoneOf(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Delivery.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mapDeliveryOptions(cfg *config.Config, loc *time.Location) (delivery.Options, error) {
	opts := delivery.Options{Location: loc, Strict: cfg.Delivery.Strict}

	if spec := strings.TrimSpace(cfg.Delivery.Poll); spec != "" {
		trig, err := delivery.ParseTrigger(spec)
		if err != nil {
			return delivery.Options{}, fmt.Errorf("delivery.poll: %w", err)
		}
		opts.Trigger = trig
	}

	var err error
	opts.MinPassGap, err = config.ParseDurationOrDefault("delivery.min_pass_gap", cfg.Delivery.MinPassGap, 10*time.Second)
	if err != nil {
		return delivery.Options{}, err
	}
	opts.SubscriberDelay, err = config.ParseDurationField("delivery.subscriber_delay", cfg.Delivery.SubscriberDelay)
	if err != nil {
		return delivery.Options{}, err
	}
	opts.Quiet, err = delivery.ParseQuietWindow(cfg.Delivery.QuietStart, cfg.Delivery.QuietEnd)
	if err != nil {
		return delivery.Options{}, err
	}
	return opts, nil
}

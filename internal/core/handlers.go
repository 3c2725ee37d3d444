package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"epibot/internal/dataset"
	"epibot/internal/delivery"
	"epibot/internal/report"
	"epibot/internal/storage"
	logx "epibot/pkg/logx"
	"epibot/pkg/tgui"
)

func (a *App) registerCommands() {
	a.router.Register(Command{
		Name:        "start",
		Description: "What this bot does",
		Handle:      a.cmdStart,
	})
	a.router.Register(Command{
		Name:        "help",
		Description: "List the available commands",
		Handle:      a.cmdHelp,
	})
	a.router.Register(Command{
		Name:        "subscribe",
		Description: "Choose sources, areas, cadence and format",
		Handle:      a.cmdSubscribe,
	})
	a.router.Register(Command{
		Name:        "unsubscribe",
		Description: "Stop receiving reports",
		Handle:      a.cmdUnsubscribe,
	})
	a.router.Register(Command{
		Name:        "status",
		Description: "Show your current settings",
		Handle:      a.cmdStatus,
	})
	a.router.Register(Command{
		Name:        "report",
		Description: "Send your reports right now",
		Handle:      a.cmdReport,
	})
	a.router.Register(Command{
		Name:        "cancel",
		Description: "Abort the settings conversation",
		Handle:      a.cmdCancel,
	})
	a.router.Register(Command{
		Name:   "pass",
		Access: AccessOwnerOnly,
		Handle: a.cmdPass,
	})
}

func (a *App) cmdStart(ctx context.Context, req *Request) error {
	var names []string
	for _, src := range a.sources {
		names = append(names, src.Title())
	}
	msg := tgui.JoinH("\n",
		tgui.B("epibot"),
		tgui.Esc("Periodic reports on "+strings.Join(names, " and ")+
			", compared period over period."),
		tgui.Esc("Use /subscribe to pick what you want and how often, /help for everything else."),
	)
	return req.Reply(ctx, msg.String(), nil)
}

func (a *App) cmdHelp(ctx context.Context, req *Request) error {
	parts := []tgui.H{tgui.B("Commands")}
	for _, c := range a.router.MenuCommands() {
		parts = append(parts, tgui.JoinH(" — ", tgui.Code("/"+c.Command), tgui.Esc(c.Description)))
	}
	return req.Reply(ctx, tgui.JoinH("\n", parts...).String(), nil)
}

func (a *App) cmdSubscribe(ctx context.Context, req *Request) error {
	a.sessions.Start(ctx, req.ChatID)
	return nil
}

func (a *App) cmdCancel(ctx context.Context, req *Request) error {
	if !a.sessions.Cancel(ctx, req.ChatID) {
		return req.Reply(ctx, "Nothing to cancel.", nil)
	}
	return nil
}

func (a *App) cmdUnsubscribe(ctx context.Context, req *Request) error {
	err := a.store.DeleteSubscription(ctx, req.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, "You were not subscribed.", nil)
	}
	if err != nil {
		return err
	}
	if err := a.store.AppendAudit(ctx, storage.AuditEntry{
		At: time.Now(), ChatID: req.ChatID, Action: "unsubscribe", OK: true,
	}); err != nil {
		req.Logger.Warn("audit append failed", logx.Err(err))
	}
	return req.Reply(ctx, "Unsubscribed. Your settings and delivery history are gone.", nil)
}

func (a *App) cmdStatus(ctx context.Context, req *Request) error {
	sub, err := a.store.GetSubscription(ctx, req.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, "No subscription yet. Use /subscribe to set one up.", nil)
	}
	if err != nil {
		return err
	}

	parts := []tgui.H{
		tgui.B("Your settings"),
		tgui.Esc(describeSubscription(sub, a.sources)),
	}
	var delivered []string
	for _, src := range a.sources {
		if period, ok, err := a.store.GetMarker(ctx, req.ChatID, src.Name()); err == nil && ok {
			delivered = append(delivered, src.Name()+": "+period)
		}
	}
	if len(delivered) > 0 {
		parts = append(parts, tgui.Esc("Last delivered — "+strings.Join(delivered, ", ")))
	}
	parts = append(parts, tgui.Esc("Scheduler: "+a.sched.State().String()))
	return req.Reply(ctx, tgui.JoinH("\n", parts...).String(), nil)
}

// cmdReport generates and sends the chat's reports immediately, bypassing
// the schedule, quiet hours and the delivery markers.
func (a *App) cmdReport(ctx context.Context, req *Request) error {
	sub, err := a.store.GetSubscription(ctx, req.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		return req.Reply(ctx, "No subscription yet. Use /subscribe first.", nil)
	}
	if err != nil {
		return err
	}

	cadence, err := report.ParseCadence(sub.Cadence)
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(sub.Format)
	if err != nil {
		format = report.FormatText
	}
	cfg := a.cfgm.Get()
	now := time.Now().In(timezoneOf(cfg))
	period, err := report.CurrentPeriod(now, cadence)
	if err != nil {
		return err
	}

	sent := 0
	for _, src := range a.sources {
		sel, ok := sub.Sources[src.Name()]
		if !ok || sel.Empty() {
			continue
		}
		if err := src.Refresh(ctx); err != nil {
			req.Logger.Warn("refresh failed, using cached data",
				logx.String("source", src.Name()), logx.Err(err))
		}
		units := []string{}
		if sel.National {
			units = append(units, "")
		}
		units = append(units, sel.Areas...)
		for _, area := range units {
			if err := a.sendUnit(ctx, req.ChatID, src, area, period, cadence, format, cfg.Delivery.Strict); err != nil {
				req.Logger.Warn("on-demand report failed",
					logx.String("source", src.Name()), logx.String("area", area), logx.Err(err))
				continue
			}
			sent++
		}
	}
	if sent == 0 {
		return req.Reply(ctx, "No report available yet for "+period+"; the datasets need at least two periods of data.", nil)
	}
	return nil
}

func (a *App) sendUnit(ctx context.Context, chatID int64, src delivery.Source, area, period string, cadence report.Cadence, format report.Format, strict bool) error {
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
		return err
	}
	rep, err := a.engine.Generate(table, src.Variables(), period, cadence, strict)
	if err != nil {
		return err
	}
	rep.Title = src.Title()
	if area != "" {
		rep.Title += " · " + area
	}
	return a.dispatcher.Deliver(ctx, chatID, rep, format)
}

func (a *App) cmdPass(ctx context.Context, req *Request) error {
	cfg := a.cfgm.Get()
	now := time.Now().In(timezoneOf(cfg))
	sum := a.sched.Pass(ctx, now)
	return req.Reply(ctx, fmt.Sprintf(
		"Pass done: %d units, %d delivered, %d skipped, %d failed in %s.",
		sum.Units, sum.Delivered, sum.Skipped, sum.Failed,
		sum.End.Sub(sum.Start).Round(time.Millisecond)), nil)
}

package core

import (
	"context"
	"fmt"
	"strings"

	"epibot/internal/report"
	kit "epibot/internal/transport"
	"epibot/pkg/tgui"
)

// TelegramDispatcher renders finished reports for Telegram: text reports as
// an HTML message, sheet reports as a CSV attachment.
type TelegramDispatcher struct {
	adapter kit.Adapter
}

func NewTelegramDispatcher(adapter kit.Adapter) *TelegramDispatcher {
	return &TelegramDispatcher{adapter: adapter}
}

func (d *TelegramDispatcher) Deliver(ctx context.Context, chatID int64, rep report.Report, format report.Format) error {
	if format == report.FormatSheet {
		data, err := report.RenderCSV(rep)
		if err != nil {
			return fmt.Errorf("rendering sheet: %w", err)
		}
		return d.adapter.SendDocument(ctx, kit.ChatTarget{ChatID: chatID}, kit.Document{
			Name:    sheetName(rep),
			Caption: rep.Title + " — " + rep.Period,
			Data:    data,
		})
	}

	// First rendered line is the title, the rest are the stat rows.
	text := report.RenderText(rep)
	head, rows, _ := strings.Cut(text, "\n")
	html := tgui.JoinH("\n", tgui.B(head), tgui.Pre(strings.TrimRight(rows, "\n"))).String()
	_, err := d.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, html, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	return err
}

func sheetName(rep report.Report) string {
	slug := strings.ToLower(rep.Title)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, slug)
	slug = strings.Trim(strings.ReplaceAll(slug, "--", "-"), "-")
	return fmt.Sprintf("%s-%s.csv", slug, rep.Period)
}

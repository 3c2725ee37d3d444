package delivery

import (
	"context"

	"epibot/internal/storage"
)

// Tracker answers "has this chat already received this source's report for
// this period" on top of the persistent delivery markers, making passes
// idempotent across restarts.
type Tracker struct {
	store storage.Store
}

func NewTracker(store storage.Store) *Tracker {
	return &Tracker{store: store}
}

// Due reports whether the (chat, source) pair still needs the given period.
// A pair with no marker is always due.
func (t *Tracker) Due(ctx context.Context, chatID int64, source, period string) (bool, error) {
	last, ok, err := t.store.GetMarker(ctx, chatID, source)
	if err != nil {
		return false, err
	}
	return !ok || last != period, nil
}

// MarkDone records the period as delivered. Callers mark only after every
// unit of the (chat, source) pair went out, so a partial failure is retried
// on the next pass.
func (t *Tracker) MarkDone(ctx context.Context, chatID int64, source, period string) error {
	return t.store.SetMarker(ctx, chatID, source, period)
}

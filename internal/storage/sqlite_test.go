package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "epibot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "epibot.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSubscriptionRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.GetSubscription(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	sub := Subscription{
		ChatID:  42,
		Cadence: "week",
		Format:  "sheet",
		Sources: map[string]SourceSelection{
			"contagions": {National: true, Areas: []string{"Lazio", "Veneto"}},
			"vaccines":   {Areas: []string{"Lazio"}},
			"ignored":    {}, // empty selections are not persisted
		},
	}
	if err := st.ReplaceSubscription(ctx, sub); err != nil {
		t.Fatalf("ReplaceSubscription error: %v", err)
	}

	got, err := st.GetSubscription(ctx, 42)
	if err != nil {
		t.Fatalf("GetSubscription error: %v", err)
	}
	if got.Cadence != "week" || got.Format != "sheet" {
		t.Fatalf("unexpected subscription: %+v", got)
	}
	if len(got.Sources) != 2 {
		t.Fatalf("sources = %v", got.Sources)
	}
	sel := got.Sources["contagions"]
	if !sel.National || len(sel.Areas) != 2 || sel.Areas[0] != "Lazio" {
		t.Fatalf("contagions selection = %+v", sel)
	}
	if got.Sources["vaccines"].National {
		t.Fatal("vaccines must not be national")
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not persisted")
	}
}

func TestReplaceSubscriptionIsAtomicReplace(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	first := Subscription{
		ChatID:  7,
		Cadence: "day",
		Format:  "text",
		Sources: map[string]SourceSelection{
			"contagions": {National: true},
			"vaccines":   {National: true},
		},
	}
	if err := st.ReplaceSubscription(ctx, first); err != nil {
		t.Fatalf("ReplaceSubscription error: %v", err)
	}

	second := first
	second.Cadence = "month"
	second.Sources = map[string]SourceSelection{
		"vaccines": {Areas: []string{"Campania"}},
	}
	if err := st.ReplaceSubscription(ctx, second); err != nil {
		t.Fatalf("ReplaceSubscription error: %v", err)
	}

	got, err := st.GetSubscription(ctx, 7)
	if err != nil {
		t.Fatalf("GetSubscription error: %v", err)
	}
	if got.Cadence != "month" {
		t.Fatalf("cadence = %q", got.Cadence)
	}
	if _, stale := got.Sources["contagions"]; stale {
		t.Fatal("old source selection survived the replace")
	}
	if got.Sources["vaccines"].Areas[0] != "Campania" {
		t.Fatalf("vaccines selection = %+v", got.Sources["vaccines"])
	}
}

func TestListSubscriptions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{3, 1, 2} {
		err := st.ReplaceSubscription(ctx, Subscription{
			ChatID:  id,
			Cadence: "day",
			Format:  "text",
			Sources: map[string]SourceSelection{"contagions": {National: true}},
		})
		if err != nil {
			t.Fatalf("ReplaceSubscription error: %v", err)
		}
	}

	subs, err := st.ListSubscriptions(ctx)
	if err != nil {
		t.Fatalf("ListSubscriptions error: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("len = %d", len(subs))
	}
	for i, want := range []int64{1, 2, 3} {
		if subs[i].ChatID != want {
			t.Fatalf("subs[%d].ChatID = %d, want %d", i, subs[i].ChatID, want)
		}
		if len(subs[i].Sources) != 1 {
			t.Fatalf("subs[%d] sources = %v", i, subs[i].Sources)
		}
	}
}

func TestDeleteSubscriptionRemovesMarkers(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.DeleteSubscription(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	err := st.ReplaceSubscription(ctx, Subscription{
		ChatID:  9,
		Cadence: "day",
		Format:  "text",
		Sources: map[string]SourceSelection{"contagions": {National: true}},
	})
	if err != nil {
		t.Fatalf("ReplaceSubscription error: %v", err)
	}
	if err := st.SetMarker(ctx, 9, "contagions", "2021-03-03"); err != nil {
		t.Fatalf("SetMarker error: %v", err)
	}

	if err := st.DeleteSubscription(ctx, 9); err != nil {
		t.Fatalf("DeleteSubscription error: %v", err)
	}
	if _, err := st.GetSubscription(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("subscription still present: %v", err)
	}
	if _, ok, err := st.GetMarker(ctx, 9, "contagions"); err != nil || ok {
		t.Fatalf("marker survived delete: ok=%v err=%v", ok, err)
	}
}

func TestMarkers(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.GetMarker(ctx, 5, "vaccines"); err != nil || ok {
		t.Fatalf("unexpected marker: ok=%v err=%v", ok, err)
	}
	if err := st.SetMarker(ctx, 5, "vaccines", "2021-W09"); err != nil {
		t.Fatalf("SetMarker error: %v", err)
	}
	if err := st.SetMarker(ctx, 5, "vaccines", "2021-W10"); err != nil {
		t.Fatalf("SetMarker upsert error: %v", err)
	}
	period, ok, err := st.GetMarker(ctx, 5, "vaccines")
	if err != nil || !ok {
		t.Fatalf("GetMarker: ok=%v err=%v", ok, err)
	}
	if period != "2021-W10" {
		t.Fatalf("period = %q", period)
	}

	// Markers are per source.
	if _, ok, _ := st.GetMarker(ctx, 5, "contagions"); ok {
		t.Fatal("marker leaked across sources")
	}
}

func TestAppendAudit(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	err := st.AppendAudit(ctx, AuditEntry{
		ChatID: 1,
		Action: "deliver",
		Source: "contagions",
		Period: "2021-03-03",
		OK:     false,
		Error:  "telegram: 429",
		TookMS: 120,
	})
	if err != nil {
		t.Fatalf("AppendAudit error: %v", err)
	}
	// Empty optional fields are stored as NULLs.
	if err := st.AppendAudit(ctx, AuditEntry{ChatID: 1, Action: "subscribe", OK: true}); err != nil {
		t.Fatalf("AppendAudit error: %v", err)
	}
}

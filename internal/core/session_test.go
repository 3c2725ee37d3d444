package core

import (
	"context"
	"sync"
	"testing"

	"epibot/internal/dataset"
	"epibot/internal/delivery"
	"epibot/internal/storage"
	kit "epibot/internal/transport"
	logx "epibot/pkg/logx"
)

type memStore struct {
	mu     sync.Mutex
	subs   map[int64]storage.Subscription
	audits []storage.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{subs: map[int64]storage.Subscription{}}
}

func (s *memStore) GetSubscription(_ context.Context, chatID int64) (storage.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[chatID]
	if !ok {
		return storage.Subscription{}, storage.ErrNotFound
	}
	return sub, nil
}

func (s *memStore) ListSubscriptions(context.Context) ([]storage.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Subscription
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (s *memStore) ReplaceSubscription(_ context.Context, sub storage.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ChatID] = sub
	return nil
}

func (s *memStore) DeleteSubscription(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[chatID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.subs, chatID)
	return nil
}

func (s *memStore) GetMarker(context.Context, int64, string) (string, bool, error) {
	return "", false, nil
}
func (s *memStore) SetMarker(context.Context, int64, string, string) error { return nil }

func (s *memStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, e)
	return nil
}

func (s *memStore) Close() error { return nil }

type memAdapter struct {
	mu    sync.Mutex
	texts []string
}

func (a *memAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *memAdapter) Stop(context.Context) error                     { return nil }

func (a *memAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return kit.MessageRef{}, nil
}

func (a *memAdapter) SendDocument(context.Context, kit.ChatTarget, kit.Document) error {
	return nil
}

type areaSource struct {
	name  string
	areas []string
}

func (s *areaSource) Name() string                  { return s.name }
func (s *areaSource) Title() string                 { return s.name }
func (s *areaSource) Variables() []dataset.Variable { return nil }
func (s *areaSource) Refresh(context.Context) error { return nil }
func (s *areaSource) NationalTable(context.Context) (dataset.Table, error) {
	return dataset.Table{}, nil
}
func (s *areaSource) AreaTable(context.Context, string) (dataset.Table, error) {
	return dataset.Table{}, nil
}
func (s *areaSource) Areas(context.Context) ([]string, error) { return s.areas, nil }

func sendToSession(m *sessionManager, chatID int64, text string) {
	m.HandleText(context.Background(), &kit.Message{ChatID: chatID, Text: text})
}

func TestSettingsConversationCommits(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	src := &areaSource{name: "contagions", areas: []string{"Lazio", "Veneto"}}
	m := newSessionManager(store, []delivery.Source{src}, &memAdapter{}, logx.Nop())

	ctx := context.Background()
	m.Start(ctx, 1)
	if !m.Active(1) {
		t.Fatal("session not active after Start")
	}

	sendToSession(m, 1, "week")
	sendToSession(m, 1, "sheet")
	sendToSession(m, 1, "contagions")
	sendToSession(m, 1, "national")
	sendToSession(m, 1, "lazio") // case-insensitive, stored canonically
	sendToSession(m, 1, "back")
	sendToSession(m, 1, "done")

	if m.Active(1) {
		t.Fatal("session must end after done")
	}
	sub, err := store.GetSubscription(ctx, 1)
	if err != nil {
		t.Fatalf("subscription not saved: %v", err)
	}
	if sub.Cadence != "week" || sub.Format != "sheet" {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	sel := sub.Sources["contagions"]
	if !sel.National || len(sel.Areas) != 1 || sel.Areas[0] != "Lazio" {
		t.Fatalf("unexpected selection: %+v", sel)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.audits) != 1 || store.audits[0].Action != "subscribe" {
		t.Fatalf("audits = %+v", store.audits)
	}
}

func TestSettingsConversationCancelRollsBack(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	src := &areaSource{name: "contagions"}
	m := newSessionManager(store, []delivery.Source{src}, &memAdapter{}, logx.Nop())

	ctx := context.Background()
	m.Start(ctx, 2)
	sendToSession(m, 2, "day")
	sendToSession(m, 2, "cancel")

	if m.Active(2) {
		t.Fatal("session still active after cancel")
	}
	if _, err := store.GetSubscription(ctx, 2); err == nil {
		t.Fatal("cancelled draft must not be saved")
	}
}

func TestSettingsConversationRejectsEmptyCommit(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	src := &areaSource{name: "contagions"}
	m := newSessionManager(store, []delivery.Source{src}, &memAdapter{}, logx.Nop())

	ctx := context.Background()
	m.Start(ctx, 3)
	sendToSession(m, 3, "day")
	sendToSession(m, 3, "text")
	sendToSession(m, 3, "done")

	if !m.Active(3) {
		t.Fatal("empty commit must keep the session open")
	}
	if _, err := store.GetSubscription(ctx, 3); err == nil {
		t.Fatal("empty subscription must not be saved")
	}
}

func TestSettingsToggleArea(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	src := &areaSource{name: "contagions", areas: []string{"Lazio"}}
	m := newSessionManager(store, []delivery.Source{src}, &memAdapter{}, logx.Nop())

	ctx := context.Background()
	m.Start(ctx, 4)
	sendToSession(m, 4, "day")
	sendToSession(m, 4, "text")
	sendToSession(m, 4, "contagions")
	sendToSession(m, 4, "national")
	sendToSession(m, 4, "Lazio")
	sendToSession(m, 4, "Lazio") // second press removes it again
	sendToSession(m, 4, "back")
	sendToSession(m, 4, "done")

	sub, err := store.GetSubscription(ctx, 4)
	if err != nil {
		t.Fatalf("subscription not saved: %v", err)
	}
	sel := sub.Sources["contagions"]
	if !sel.National || len(sel.Areas) != 0 {
		t.Fatalf("unexpected selection: %+v", sel)
	}
}

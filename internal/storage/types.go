package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means the driver default
}

// SourceSelection records which slices of one data source a chat wants:
// the nationwide series and/or specific areas. Empty on both counts means
// "not subscribed to this source".
type SourceSelection struct {
	National bool
	Areas    []string
}

func (s SourceSelection) Empty() bool { return !s.National && len(s.Areas) == 0 }

// Subscription is one chat's report settings. Sources is keyed by data
// source name ("contagions", "vaccines").
type Subscription struct {
	ChatID    int64
	Cadence   string // "day" | "week" | "month"
	Format    string // "text" | "sheet"
	Sources   map[string]SourceSelection
	UpdatedAt time.Time
}

// AuditEntry records a delivery attempt or a subscription change.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time
	ChatID int64
	Action string // "deliver" | "subscribe" | "unsubscribe"
	Source string
	Period string
	OK     bool
	Error  string
	TookMS int64
}

// Store is the persistence API used by the core and the delivery scheduler.
//
// Concurrency: subscriptions have concurrent readers (command handlers and
// the scheduler) with writers only in command handlers; delivery markers
// have a single writer (the scheduler).
type Store interface {
	GetSubscription(ctx context.Context, chatID int64) (Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	// ReplaceSubscription atomically replaces the chat's whole subscription,
	// creating it if absent.
	ReplaceSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, chatID int64) error

	GetMarker(ctx context.Context, chatID int64, source string) (period string, ok bool, err error)
	SetMarker(ctx context.Context, chatID int64, source, period string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

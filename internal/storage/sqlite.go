// Package storage persists subscriptions, delivery markers, and the
// delivery audit trail in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "epibot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetSubscription(ctx context.Context, chatID int64) (Subscription, error) {
	var sub Subscription
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, cadence, format, updated_at FROM subscriptions WHERE chat_id = ?`,
		chatID,
	).Scan(&sub.ChatID, &sub.Cadence, &sub.Format, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	sub.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	sub.Sources, err = s.sources(ctx, chatID)
	if err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

func (s *sqliteStore) sources(ctx context.Context, chatID int64) (map[string]SourceSelection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, national, areas FROM subscription_sources WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]SourceSelection{}
	for rows.Next() {
		var source string
		var national int
		var areasJSON sql.NullString
		if err := rows.Scan(&source, &national, &areasJSON); err != nil {
			return nil, err
		}
		sel := SourceSelection{National: national != 0}
		if areasJSON.Valid && areasJSON.String != "" {
			if err := json.Unmarshal([]byte(areasJSON.String), &sel.Areas); err != nil {
				return nil, fmt.Errorf("decode areas for chat %d source %s: %w", chatID, source, err)
			}
		}
		out[source] = sel
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, cadence, format, updated_at FROM subscriptions ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var updatedAt string
		if err := rows.Scan(&sub.ChatID, &sub.Cadence, &sub.Format, &updatedAt); err != nil {
			return nil, err
		}
		sub.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range subs {
		subs[i].Sources, err = s.sources(ctx, subs[i].ChatID)
		if err != nil {
			return nil, err
		}
	}
	return subs, nil
}

func (s *sqliteStore) ReplaceSubscription(ctx context.Context, sub Subscription) error {
	if sub.ChatID == 0 {
		return errors.New("chat id is required")
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions(chat_id, cadence, format, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET cadence=excluded.cadence,
		     format=excluded.format, updated_at=excluded.updated_at`,
		sub.ChatID, sub.Cadence, sub.Format, sub.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscription_sources WHERE chat_id = ?`, sub.ChatID); err != nil {
		return err
	}
	for source, sel := range sub.Sources {
		if sel.Empty() {
			continue
		}
		var areasJSON any
		if len(sel.Areas) > 0 {
			b, err := json.Marshal(sel.Areas)
			if err != nil {
				return err
			}
			areasJSON = string(b)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscription_sources(chat_id, source, national, areas) VALUES(?,?,?,?)`,
			sub.ChatID, source, boolInt(sel.National), areasJSON); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscription_sources WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM delivery_markers WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE chat_id = ?`, chatID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *sqliteStore) GetMarker(ctx context.Context, chatID int64, source string) (string, bool, error) {
	var period string
	err := s.db.QueryRowContext(ctx,
		`SELECT period FROM delivery_markers WHERE chat_id = ? AND source = ?`,
		chatID, source,
	).Scan(&period)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return period, true, nil
}

func (s *sqliteStore) SetMarker(ctx context.Context, chatID int64, source, period string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_markers(chat_id, source, period, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id, source) DO UPDATE SET period=excluded.period,
		     updated_at=excluded.updated_at`,
		chatID, source, period, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, chat_id, action, source, period, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ChatID, e.Action,
		nullStr(e.Source), nullStr(e.Period), boolInt(e.OK), nullStr(e.Error), e.TookMS,
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

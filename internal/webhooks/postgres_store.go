package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresStore persists webhooks in the gang_webhooks table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed webhook store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const webhookColumns = `id, gang_id, url, secret, events, active, created_by, created_at, last_success, last_error`

func (p *PostgresStore) Create(ctx context.Context, w *Webhook) error {
	events, err := json.Marshal(w.Events)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO gang_webhooks (id, gang_id, url, secret, events, active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.GangID, w.URL, w.Secret, events, w.Active, w.CreatedBy, w.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Webhook, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM gang_webhooks WHERE id = $1`, id)
	w, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWebhookNotFound
	}
	return w, err
}

func (p *PostgresStore) ListByGang(ctx context.Context, gangID string) ([]*Webhook, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM gang_webhooks WHERE gang_id = $1 ORDER BY created_at`, gangID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RecordDelivery(ctx context.Context, id string, at time.Time, errMsg string) error {
	var res sql.Result
	var err error
	if errMsg == "" {
		res, err = p.db.ExecContext(ctx,
			`UPDATE gang_webhooks SET last_success = $2, last_error = NULL WHERE id = $1`, id, at)
	} else {
		res, err = p.db.ExecContext(ctx,
			`UPDATE gang_webhooks SET last_error = $2 WHERE id = $1`, id, errMsg)
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *PostgresStore) Delete(ctx context.Context, gangID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM gang_webhooks WHERE id = $1 AND gang_id = $2`, id, gangID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWebhook(s scanner) (*Webhook, error) {
	w := &Webhook{}
	var (
		events      []byte
		createdBy   sql.NullString
		lastSuccess sql.NullTime
		lastError   sql.NullString
	)
	if err := s.Scan(&w.ID, &w.GangID, &w.URL, &w.Secret, &events, &w.Active,
		&createdBy, &w.CreatedAt, &lastSuccess, &lastError); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(events, &w.Events); err != nil {
		return nil, err
	}
	w.CreatedBy = createdBy.String
	if lastSuccess.Valid {
		t := lastSuccess.Time
		w.LastSuccess = &t
	}
	w.LastError = lastError.String
	return w, nil
}

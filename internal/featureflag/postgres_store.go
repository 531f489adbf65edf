package featureflag

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists flags in the feature_flags table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed flag store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Flag, error) {
	f := &Flag{}
	var updatedBy sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT key, enabled, updated_by, updated_at FROM feature_flags WHERE key = $1`, key,
	).Scan(&f.Key, &f.Enabled, &updatedBy, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFlagNotFound
	}
	if err != nil {
		return nil, err
	}
	f.UpdatedBy = updatedBy.String
	return f, nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Flag, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT key, enabled, updated_by, updated_at FROM feature_flags ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Flag
	for rows.Next() {
		f := &Flag{}
		var updatedBy sql.NullString
		if err := rows.Scan(&f.Key, &f.Enabled, &updatedBy, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.UpdatedBy = updatedBy.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Set(ctx context.Context, f *Flag) error {
	if !ValidKey(f.Key) {
		return ErrInvalidKey
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO feature_flags (key, enabled, updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET enabled = EXCLUDED.enabled, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		f.Key, f.Enabled, sql.NullString{String: f.UpdatedBy, Valid: f.UpdatedBy != ""}, f.UpdatedAt,
	)
	return err
}

var _ Store = (*PostgresStore)(nil)

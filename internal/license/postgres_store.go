package license

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/gangboard/internal/tenant"
)

// PostgresStore persists licenses in the licenses table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed license store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const licenseColumns = `key, tier, duration_days, max_members, is_active, expires_at, created_by,
	created_at, redeemed_by, redeemed_at`

func (p *PostgresStore) Create(ctx context.Context, l *License) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.Key, string(l.Tier), l.DurationDays, l.MaxMembers, l.IsActive, nullTime(l.ExpiresAt),
		nullString(l.CreatedBy), l.CreatedAt, nullString(l.RedeemedBy), nullTime(l.RedeemedAt),
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*License, error) {
	return scanLicense(p.db.QueryRowContext(ctx, `
		SELECT `+licenseColumns+` FROM licenses WHERE key = $1`, key))
}

// Claim relies on the conditional UPDATE for exactly-once redemption: the
// row lock serialises concurrent claims and only the first sees is_active.
func (p *PostgresStore) Claim(ctx context.Context, key, gangID string, now time.Time) (*License, error) {
	l, err := scanLicense(p.db.QueryRowContext(ctx, `
		UPDATE licenses SET is_active = FALSE, redeemed_by = $2, redeemed_at = $3
		WHERE key = $1 AND is_active = TRUE AND redeemed_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $3)
		RETURNING `+licenseColumns, key, gangID, now))
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, ErrLicenseNotFound) {
		return nil, err
	}

	// Nothing updated: work out why.
	existing, err := p.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing.ExpiresAt != nil && !now.Before(*existing.ExpiresAt) && existing.IsActive {
		return nil, ErrLicenseExpired
	}
	return nil, ErrAlreadyRedeemed
}

func (p *PostgresStore) Release(ctx context.Context, key string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE licenses SET is_active = TRUE, redeemed_by = NULL, redeemed_at = NULL
		WHERE key = $1`, key)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLicenseNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int, opts ...ListOption) ([]*License, error) {
	o := applyListOpts(opts)

	var cursorAt sql.NullTime
	var cursorKey string
	if o.cursor != nil {
		cursorAt = sql.NullTime{Time: o.cursor.CreatedAt, Valid: true}
		cursorKey = o.cursor.ID
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+licenseColumns+` FROM licenses
		WHERE ($1::timestamptz IS NULL OR (created_at, key) < ($1, $2))
		  AND (NOT $3 OR (is_active AND redeemed_at IS NULL))
		ORDER BY created_at DESC, key DESC
		LIMIT $4`, cursorAt, cursorKey, o.unredeemed, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLicense(row scanner) (*License, error) {
	l := &License{}
	var tier string
	var expiresAt, redeemedAt sql.NullTime
	var createdBy, redeemedBy sql.NullString
	err := row.Scan(&l.Key, &tier, &l.DurationDays, &l.MaxMembers, &l.IsActive, &expiresAt,
		&createdBy, &l.CreatedAt, &redeemedBy, &redeemedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Tier = tenant.Tier(tier)
	l.CreatedBy = createdBy.String
	l.RedeemedBy = redeemedBy.String
	if expiresAt.Valid {
		l.ExpiresAt = &expiresAt.Time
	}
	if redeemedAt.Valid {
		l.RedeemedAt = &redeemedAt.Time
	}
	return l, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)

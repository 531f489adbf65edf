package tenant

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, name, slug, subscription_tier, subscription_expires_at, is_active,
	stripe_customer_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO gangs (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Name, t.Slug, string(t.Tier), nullTime(t.SubscriptionExpiresAt), t.IsActive,
		nullString(t.StripeCustomerID), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM gangs WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM gangs WHERE slug = $1`, slug))
}

func (p *PostgresStore) GetByStripeCustomer(ctx context.Context, customerID string) (*Tenant, error) {
	if customerID == "" {
		return nil, ErrTenantNotFound
	}
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM gangs WHERE stripe_customer_id = $1`, customerID))
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE gangs SET name = $1, slug = $2, subscription_tier = $3, subscription_expires_at = $4,
			is_active = $5, stripe_customer_id = $6, updated_at = $7
		WHERE id = $8`,
		t.Name, t.Slug, string(t.Tier), nullTime(t.SubscriptionExpiresAt),
		t.IsActive, nullString(t.StripeCustomerID), t.UpdatedAt, t.ID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return err
	}
	return expectRow(result)
}

func (p *PostgresStore) SetSubscription(ctx context.Context, id string, tier Tier, expiresAt *time.Time, now time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE gangs SET subscription_tier = $1, subscription_expires_at = $2, updated_at = $3
		WHERE id = $4`,
		string(tier), nullTime(expiresAt), now, id,
	)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// DowngradeExpired runs the sweep predicate as one statement so each row is
// downgraded atomically even while redemptions write the same rows. The
// locked subquery captures the tier each row held before the update.
func (p *PostgresStore) DowngradeExpired(ctx context.Context, cutoff, now time.Time) ([]Downgrade, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE gangs g SET subscription_tier = 'FREE', updated_at = $2
		FROM (
			SELECT id, subscription_tier FROM gangs
			WHERE is_active = TRUE
			  AND subscription_tier <> 'FREE'
			  AND subscription_expires_at IS NOT NULL
			  AND subscription_expires_at < $1
			FOR UPDATE
		) old
		WHERE g.id = old.id AND g.subscription_tier <> 'FREE'
		RETURNING g.id, old.subscription_tier`, cutoff, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Downgrade
	for rows.Next() {
		var (
			d    Downgrade
			tier string
		)
		if err := rows.Scan(&d.ID, &tier); err != nil {
			return nil, err
		}
		d.From = Tier(tier)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *PostgresStore) scanTenant(row *sql.Row) (*Tenant, error) {
	t := &Tenant{}
	var (
		tier      string
		expiresAt sql.NullTime
		stripeID  sql.NullString
	)
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &tier, &expiresAt, &t.IsActive, &stripeID,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Tier = Tier(tier)
	if expiresAt.Valid {
		v := expiresAt.Time
		t.SubscriptionExpiresAt = &v
	}
	if stripeID.Valid {
		t.StripeCustomerID = stripeID.String
	}
	return t, nil
}

func expectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
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

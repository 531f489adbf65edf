package member

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists members in PostgreSQL. The partial unique index
// members_active_identity enforces one active row per (gang, discord id).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed member store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const memberColumns = `id, gang_id, discord_id, name, gang_role, status, is_active, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, m *Member) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO members (`+memberColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.GangID, m.DiscordID, m.Name, string(m.Role), string(m.Status), m.IsActive,
		m.CreatedAt, m.UpdatedAt,
	)
	return mapUniqueViolation(err)
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Member, error) {
	return scanMember(p.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
}

func (p *PostgresStore) GetActive(ctx context.Context, gangID, discordID string) (*Member, error) {
	return scanMember(p.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM members
		WHERE gang_id = $1 AND discord_id = $2 AND is_active = TRUE`, gangID, discordID))
}

func (p *PostgresStore) Update(ctx context.Context, m *Member) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE members SET name = $1, gang_role = $2, status = $3, is_active = $4, updated_at = $5
		WHERE id = $6`,
		m.Name, string(m.Role), string(m.Status), m.IsActive, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (p *PostgresStore) CountActive(ctx context.Context, gangID string, role Role) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM members
		WHERE gang_id = $1 AND gang_role = $2 AND is_active = TRUE AND status = 'APPROVED'`,
		gangID, string(role)).Scan(&count)
	return count, err
}

func scanMember(row *sql.Row) (*Member, error) {
	m := &Member{}
	var role, status string
	err := row.Scan(&m.ID, &m.GangID, &m.DiscordID, &m.Name, &role, &status, &m.IsActive,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Role = Role(role)
	m.Status = Status(status)
	return m, nil
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAlreadyMember
	}
	return err
}

var _ Store = (*PostgresStore)(nil)

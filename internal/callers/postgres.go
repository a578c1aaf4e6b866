package callers

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: Postgres assumes the following tables exist:
// - claimants (id, full_name, phone)
// - claims (id, claimant_id, status)
// - claim_requirements (id, claim_id, status)
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Lightweight(ctx context.Context, phone string) (Identity, bool, error) {
	const q = `SELECT id, full_name, phone FROM claimants WHERE phone = $1 LIMIT 1`
	var id Identity
	err := p.db.QueryRowContext(ctx, q, NormalizePhone(phone)).Scan(&id.CallerID, &id.Name, &id.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}
	return id, true, nil
}

func (p *Postgres) Enhanced(ctx context.Context, phone string) (Identity, bool, error) {
	const q = `
SELECT c.id, c.full_name, c.phone,
  (SELECT COUNT(*) FROM claims cl WHERE cl.claimant_id = c.id AND cl.status = 'active'),
  (SELECT COUNT(*) FROM claim_requirements r
     JOIN claims cl ON cl.id = r.claim_id
    WHERE cl.claimant_id = c.id AND r.status = 'open')
FROM claimants c
WHERE c.phone = $1
LIMIT 1
`
	var id Identity
	err := p.db.QueryRowContext(ctx, q, NormalizePhone(phone)).Scan(
		&id.CallerID,
		&id.Name,
		&id.Phone,
		&id.ActiveClaims,
		&id.OpenRequirements,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}
	id.Enhanced = true
	return id, true, nil
}

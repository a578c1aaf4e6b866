package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: PostgresRepo assumes the following tables exist:
// - inbound_calls (unique index on provider_call_id for non-empty values)
// - call_outcomes (UNIQUE (call_id))
// - caller_scores (PRIMARY KEY (phone))
// - callbacks
//
// State changes are conditional updates (WHERE state = ANY(...)) so racing
// writers never move a call through an illegal transition.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const callColumns = `id, provider_call_id, caller_phone, dialed_phone, caller_id, caller_name,
state, missed_reason, agent_id, urgency, arrived_at, queued_at, answered_at, terminal_at,
outcome, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (InboundCall, error) {
	var (
		c                                     InboundCall
		callerID, callerName, missed, agentID sql.NullString
		outcome                               sql.NullString
		queuedAt, answeredAt, terminalAt      sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.ProviderCallID,
		&c.CallerPhone,
		&c.DialedPhone,
		&callerID,
		&callerName,
		&c.State,
		&missed,
		&agentID,
		&c.Urgency,
		&c.ArrivedAt,
		&queuedAt,
		&answeredAt,
		&terminalAt,
		&outcome,
		&c.UpdatedAt,
	); err != nil {
		return InboundCall{}, err
	}
	c.CallerID = callerID.String
	c.CallerName = callerName.String
	c.MissedReason = MissedReason(missed.String)
	c.AgentID = agentID.String
	c.Outcome = OutcomeType(outcome.String)
	c.QueuedAt = nullTime(queuedAt)
	c.AnsweredAt = nullTime(answeredAt)
	c.TerminalAt = nullTime(terminalAt)
	return c, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepo) Create(ctx context.Context, c InboundCall) error {
	if c.State == "" {
		c.State = StateArriving
	}
	const q = `
INSERT INTO inbound_calls (
  id, provider_call_id, caller_phone, dialed_phone, caller_id, caller_name,
  state, urgency, arrived_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$9
)
`
	_, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.ProviderCallID,
		c.CallerPhone,
		c.DialedPhone,
		nullString(c.CallerID),
		nullString(c.CallerName),
		c.State,
		c.Urgency,
		c.ArrivedAt.UTC(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (InboundCall, error) {
	q := `SELECT ` + callColumns + ` FROM inbound_calls WHERE id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InboundCall{}, ErrNotFound
		}
		return InboundCall{}, err
	}
	return c, nil
}

func (r *PostgresRepo) GetByProviderID(ctx context.Context, providerCallID string) (InboundCall, error) {
	q := `SELECT ` + callColumns + ` FROM inbound_calls WHERE provider_call_id = $1 ORDER BY arrived_at DESC LIMIT 1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InboundCall{}, ErrNotFound
		}
		return InboundCall{}, err
	}
	return c, nil
}

func (r *PostgresRepo) Transition(ctx context.Context, id string, to State, u Update) (InboundCall, error) {
	sources := SourcesFor(to)
	if len(sources) == 0 {
		return InboundCall{}, ErrInvalidTransition
	}
	from := make([]string, 0, len(sources))
	for _, s := range sources {
		from = append(from, string(s))
	}
	var urgency sql.NullInt64
	if u.Urgency != nil {
		urgency = sql.NullInt64{Int64: int64(*u.Urgency), Valid: true}
	}

	q := `
UPDATE inbound_calls SET
  state = $2::text,
  updated_at = $3,
  queued_at = CASE WHEN $2::text = 'queued' THEN COALESCE(queued_at, $3) ELSE queued_at END,
  agent_id = CASE WHEN $2::text = 'connecting' THEN $4 ELSE agent_id END,
  answered_at = CASE WHEN $2::text = 'connecting' THEN $3 ELSE answered_at END,
  missed_reason = CASE WHEN $2::text = 'missed' THEN $5 ELSE missed_reason END,
  urgency = COALESCE($6, urgency)
WHERE id = $1 AND state = ANY($7::text[])
RETURNING ` + callColumns

	c, err := scanCall(r.db.QueryRowContext(ctx, q,
		id,
		string(to),
		u.At.UTC(),
		nullString(u.AgentID),
		nullString(string(u.MissedReason)),
		urgency,
		from,
	))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return InboundCall{}, err
	}

	// No row updated: either the call is unknown or its state forbids the move.
	cur, gerr := r.Get(ctx, id)
	if gerr != nil {
		return InboundCall{}, gerr
	}
	return InboundCall{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.State, to)
}

func (r *PostgresRepo) SetCaller(ctx context.Context, id, callerID, callerName string) error {
	const q = `UPDATE inbound_calls SET caller_id = $2, caller_name = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, nullString(callerID), nullString(callerName))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) RecentHistory(ctx context.Context, phone string, since time.Time) (History, error) {
	const q = `
SELECT COUNT(*), COUNT(*) FILTER (WHERE state = 'missed')
FROM inbound_calls
WHERE caller_phone = $1 AND arrived_at >= $2
`
	var h History
	if err := r.db.QueryRowContext(ctx, q, phone, since.UTC()).Scan(&h.Total, &h.Missed); err != nil {
		return History{}, err
	}
	return h, nil
}

func (r *PostgresRepo) List(ctx context.Context, from, to time.Time) ([]InboundCall, error) {
	q := `SELECT ` + callColumns + ` FROM inbound_calls WHERE arrived_at >= $1 AND arrived_at < $2 ORDER BY arrived_at ASC`
	rows, err := r.db.QueryContext(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]InboundCall, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

package outcomes

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"claims-dialer/internal/calls"
	"claims-dialer/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo runs outcome transactions in SERIALIZABLE isolation.
// Serialization failures and deadlocks are retried by utils.WithTxRetry.
type PostgresRepo struct {
	db       *sql.DB
	attempts int
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, attempts: 3}
}

func (r *PostgresRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	return utils.WithTxRetry(ctx, r.db, opts, r.attempts, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, pgTx{tx})
	})
}

type pgTx struct {
	tx *sql.Tx
}

func (p pgTx) GetCall(ctx context.Context, callID string) (calls.InboundCall, error) {
	const q = `
SELECT id, caller_phone, caller_id, state, agent_id, terminal_at
FROM inbound_calls
WHERE id = $1
FOR UPDATE
`
	var (
		c                 calls.InboundCall
		callerID, agentID sql.NullString
		terminalAt        sql.NullTime
	)
	if err := p.tx.QueryRowContext(ctx, q, callID).Scan(&c.ID, &c.CallerPhone, &callerID, &c.State, &agentID, &terminalAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.InboundCall{}, calls.ErrNotFound
		}
		return calls.InboundCall{}, err
	}
	c.CallerID = callerID.String
	c.AgentID = agentID.String
	if terminalAt.Valid {
		t := terminalAt.Time.UTC()
		c.TerminalAt = &t
	}
	return c, nil
}

func (p pgTx) HasOutcome(ctx context.Context, callID string) (bool, error) {
	var exists bool
	err := p.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM call_outcomes WHERE call_id = $1)`, callID).Scan(&exists)
	return exists, err
}

func (p pgTx) InsertOutcome(ctx context.Context, o calls.CallOutcome) error {
	const q = `
INSERT INTO call_outcomes (
  id, call_id, type, notes, agent_id, score_delta, next_eligible_delay_seconds, callback_at, recorded_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	var callbackAt sql.NullTime
	if o.CallbackAt != nil {
		callbackAt = sql.NullTime{Time: o.CallbackAt.UTC(), Valid: true}
	}
	_, err := p.tx.ExecContext(ctx, q,
		o.ID,
		o.CallID,
		o.Type,
		o.Notes,
		sql.NullString{String: o.AgentID, Valid: o.AgentID != ""},
		o.ScoreDelta,
		int64(o.NextEligibleDelay.Seconds()),
		callbackAt,
		o.RecordedAt.UTC(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyTerminal
	}
	return err
}

func (p pgTx) GetScore(ctx context.Context, phone string) (calls.CallerScore, bool, error) {
	const q = `
SELECT phone, score, last_outcome, next_eligible_at, total_attempts, successful_contacts, updated_at
FROM caller_scores
WHERE phone = $1
FOR UPDATE
`
	var s calls.CallerScore
	err := p.tx.QueryRowContext(ctx, q, phone).Scan(
		&s.Phone,
		&s.Score,
		&s.LastOutcome,
		&s.NextEligibleAt,
		&s.TotalAttempts,
		&s.SuccessfulContacts,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.CallerScore{Phone: phone}, false, nil
		}
		return calls.CallerScore{}, false, err
	}
	return s, true, nil
}

func (p pgTx) UpsertScore(ctx context.Context, s calls.CallerScore) error {
	const q = `
INSERT INTO caller_scores (
  phone, score, last_outcome, next_eligible_at, total_attempts, successful_contacts, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (phone) DO UPDATE SET
  score = EXCLUDED.score,
  last_outcome = EXCLUDED.last_outcome,
  next_eligible_at = EXCLUDED.next_eligible_at,
  total_attempts = EXCLUDED.total_attempts,
  successful_contacts = EXCLUDED.successful_contacts,
  updated_at = EXCLUDED.updated_at
`
	_, err := p.tx.ExecContext(ctx, q,
		s.Phone,
		s.Score,
		s.LastOutcome,
		s.NextEligibleAt.UTC(),
		s.TotalAttempts,
		s.SuccessfulContacts,
		s.UpdatedAt.UTC(),
	)
	return err
}

func (p pgTx) InsertCallback(ctx context.Context, cb calls.Callback) error {
	const q = `
INSERT INTO callbacks (id, call_id, phone, caller_id, reason, scheduled_at, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := p.tx.ExecContext(ctx, q,
		cb.ID,
		cb.CallID,
		cb.Phone,
		sql.NullString{String: cb.CallerID, Valid: cb.CallerID != ""},
		cb.Reason,
		cb.ScheduledAt.UTC(),
		cb.Status,
		cb.CreatedAt.UTC(),
	)
	return err
}

func (p pgTx) MarkTerminal(ctx context.Context, callID string, outcome calls.OutcomeType, at time.Time) error {
	const q = `
UPDATE inbound_calls SET
  outcome = $2,
  terminal_at = $3,
  updated_at = $3,
  state = CASE WHEN state = 'missed' THEN state ELSE 'completed' END
WHERE id = $1 AND terminal_at IS NULL
`
	res, err := p.tx.ExecContext(ctx, q, callID, outcome, at.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

package agents

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: PostgresStore assumes the following tables exist:
// - agents (id PK, name, device_identity, active)
// - agent_sessions (agent_id PK REFERENCES agents, ...)
//
// status and current_call_id are only ever written together.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `agent_id, status, device_connected, last_heartbeat, last_activity,
current_call_id, call_started_at, calls_completed_today, talk_time_today_seconds, started_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s             Session
		heartbeat     sql.NullTime
		callID        sql.NullString
		callStartedAt sql.NullTime
		talkSeconds   int64
	)
	if err := row.Scan(
		&s.AgentID,
		&s.Status,
		&s.DeviceConnected,
		&heartbeat,
		&s.LastActivity,
		&callID,
		&callStartedAt,
		&s.CallsCompletedToday,
		&talkSeconds,
		&s.StartedAt,
	); err != nil {
		return Session{}, err
	}
	if heartbeat.Valid {
		t := heartbeat.Time.UTC()
		s.LastHeartbeat = &t
	}
	if callStartedAt.Valid {
		t := callStartedAt.Time.UTC()
		s.CallStartedAt = &t
	}
	s.CurrentCallID = callID.String
	s.TalkTimeToday = time.Duration(talkSeconds) * time.Second
	s.LastActivity = s.LastActivity.UTC()
	s.StartedAt = s.StartedAt.UTC()
	return s, nil
}

func (p *PostgresStore) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	const q = `SELECT id, name, device_identity, active FROM agents WHERE id = $1`
	var a Agent
	if err := p.db.QueryRowContext(ctx, q, agentID).Scan(&a.ID, &a.Name, &a.DeviceIdentity, &a.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	return a, nil
}

func (p *PostgresStore) Open(ctx context.Context, agentID string, at time.Time) (Session, error) {
	a, err := p.GetAgent(ctx, agentID)
	if err != nil {
		return Session{}, err
	}
	if !a.Active {
		return Session{}, ErrAgentDisabled
	}

	// A session with a live call is left untouched; otherwise login resets it.
	q := `
INSERT INTO agent_sessions (agent_id, status, device_connected, last_heartbeat, last_activity,
  current_call_id, call_started_at, calls_completed_today, talk_time_today_seconds, started_at)
VALUES ($1, 'available', FALSE, $2, $2, NULL, NULL, 0, 0, $2)
ON CONFLICT (agent_id) DO UPDATE SET
  status = 'available',
  device_connected = FALSE,
  last_heartbeat = EXCLUDED.last_heartbeat,
  last_activity = EXCLUDED.last_activity,
  calls_completed_today = 0,
  talk_time_today_seconds = 0,
  started_at = EXCLUDED.started_at
WHERE agent_sessions.current_call_id IS NULL
`
	if _, err := p.db.ExecContext(ctx, q, agentID, at.UTC()); err != nil {
		return Session{}, err
	}
	return p.Get(ctx, agentID)
}

func (p *PostgresStore) Close(ctx context.Context, agentID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM agent_sessions WHERE agent_id = $1`, agentID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrNotFound)
}

func (p *PostgresStore) Get(ctx context.Context, agentID string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM agent_sessions WHERE agent_id = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, agentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func (p *PostgresStore) ListAvailable(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := `SELECT ` + sessionColumns + ` FROM agent_sessions
WHERE status = 'available'
ORDER BY last_activity ASC, agent_id ASC
LIMIT $1`
	return p.list(ctx, q, limit)
}

func (p *PostgresStore) ListStale(ctx context.Context, cutoff time.Time) ([]Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM agent_sessions
WHERE COALESCE(last_heartbeat, started_at) < $1
ORDER BY agent_id ASC`
	return p.list(ctx, q, cutoff.UTC())
}

func (p *PostgresStore) list(ctx context.Context, q string, args ...any) ([]Session, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Heartbeat(ctx context.Context, agentID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE agent_sessions SET last_heartbeat = $2 WHERE agent_id = $1`, agentID, at.UTC())
	if err != nil {
		return err
	}
	return expectOne(res, ErrNotFound)
}

func (p *PostgresStore) SetStatus(ctx context.Context, agentID string, status Status, at time.Time) error {
	if !status.Valid() || status == StatusOnCall {
		return ErrInvalidStatus
	}
	const q = `
UPDATE agent_sessions SET status = $2, last_activity = $3
WHERE agent_id = $1 AND current_call_id IS NULL
`
	res, err := p.db.ExecContext(ctx, q, agentID, status, at.UTC())
	if err != nil {
		return err
	}
	if err := expectOne(res, ErrInvalidStatus); err != nil {
		if _, gerr := p.Get(ctx, agentID); gerr != nil {
			return gerr
		}
		return err
	}
	return nil
}

func (p *PostgresStore) SetDeviceConnected(ctx context.Context, agentID string, connected bool, at time.Time) error {
	const q = `
UPDATE agent_sessions SET
  device_connected = $2,
  last_heartbeat = CASE WHEN $2 THEN $3 ELSE last_heartbeat END
WHERE agent_id = $1
`
	res, err := p.db.ExecContext(ctx, q, agentID, connected, at.UTC())
	if err != nil {
		return err
	}
	return expectOne(res, ErrNotFound)
}

func (p *PostgresStore) AssignCall(ctx context.Context, agentID, callID string, at time.Time) error {
	const q = `
UPDATE agent_sessions SET
  status = 'on_call',
  current_call_id = $2,
  call_started_at = $3,
  last_activity = $3
WHERE agent_id = $1 AND status = 'available' AND current_call_id IS NULL
`
	res, err := p.db.ExecContext(ctx, q, agentID, callID, at.UTC())
	if err != nil {
		return err
	}
	return expectOne(res, ErrAgentUnavailable)
}

func (p *PostgresStore) ReleaseCall(ctx context.Context, agentID, callID string, r Release) (Session, error) {
	q := `
UPDATE agent_sessions SET
  status = 'available',
  current_call_id = NULL,
  calls_completed_today = calls_completed_today + CASE WHEN $4 THEN 1 ELSE 0 END,
  talk_time_today_seconds = talk_time_today_seconds + CASE
    WHEN $4 AND call_started_at IS NOT NULL AND $3 > call_started_at
    THEN FLOOR(EXTRACT(EPOCH FROM ($3 - call_started_at)))::bigint
    ELSE 0 END,
  call_started_at = NULL,
  last_activity = $3
WHERE agent_id = $1 AND current_call_id = $2
RETURNING ` + sessionColumns

	s, err := scanSession(p.db.QueryRowContext(ctx, q, agentID, callID, r.At.UTC(), r.Talked))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}
	if _, gerr := p.Get(ctx, agentID); gerr != nil {
		return Session{}, gerr
	}
	return Session{}, ErrCallMismatch
}

func expectOne(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

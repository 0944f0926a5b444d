package emitter

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS verification_audit (
	event_id       TEXT PRIMARY KEY,
	event_type     TEXT NOT NULL,
	request_id     TEXT NOT NULL,
	session_id     TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	policy_flags   TEXT[] NOT NULL DEFAULT '{}',
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
)`

const insertAudit = `INSERT INTO verification_audit
	(event_id, event_type, request_id, session_id, outcome, failure_reason, policy_flags, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (event_id) DO NOTHING`

// PostgresSink persists every verdict event to the verification_audit table.
type PostgresSink struct {
	db *sql.DB
}

// OpenPostgresSink connects with the lib/pq driver and verifies the
// connection.
func OpenPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	return NewPostgresSink(db), nil
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Name() string { return "postgres" }

// EnsureSchema creates the audit table when missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("create verification_audit: %w", err)
	}
	return nil
}

func (s *PostgresSink) Deliver(ctx context.Context, ev *Event) error {
	payload, err := ev.JSON()
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertAudit,
		ev.ID,
		string(ev.Type),
		ev.RequestID(),
		ev.Subject,
		ev.Outcome(),
		ev.FailureReason(),
		pq.Array(ev.PolicyFlags()),
		payload,
		ev.Time,
	)
	if err != nil {
		return fmt.Errorf("insert audit event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

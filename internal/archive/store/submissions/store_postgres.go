package submissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"formgate/internal/archive"
	"formgate/internal/archive/store"
	"formgate/internal/wire"
	domain "formgate/pkg/domain"
	"formgate/pkg/platform/sentinel"
)

// Schema is the DDL for the submissions table. IF NOT EXISTS keeps it
// re-runnable; EnsureSchema applies it at startup and integration tests
// apply it per suite.
const Schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id UUID PRIMARY KEY,
	session_id UUID NOT NULL,
	form_variant TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL,
	outcome TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	auto_submitted BOOLEAN NOT NULL DEFAULT FALSE,
	ticket_state TEXT NOT NULL DEFAULT 'none',
	ticket_event_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS submissions_created_at_idx ON submissions (created_at DESC);
CREATE INDEX IF NOT EXISTS submissions_email_idx ON submissions (email);
`

// EnsureSchema creates the submissions table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure submissions schema: %w", err)
	}
	return nil
}

// PostgresStore persists submission records in PostgreSQL.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresClock sets the clock used to stamp updates, for tests.
func WithPostgresClock(clock func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed submission store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:    db,
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

const submissionColumns = `id, session_id, form_variant, email, payload, outcome, reason, auto_submitted, ticket_state, ticket_event_id, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, record *archive.Record) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	query := `
		INSERT INTO submissions (` + submissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		record.ID.String(),
		record.SessionID.String(),
		record.FormVariant.String(),
		record.Email,
		payload,
		string(record.Outcome),
		record.Reason,
		record.AutoSubmitted,
		string(record.TicketState),
		record.TicketEventID,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.SubmissionID) (*archive.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id.String())
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find submission: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) List(ctx context.Context, filter store.ListFilter) ([]*archive.Record, int, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if !filter.FormVariant.IsNil() {
		args = append(args, filter.FormVariant.String())
		where = append(where, fmt.Sprintf("form_variant = $%d", len(args)))
	}
	if len(filter.Outcomes) > 0 {
		outcomes := make([]string, 0, len(filter.Outcomes))
		for _, outcome := range filter.Outcomes {
			outcomes = append(outcomes, string(outcome))
		}
		args = append(args, pq.Array(outcomes))
		where = append(where, fmt.Sprintf("outcome = ANY($%d)", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(
		`SELECT %s FROM submissions%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		submissionColumns, clause, len(args)-1, len(args),
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	records := make([]*archive.Record, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list submissions: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	return records, total, nil
}

// UpdateTicketState applies the transition only when it supersedes the
// current state; the CASE ranks mirror TicketState.Supersedes so replayed
// and out-of-order webhook deliveries fall through to zero rows.
func (s *PostgresStore) UpdateTicketState(ctx context.Context, id domain.SubmissionID, state archive.TicketState, eventID string) (bool, error) {
	query := `
		UPDATE submissions
		SET ticket_state = $2, ticket_event_id = $3, updated_at = $4
		WHERE id = $1
		  AND CASE ticket_state WHEN 'ticketed' THEN 1 WHEN 'paid' THEN 2 ELSE 0 END
		    < CASE $2 WHEN 'ticketed' THEN 1 WHEN 'paid' THEN 2 ELSE 0 END
	`
	res, err := s.db.ExecContext(ctx, query, id.String(), string(state), eventID, s.clock())
	if err != nil {
		return false, fmt.Errorf("update ticket state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update ticket state: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM submissions WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("update ticket state: %w", err)
	}
	if !exists {
		return false, sentinel.ErrNotFound
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*archive.Record, error) {
	var (
		idStr         string
		sessionIDStr  string
		variantStr    string
		email         string
		payloadBytes  []byte
		outcome       string
		reason        string
		autoSubmitted bool
		ticketState   string
		ticketEventID string
		createdAt     time.Time
		updatedAt     time.Time
	)
	if err := row.Scan(
		&idStr, &sessionIDStr, &variantStr, &email, &payloadBytes, &outcome,
		&reason, &autoSubmitted, &ticketState, &ticketEventID, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	id, err := domain.ParseSubmissionID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse submission id: %w", err)
	}
	sessionID, err := domain.ParseSessionID(sessionIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	var payload wire.Payload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	return &archive.Record{
		ID:            id,
		SessionID:     sessionID,
		FormVariant:   domain.FormVariant(variantStr),
		Email:         email,
		Payload:       payload,
		Outcome:       archive.Outcome(outcome),
		Reason:        reason,
		AutoSubmitted: autoSubmitted,
		TicketState:   archive.TicketState(ticketState),
		TicketEventID: ticketEventID,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

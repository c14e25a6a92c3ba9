package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/registra-sms/registra/internal/platform/db"
	"github.com/registra-sms/registra/internal/shared"
	"github.com/registra-sms/registra/internal/student"
)

// PGRepository provides PostgreSQL backed persistence for the undo ledger.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Push inserts a new active entry and supersedes the previous top.
func (r *PGRepository) Push(ctx context.Context, input RecordInput) (*Entry, error) {
	entry := &Entry{
		ID:         uuid.New(),
		SessionID:  input.SessionID,
		StudentID:  input.StudentID,
		Section:    input.Section,
		Before:     input.Before,
		After:      input.After,
		Actor:      input.Actor,
		State:      StateActive,
		RecordedAt: time.Now().UTC(),
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE audit_entries SET state = $1 WHERE session_id = $2 AND state = $3`,
			StateSuperseded, input.SessionID, StateActive); err != nil {
			return fmt.Errorf("supersede top: %w", err)
		}
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_entries WHERE session_id = $1`,
			input.SessionID).Scan(&entry.Seq); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO audit_entries (id, session_id, student_id, section, before_snapshot, after_snapshot, actor, seq, state, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			entry.ID, entry.SessionID, entry.StudentID, string(entry.Section),
			entry.Before, entry.After, entry.Actor, entry.Seq, entry.State, entry.RecordedAt); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PopActive reverts the session's top entry and promotes the one below.
func (r *PGRepository) PopActive(ctx context.Context, sessionID string) (*Entry, error) {
	var popped *Entry
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT id, session_id, student_id, section, before_snapshot, after_snapshot, actor, seq, state, recorded_at
FROM audit_entries WHERE session_id = $1 AND state = $2 FOR UPDATE`,
			sessionID, StateActive)
		entry, err := scanEntry(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrUndoStackEmpty
			}
			return fmt.Errorf("load top: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE audit_entries SET state = $1 WHERE id = $2`,
			StateReverted, entry.ID); err != nil {
			return fmt.Errorf("revert top: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE audit_entries SET state = $1
WHERE session_id = $2 AND state = $3
AND seq = (SELECT MAX(seq) FROM audit_entries WHERE session_id = $2 AND state = $3)`,
			StateActive, sessionID, StateSuperseded); err != nil {
			return fmt.Errorf("promote next: %w", err)
		}
		entry.State = StateReverted
		popped = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return popped, nil
}

// Timeline lists a student's entries, newest first.
func (r *PGRepository) Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	query := `SELECT id, session_id, student_id, section, before_snapshot, after_snapshot, actor, seq, state, recorded_at
FROM audit_entries WHERE student_id = $1`
	args := []any{filters.StudentID}
	if filters.Section != "" {
		args = append(args, string(filters.Section))
		query += fmt.Sprintf(" AND section = $%d", len(args))
	}
	if !filters.From.IsZero() {
		args = append(args, filters.From)
		query += fmt.Sprintf(" AND recorded_at >= $%d", len(args))
	}
	if !filters.To.IsZero() {
		args = append(args, filters.To)
		query += fmt.Sprintf(" AND recorded_at < $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY recorded_at DESC, seq DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline query: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan timeline row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: timeline rows: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var entry Entry
	var section, state string
	if err := row.Scan(&entry.ID, &entry.SessionID, &entry.StudentID, &section,
		&entry.Before, &entry.After, &entry.Actor, &entry.Seq, &state, &entry.RecordedAt); err != nil {
		return nil, err
	}
	entry.Section = student.Section(section)
	entry.State = EntryState(state)
	return &entry, nil
}

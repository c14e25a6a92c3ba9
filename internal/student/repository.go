package student

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/registra-sms/registra/internal/shared"
)

// Store provides PostgreSQL backed access to student sections.
//
// Seven sections live as one JSONB document each in student_sections.
// The financial section is different: its revertible state is the
// installment paid flags, which live in the installments table so the
// ledger engine can read them relationally.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a section store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ReadSection returns the current snapshot for the section.
// Sections never written yet read as an empty object of the right shape.
func (s *Store) ReadSection(ctx context.Context, studentID uuid.UUID, section Section) (json.RawMessage, error) {
	if section == SectionFinancial {
		state, err := s.readFinancialState(ctx, studentID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(state)
	}
	var payload json.RawMessage
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM student_sections WHERE student_id = $1 AND section = $2`,
		studentID, string(section)).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return emptySnapshot(section)
		}
		return nil, fmt.Errorf("student: read %s: %w", section, err)
	}
	return payload, nil
}

// WriteSection overwrites the stored snapshot for the section.
func (s *Store) WriteSection(ctx context.Context, studentID uuid.UUID, section Section, payload json.RawMessage) error {
	if _, err := DecodeSnapshot(section, payload); err != nil {
		return err
	}
	if section == SectionFinancial {
		return s.writeFinancialState(ctx, studentID, payload)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO student_sections (student_id, section, payload, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (student_id, section) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		studentID, string(section), payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("student: write %s: %w", section, err)
	}
	return nil
}

func (s *Store) readFinancialState(ctx context.Context, studentID uuid.UUID) (*FinancialState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT year_key, sequence_number, paid, paid_date FROM installments
WHERE student_id = $1 ORDER BY year_key, sequence_number`, studentID)
	if err != nil {
		return nil, fmt.Errorf("student: read financial state: %w", err)
	}
	defer rows.Close()
	state := &FinancialState{}
	for rows.Next() {
		var flag InstallmentFlag
		if err := rows.Scan(&flag.YearKey, &flag.SequenceNumber, &flag.Paid, &flag.PaidDate); err != nil {
			return nil, fmt.Errorf("student: scan installment flag: %w", err)
		}
		state.Installments = append(state.Installments, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("student: read financial state: %w", err)
	}
	return state, nil
}

func (s *Store) writeFinancialState(ctx context.Context, studentID uuid.UUID, payload json.RawMessage) error {
	var state FinancialState
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("student: decode financial state: %w", err)
	}
	for _, flag := range state.Installments {
		tag, err := s.pool.Exec(ctx,
			`UPDATE installments SET paid = $1, paid_date = $2
WHERE student_id = $3 AND year_key = $4 AND sequence_number = $5`,
			flag.Paid, flag.PaidDate, studentID, flag.YearKey, flag.SequenceNumber)
		if err != nil {
			return fmt.Errorf("student: write installment flag: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("student: installment %s#%d: %w", flag.YearKey, flag.SequenceNumber, shared.ErrNotFound)
		}
	}
	return nil
}

func emptySnapshot(section Section) (json.RawMessage, error) {
	switch section {
	case SectionEmergencyContacts:
		return json.RawMessage(`{"contacts":[]}`), nil
	default:
		return json.RawMessage(`{}`), nil
	}
}

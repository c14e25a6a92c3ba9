package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/registra-sms/registra/internal/platform/db"
	"github.com/registra-sms/registra/internal/shared"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ReadBaseFees loads the immutable base-fee snapshot for a student-year,
// including the installment schedule and other expenses.
func (r *Repository) ReadBaseFees(ctx context.Context, studentID uuid.UUID, yearKey string) (*BaseFees, error) {
	base := &BaseFees{StudentID: studentID, YearKey: yearKey}
	err := r.pool.QueryRow(ctx,
		`SELECT total_amount, advance_payment, created_at FROM base_fees WHERE student_id = $1 AND year_key = $2`,
		studentID, yearKey).Scan(&base.TotalAmount, &base.AdvancePayment, &base.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("finance: base fees for %s/%s: %w", studentID, yearKey, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("finance: read base fees: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, sequence_number, amount, due_date, paid, paid_date FROM installments
WHERE student_id = $1 AND year_key = $2 ORDER BY sequence_number`, studentID, yearKey)
	if err != nil {
		return nil, fmt.Errorf("finance: read installments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		inst := Installment{StudentID: studentID, YearKey: yearKey}
		if err := rows.Scan(&inst.ID, &inst.SequenceNumber, &inst.Amount, &inst.DueDate, &inst.Paid, &inst.PaidDate); err != nil {
			return nil, fmt.Errorf("finance: scan installment: %w", err)
		}
		base.Installments = append(base.Installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finance: read installments: %w", err)
	}

	expRows, err := r.pool.Query(ctx,
		`SELECT expense_type, total_price FROM other_expenses WHERE student_id = $1 AND year_key = $2 ORDER BY expense_type`,
		studentID, yearKey)
	if err != nil {
		return nil, fmt.Errorf("finance: read other expenses: %w", err)
	}
	defer expRows.Close()
	for expRows.Next() {
		var exp OtherExpense
		if err := expRows.Scan(&exp.Type, &exp.TotalPrice); err != nil {
			return nil, fmt.Errorf("finance: scan other expense: %w", err)
		}
		base.OtherExpenses = append(base.OtherExpenses, exp)
	}
	if err := expRows.Err(); err != nil {
		return nil, fmt.Errorf("finance: read other expenses: %w", err)
	}
	return base, nil
}

// InsertBaseFees creates the base-fee snapshot for a student-year.
// A second setup for the same year fails with ErrDuplicateBaseFees.
func (r *Repository) InsertBaseFees(ctx context.Context, base BaseFees) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO base_fees (student_id, year_key, total_amount, advance_payment, created_at)
VALUES ($1, $2, $3, $4, $5)`,
			base.StudentID, base.YearKey, base.TotalAmount, base.AdvancePayment, time.Now().UTC())
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("finance: %s/%s: %w", base.StudentID, base.YearKey, shared.ErrDuplicateBaseFees)
			}
			return fmt.Errorf("finance: insert base fees: %w", err)
		}
		for _, inst := range base.Installments {
			if _, err := tx.Exec(ctx,
				`INSERT INTO installments (student_id, year_key, sequence_number, amount, due_date, paid, paid_date)
VALUES ($1, $2, $3, $4, $5, FALSE, NULL)`,
				base.StudentID, base.YearKey, inst.SequenceNumber, inst.Amount, inst.DueDate); err != nil {
				return fmt.Errorf("finance: insert installment %d: %w", inst.SequenceNumber, err)
			}
		}
		for _, exp := range base.OtherExpenses {
			if _, err := tx.Exec(ctx,
				`INSERT INTO other_expenses (student_id, year_key, expense_type, total_price)
VALUES ($1, $2, $3, $4)`,
				base.StudentID, base.YearKey, exp.Type, exp.TotalPrice); err != nil {
				return fmt.Errorf("finance: insert other expense: %w", err)
			}
		}
		return nil
	})
}

// AppendTransaction adds one entry to the log. Nothing updates or
// deletes rows in financial_transactions; this is the only writer.
func (r *Repository) AppendTransaction(ctx context.Context, tx Transaction) (*Transaction, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO financial_transactions
(id, student_id, year_key, tx_type, amount, tx_date, description, payment_method, payer_name, payer_phone, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING seq`,
		tx.ID, tx.StudentID, tx.YearKey, string(tx.Type), tx.Amount, tx.Date,
		tx.Description, tx.PaymentMethod, tx.PayerName, tx.PayerPhone, tx.CreatedAt).Scan(&tx.Seq)
	if err != nil {
		return nil, fmt.Errorf("finance: append transaction: %w", err)
	}
	return &tx, nil
}

// ListTransactions returns the student-year's log ordered by business
// date, insertion order breaking ties.
func (r *Repository) ListTransactions(ctx context.Context, studentID uuid.UUID, yearKey string) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, year_key, tx_type, amount, tx_date, description, payment_method, payer_name, payer_phone, created_at, seq
FROM financial_transactions WHERE student_id = $1 AND year_key = $2 ORDER BY tx_date, seq`,
		studentID, yearKey)
	if err != nil {
		return nil, fmt.Errorf("finance: list transactions: %w", err)
	}
	defer rows.Close()
	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		var typ string
		if err := rows.Scan(&tx.ID, &tx.StudentID, &tx.YearKey, &typ, &tx.Amount, &tx.Date,
			&tx.Description, &tx.PaymentMethod, &tx.PayerName, &tx.PayerPhone, &tx.CreatedAt, &tx.Seq); err != nil {
			return nil, fmt.Errorf("finance: scan transaction: %w", err)
		}
		tx.Type = TransactionType(typ)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finance: list transactions: %w", err)
	}
	return txs, nil
}

// ListYearKeys returns the years a student has base fees for.
func (r *Repository) ListYearKeys(ctx context.Context, studentID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT year_key FROM base_fees WHERE student_id = $1 ORDER BY year_key`, studentID)
	if err != nil {
		return nil, fmt.Errorf("finance: list year keys: %w", err)
	}
	defer rows.Close()
	var years []string
	for rows.Next() {
		var year string
		if err := rows.Scan(&year); err != nil {
			return nil, fmt.Errorf("finance: scan year key: %w", err)
		}
		years = append(years, year)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finance: list year keys: %w", err)
	}
	return years, nil
}

// CreateRefund stores a refund draft with its deductions.
func (r *Repository) CreateRefund(ctx context.Context, refund Refund) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO refunds (id, student_id, year_key, amount, approval_state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			refund.ID, refund.StudentID, refund.YearKey, refund.Amount, string(refund.ApprovalState), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("finance: insert refund: %w", err)
		}
		for _, d := range refund.Deductions {
			if _, err := tx.Exec(ctx,
				`INSERT INTO refund_deductions (refund_id, reason, amount) VALUES ($1, $2, $3)`,
				refund.ID, d.Reason, d.Amount); err != nil {
				return fmt.Errorf("finance: insert refund deduction: %w", err)
			}
		}
		return nil
	})
}

// GetRefund loads a refund draft with its deductions.
func (r *Repository) GetRefund(ctx context.Context, id uuid.UUID) (*Refund, error) {
	refund := &Refund{ID: id}
	var state string
	err := r.pool.QueryRow(ctx,
		`SELECT student_id, year_key, amount, approval_state, transaction_id, created_at, updated_at
FROM refunds WHERE id = $1`, id).Scan(
		&refund.StudentID, &refund.YearKey, &refund.Amount, &state,
		&refund.TransactionID, &refund.CreatedAt, &refund.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("finance: refund %s: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("finance: read refund: %w", err)
	}
	refund.ApprovalState = RefundApprovalState(state)
	rows, err := r.pool.Query(ctx,
		`SELECT reason, amount FROM refund_deductions WHERE refund_id = $1 ORDER BY reason`, id)
	if err != nil {
		return nil, fmt.Errorf("finance: read refund deductions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d RefundDeduction
		if err := rows.Scan(&d.Reason, &d.Amount); err != nil {
			return nil, fmt.Errorf("finance: scan refund deduction: %w", err)
		}
		refund.Deductions = append(refund.Deductions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finance: read refund deductions: %w", err)
	}
	return refund, nil
}

// SetRefundState moves a refund between approval states.
func (r *Repository) SetRefundState(ctx context.Context, id uuid.UUID, state RefundApprovalState, transactionID *uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE refunds SET approval_state = $1, transaction_id = COALESCE($2, transaction_id), updated_at = $3 WHERE id = $4`,
		string(state), transactionID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finance: set refund state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finance: refund %s: %w", id, shared.ErrNotFound)
	}
	return nil
}

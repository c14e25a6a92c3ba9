// Package finance owns the student fee ledger: immutable base fees,
// the append-only transaction log, refunds, and the reconciliation
// engine that derives a year's balance from them.
package finance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType enumerates financial event kinds. Amounts are always
// non-negative; the type alone decides which way an amount counts.
type TransactionType string

const (
	TransactionPayment       TransactionType = "PAYMENT"
	TransactionAdditionalFee TransactionType = "ADDITIONAL_FEE"
	TransactionDiscount      TransactionType = "DISCOUNT"
	TransactionPenalty       TransactionType = "PENALTY"
	TransactionRefund        TransactionType = "REFUND"
)

// ParseTransactionType validates a transaction type from input.
func ParseTransactionType(s string) (TransactionType, bool) {
	switch TransactionType(s) {
	case TransactionPayment, TransactionAdditionalFee, TransactionDiscount, TransactionPenalty, TransactionRefund:
		return TransactionType(s), true
	}
	return "", false
}

// Installment is one slot of the payment schedule. Sequence numbers are
// 1-based, unique within the year, and immutable; due dates must be
// non-decreasing by sequence number.
type Installment struct {
	ID             int64
	StudentID      uuid.UUID
	YearKey        string
	SequenceNumber int
	Amount         decimal.Decimal
	DueDate        time.Time
	Paid           bool
	PaidDate       *time.Time
}

// OtherExpense is a static non-fee cost set once at profile setup.
type OtherExpense struct {
	Type       string
	TotalPrice decimal.Decimal
}

// BaseFees is the once-set financial schedule for a student-year.
// The ledger engine treats it as an immutable snapshot.
type BaseFees struct {
	StudentID      uuid.UUID
	YearKey        string
	TotalAmount    decimal.Decimal
	AdvancePayment decimal.Decimal
	Installments   []Installment
	OtherExpenses  []OtherExpense
	CreatedAt      time.Time
}

// Transaction is one event in the append-only log. Entries are never
// edited or deleted; corrections are new entries with an explanatory
// description.
type Transaction struct {
	ID            uuid.UUID
	StudentID     uuid.UUID
	YearKey       string
	Type          TransactionType
	Amount        decimal.Decimal
	Date          time.Time
	Description   string
	PaymentMethod string
	PayerName     string
	PayerPhone    string
	CreatedAt     time.Time
	// Seq is the insertion order, which breaks date ties for display
	// and is the only ordering that matters to the audit history.
	Seq int64
}

// RefundApprovalState tracks a refund draft's review status.
type RefundApprovalState string

const (
	RefundPending  RefundApprovalState = "PENDING"
	RefundApproved RefundApprovalState = "APPROVED"
	RefundRejected RefundApprovalState = "REJECTED"
	// RefundFinalized means the refund-typed transaction was appended.
	RefundFinalized RefundApprovalState = "FINALIZED"
)

// RefundDeduction reduces the payout of a refund.
type RefundDeduction struct {
	Reason string
	Amount decimal.Decimal
}

// Refund is a refund draft. Once approved and finalized it appears in
// the transaction log as a REFUND entry for the net amount.
type Refund struct {
	ID            uuid.UUID
	StudentID     uuid.UUID
	YearKey       string
	Amount        decimal.Decimal
	ApprovalState RefundApprovalState
	Deductions    []RefundDeduction
	TransactionID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NetAmount returns the refund amount minus deductions.
func (r Refund) NetAmount() decimal.Decimal {
	net := r.Amount
	for _, d := range r.Deductions {
		net = net.Sub(d.Amount)
	}
	return net
}

// YearSummary is the full financial breakdown for a student-year.
// Every caller shows the breakdown, not just the closing number, so
// all intermediate totals travel with it.
type YearSummary struct {
	StudentID            uuid.UUID       `json:"student_id"`
	YearKey              string          `json:"year_key"`
	TotalStudyExpenses   decimal.Decimal `json:"total_study_expenses"`
	OtherExpensesTotal   decimal.Decimal `json:"other_expenses_total"`
	AdvancePayment       decimal.Decimal `json:"advance_payment"`
	PaidFromTransactions decimal.Decimal `json:"paid_from_transactions"`
	PaidFromInstallments decimal.Decimal `json:"paid_from_installments"`
	TotalPaid            decimal.Decimal `json:"total_paid"`
	TotalAdditionalFees  decimal.Decimal `json:"total_additional_fees"`
	TotalDiscounts       decimal.Decimal `json:"total_discounts"`
	TotalRefunds         decimal.Decimal `json:"total_refunds"`
	NetDue               decimal.Decimal `json:"net_due"`
	// Credit is true when NetDue is negative: the school owes the
	// family. Rendered distinctly, never clamped to zero.
	Credit bool `json:"credit"`
}

package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/registra-sms/registra/internal/mutation"
	"github.com/registra-sms/registra/internal/shared"
	"github.com/registra-sms/registra/internal/student"
)

// RepositoryPort defines data access methods for the ledger.
type RepositoryPort interface {
	ReadBaseFees(ctx context.Context, studentID uuid.UUID, yearKey string) (*BaseFees, error)
	InsertBaseFees(ctx context.Context, base BaseFees) error
	AppendTransaction(ctx context.Context, tx Transaction) (*Transaction, error)
	ListTransactions(ctx context.Context, studentID uuid.UUID, yearKey string) ([]Transaction, error)
	ListYearKeys(ctx context.Context, studentID uuid.UUID) ([]string, error)
	CreateRefund(ctx context.Context, refund Refund) error
	GetRefund(ctx context.Context, id uuid.UUID) (*Refund, error)
	SetRefundState(ctx context.Context, id uuid.UUID, state RefundApprovalState, transactionID *uuid.UUID) error
}

// PaymentEvent is emitted after a payment-type transaction commits.
type PaymentEvent struct {
	TransactionID uuid.UUID
	StudentID     uuid.UUID
	YearKey       string
	Amount        decimal.Decimal
	Method        string
	PayerName     string
	Date          time.Time
}

// Notifier delivers payment events to the notification collaborator.
// Delivery is fire-and-forget: a notifier failure never rolls back the
// committed transaction.
type Notifier interface {
	PaymentRecorded(ctx context.Context, event PaymentEvent) error
}

// SectionMutator is the audited-write entry point installment toggles
// go through.
type SectionMutator interface {
	Apply(ctx context.Context, sess *shared.EditingSession, studentID uuid.UUID, section student.Section, newValue json.RawMessage) (*mutation.CommitResult, error)
}

// Service handles ledger business logic.
type Service struct {
	repo        RepositoryPort
	sections    mutation.SectionStore
	coordinator SectionMutator
	notifier    Notifier
	logger      *slog.Logger
	summaries   singleflight.Group
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, sections mutation.SectionStore, coordinator SectionMutator, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		sections:    sections,
		coordinator: coordinator,
		notifier:    notifier,
		logger:      logger,
	}
}

// YearSummary recomputes the student-year balance from the base-fee
// snapshot and the transaction log. Never served from a stored running
// balance; concurrent identical requests coalesce but each fresh call
// recomputes.
func (s *Service) YearSummary(ctx context.Context, studentID uuid.UUID, yearKey string) (*YearSummary, error) {
	key := studentID.String() + "/" + yearKey
	v, err, _ := s.summaries.Do(key, func() (any, error) {
		return s.computeSummary(ctx, studentID, yearKey)
	})
	if err != nil {
		return nil, err
	}
	summary := v.(YearSummary)
	return &summary, nil
}

func (s *Service) computeSummary(ctx context.Context, studentID uuid.UUID, yearKey string) (YearSummary, error) {
	base, err := s.repo.ReadBaseFees(ctx, studentID, yearKey)
	if err != nil {
		return YearSummary{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, studentID, yearKey)
	if err != nil {
		return YearSummary{}, err
	}
	return ComputeYearFinancials(*base, txs)
}

// Transactions lists the student-year's log in display order.
func (s *Service) Transactions(ctx context.Context, studentID uuid.UUID, yearKey string) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, studentID, yearKey)
}

// TransactionInput carries a new log entry from the caller.
type TransactionInput struct {
	StudentID     uuid.UUID
	YearKey       string
	Type          TransactionType
	Amount        decimal.Decimal
	Date          time.Time
	Description   string
	PaymentMethod string
	PayerName     string
	PayerPhone    string
}

// RecordTransaction appends one entry to the log. It never updates an
// existing entry; corrections are new entries. After a PAYMENT commits,
// the notification collaborator is invoked without affecting the result.
func (s *Service) RecordTransaction(ctx context.Context, input TransactionInput) (*Transaction, error) {
	if _, ok := ParseTransactionType(string(input.Type)); !ok {
		return nil, fmt.Errorf("finance: unknown transaction type %q: %w", input.Type, shared.ErrReconciliationInput)
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("finance: transaction amount %s is negative: %w", input.Amount, shared.ErrReconciliationInput)
	}
	if input.YearKey == "" {
		return nil, fmt.Errorf("finance: year key required: %w", shared.ErrReconciliationInput)
	}
	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	tx := Transaction{
		ID:            uuid.New(),
		StudentID:     input.StudentID,
		YearKey:       input.YearKey,
		Type:          input.Type,
		Amount:        input.Amount,
		Date:          date,
		Description:   input.Description,
		PaymentMethod: input.PaymentMethod,
		PayerName:     input.PayerName,
		PayerPhone:    input.PayerPhone,
		CreatedAt:     time.Now().UTC(),
	}
	appended, err := s.repo.AppendTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if appended.Type == TransactionPayment && s.notifier != nil {
		event := PaymentEvent{
			TransactionID: appended.ID,
			StudentID:     appended.StudentID,
			YearKey:       appended.YearKey,
			Amount:        appended.Amount,
			Method:        appended.PaymentMethod,
			PayerName:     appended.PayerName,
			Date:          appended.Date,
		}
		if err := s.notifier.PaymentRecorded(ctx, event); err != nil {
			s.logger.Warn("payment notification enqueue failed",
				slog.String("transaction_id", appended.ID.String()),
				slog.Any("error", err))
		}
	}
	return appended, nil
}

// SetupInput carries the one-time base-fee setup for a student-year.
type SetupInput struct {
	StudentID      uuid.UUID
	YearKey        string
	TotalAmount    decimal.Decimal
	AdvancePayment decimal.Decimal
	Installments   []Installment
	OtherExpenses  []OtherExpense
}

// SetupBaseFees creates the base-fee snapshot. Rejected when the
// student-year already has one; base fees are set once, never edited.
func (s *Service) SetupBaseFees(ctx context.Context, input SetupInput) error {
	if input.YearKey == "" {
		return fmt.Errorf("finance: year key required: %w", shared.ErrReconciliationInput)
	}
	if input.TotalAmount.IsNegative() || input.AdvancePayment.IsNegative() {
		return fmt.Errorf("finance: base amounts must be non-negative: %w", shared.ErrReconciliationInput)
	}
	if err := ValidateSchedule(input.Installments); err != nil {
		return err
	}
	for _, exp := range input.OtherExpenses {
		if exp.TotalPrice.IsNegative() {
			return fmt.Errorf("finance: other expense %q is negative: %w", exp.Type, shared.ErrReconciliationInput)
		}
	}
	return s.repo.InsertBaseFees(ctx, BaseFees{
		StudentID:      input.StudentID,
		YearKey:        input.YearKey,
		TotalAmount:    input.TotalAmount,
		AdvancePayment: input.AdvancePayment,
		Installments:   input.Installments,
		OtherExpenses:  input.OtherExpenses,
	})
}

// MarkInstallment flips one installment's paid flag through the audited
// mutation path, so the flip can be undone like any other change.
func (s *Service) MarkInstallment(ctx context.Context, sess *shared.EditingSession, studentID uuid.UUID, yearKey string, sequenceNumber int, paid bool) (*mutation.CommitResult, error) {
	raw, err := s.sections.ReadSection(ctx, studentID, student.SectionFinancial)
	if err != nil {
		return nil, fmt.Errorf("finance: %v: %w", err, shared.ErrReadFailed)
	}
	var state student.FinancialState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("finance: decode financial state: %w", err)
	}
	found := false
	for i := range state.Installments {
		flag := &state.Installments[i]
		if flag.YearKey == yearKey && flag.SequenceNumber == sequenceNumber {
			flag.Paid = paid
			if paid {
				now := time.Now().UTC()
				flag.PaidDate = &now
			} else {
				flag.PaidDate = nil
			}
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("finance: installment %s#%d: %w", yearKey, sequenceNumber, shared.ErrNotFound)
	}
	newValue, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("finance: encode financial state: %w", err)
	}
	return s.coordinator.Apply(ctx, sess, studentID, student.SectionFinancial, newValue)
}

// RefundInput carries a refund draft.
type RefundInput struct {
	StudentID  uuid.UUID
	YearKey    string
	Amount     decimal.Decimal
	Deductions []RefundDeduction
}

// CreateRefund stores a pending refund draft.
func (s *Service) CreateRefund(ctx context.Context, input RefundInput) (*Refund, error) {
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("finance: refund amount is negative: %w", shared.ErrReconciliationInput)
	}
	refund := Refund{
		ID:            uuid.New(),
		StudentID:     input.StudentID,
		YearKey:       input.YearKey,
		Amount:        input.Amount,
		ApprovalState: RefundPending,
		Deductions:    input.Deductions,
	}
	if refund.NetAmount().IsNegative() {
		return nil, fmt.Errorf("finance: refund deductions exceed amount: %w", shared.ErrReconciliationInput)
	}
	if err := s.repo.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// ReviewRefund approves or rejects a pending refund draft.
func (s *Service) ReviewRefund(ctx context.Context, id uuid.UUID, approve bool) error {
	refund, err := s.repo.GetRefund(ctx, id)
	if err != nil {
		return err
	}
	if refund.ApprovalState != RefundPending {
		return fmt.Errorf("finance: refund %s is %s, not pending: %w", id, refund.ApprovalState, shared.ErrReconciliationInput)
	}
	state := RefundRejected
	if approve {
		state = RefundApproved
	}
	return s.repo.SetRefundState(ctx, id, state, nil)
}

// FinalizeRefund appends the REFUND log entry for an approved draft and
// marks the draft finalized. The draft itself is never rewritten into
// the log; the appended transaction is the ledger's record.
func (s *Service) FinalizeRefund(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	refund, err := s.repo.GetRefund(ctx, id)
	if err != nil {
		return nil, err
	}
	if refund.ApprovalState != RefundApproved {
		return nil, fmt.Errorf("finance: refund %s is %s, not approved: %w", id, refund.ApprovalState, shared.ErrReconciliationInput)
	}
	tx, err := s.RecordTransaction(ctx, TransactionInput{
		StudentID:   refund.StudentID,
		YearKey:     refund.YearKey,
		Type:        TransactionRefund,
		Amount:      refund.NetAmount(),
		Description: fmt.Sprintf("refund %s finalized", refund.ID),
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetRefundState(ctx, id, RefundFinalized, &tx.ID); err != nil {
		return nil, err
	}
	return tx, nil
}

// Refresh implements mutation.Refresher. After a financial mutation or
// undo it re-runs the reconciliation for every year the student has
// base fees, so inconsistencies surface immediately instead of at the
// next read.
func (s *Service) Refresh(ctx context.Context, studentID uuid.UUID, section student.Section) error {
	if section != student.SectionFinancial {
		return nil
	}
	years, err := s.repo.ListYearKeys(ctx, studentID)
	if err != nil {
		return err
	}
	for _, year := range years {
		summary, err := s.computeSummary(ctx, studentID, year)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return err
		}
		s.logger.Debug("financial summary refreshed",
			slog.String("student_id", studentID.String()),
			slog.String("year_key", year),
			slog.String("net_due", summary.NetDue.String()))
	}
	return nil
}

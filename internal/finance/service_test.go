package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/registra-sms/registra/internal/audit"
	"github.com/registra-sms/registra/internal/mutation"
	"github.com/registra-sms/registra/internal/shared"
	"github.com/registra-sms/registra/internal/student"
)

type memoryLedgerRepo struct {
	baseFees map[string]BaseFees
	txs      []Transaction
	refunds  map[uuid.UUID]Refund
	nextSeq  int64
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		baseFees: make(map[string]BaseFees),
		refunds:  make(map[uuid.UUID]Refund),
	}
}

func (r *memoryLedgerRepo) feeKey(studentID uuid.UUID, yearKey string) string {
	return studentID.String() + "/" + yearKey
}

func (r *memoryLedgerRepo) ReadBaseFees(ctx context.Context, studentID uuid.UUID, yearKey string) (*BaseFees, error) {
	base, ok := r.baseFees[r.feeKey(studentID, yearKey)]
	if !ok {
		return nil, fmt.Errorf("base fees %s/%s: %w", studentID, yearKey, shared.ErrNotFound)
	}
	return &base, nil
}

func (r *memoryLedgerRepo) InsertBaseFees(ctx context.Context, base BaseFees) error {
	key := r.feeKey(base.StudentID, base.YearKey)
	if _, ok := r.baseFees[key]; ok {
		return shared.ErrDuplicateBaseFees
	}
	base.CreatedAt = time.Now().UTC()
	r.baseFees[key] = base
	return nil
}

func (r *memoryLedgerRepo) AppendTransaction(ctx context.Context, tx Transaction) (*Transaction, error) {
	r.nextSeq++
	tx.Seq = r.nextSeq
	r.txs = append(r.txs, tx)
	return &tx, nil
}

func (r *memoryLedgerRepo) ListTransactions(ctx context.Context, studentID uuid.UUID, yearKey string) ([]Transaction, error) {
	var out []Transaction
	for _, tx := range r.txs {
		if tx.StudentID == studentID && tx.YearKey == yearKey {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *memoryLedgerRepo) ListYearKeys(ctx context.Context, studentID uuid.UUID) ([]string, error) {
	var out []string
	for _, base := range r.baseFees {
		if base.StudentID == studentID {
			out = append(out, base.YearKey)
		}
	}
	return out, nil
}

func (r *memoryLedgerRepo) CreateRefund(ctx context.Context, refund Refund) error {
	refund.CreatedAt = time.Now().UTC()
	r.refunds[refund.ID] = refund
	return nil
}

func (r *memoryLedgerRepo) GetRefund(ctx context.Context, id uuid.UUID) (*Refund, error) {
	refund, ok := r.refunds[id]
	if !ok {
		return nil, fmt.Errorf("refund %s: %w", id, shared.ErrNotFound)
	}
	return &refund, nil
}

func (r *memoryLedgerRepo) SetRefundState(ctx context.Context, id uuid.UUID, state RefundApprovalState, transactionID *uuid.UUID) error {
	refund, ok := r.refunds[id]
	if !ok {
		return fmt.Errorf("refund %s: %w", id, shared.ErrNotFound)
	}
	refund.ApprovalState = state
	refund.TransactionID = transactionID
	refund.UpdatedAt = time.Now().UTC()
	r.refunds[id] = refund
	return nil
}

type recordingNotifier struct {
	events []PaymentEvent
	err    error
}

func (n *recordingNotifier) PaymentRecorded(ctx context.Context, event PaymentEvent) error {
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

type memorySections struct {
	values map[string]json.RawMessage
}

func newMemorySections() *memorySections {
	return &memorySections{values: make(map[string]json.RawMessage)}
}

func (s *memorySections) ReadSection(ctx context.Context, studentID uuid.UUID, section student.Section) (json.RawMessage, error) {
	if v, ok := s.values[studentID.String()+"/"+string(section)]; ok {
		return v, nil
	}
	return json.RawMessage(`{}`), nil
}

func (s *memorySections) WriteSection(ctx context.Context, studentID uuid.UUID, section student.Section, payload json.RawMessage) error {
	s.values[studentID.String()+"/"+string(section)] = payload
	return nil
}

type memoryRecorder struct {
	stack []*audit.Entry
}

func (r *memoryRecorder) Record(ctx context.Context, input audit.RecordInput) (*audit.Entry, error) {
	entry := &audit.Entry{
		ID:         uuid.New(),
		SessionID:  input.SessionID,
		StudentID:  input.StudentID,
		Section:    input.Section,
		Before:     input.Before,
		After:      input.After,
		Actor:      input.Actor,
		Seq:        int64(len(r.stack) + 1),
		State:      audit.StateActive,
		RecordedAt: time.Now().UTC(),
	}
	r.stack = append(r.stack, entry)
	return entry, nil
}

func (r *memoryRecorder) UndoLast(ctx context.Context, sessionID string) (*audit.Entry, error) {
	for i := len(r.stack) - 1; i >= 0; i-- {
		if r.stack[i].SessionID == sessionID && r.stack[i].State == audit.StateActive {
			r.stack[i].State = audit.StateReverted
			return r.stack[i], nil
		}
	}
	return nil, shared.ErrUndoStackEmpty
}

type openLocker struct{}

func (openLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	return func() {}, nil
}

func dec2(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRecordTransactionAppendsWithoutRewriting(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, newMemorySections(), nil, nil, nil)
	studentID := uuid.New()

	first, err := svc.RecordTransaction(context.Background(), TransactionInput{
		StudentID: studentID,
		YearKey:   "2025-2026",
		Type:      TransactionDiscount,
		Amount:    dec2("500"),
	})
	require.NoError(t, err)

	firstCopy := repo.txs[0]

	second, err := svc.RecordTransaction(context.Background(), TransactionInput{
		StudentID: studentID,
		YearKey:   "2025-2026",
		Type:      TransactionDiscount,
		Amount:    dec2("250"),
	})
	require.NoError(t, err)

	require.Len(t, repo.txs, 2)
	require.Equal(t, firstCopy, repo.txs[0])
	require.Less(t, first.Seq, second.Seq)
}

func TestRecordTransactionRejectsBadInput(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), newMemorySections(), nil, nil, nil)

	_, err := svc.RecordTransaction(context.Background(), TransactionInput{
		YearKey: "2025-2026",
		Type:    "CHARGEBACK",
		Amount:  dec2("10"),
	})
	require.ErrorIs(t, err, shared.ErrReconciliationInput)

	_, err = svc.RecordTransaction(context.Background(), TransactionInput{
		YearKey: "2025-2026",
		Type:    TransactionPayment,
		Amount:  dec2("-10"),
	})
	require.ErrorIs(t, err, shared.ErrReconciliationInput)

	_, err = svc.RecordTransaction(context.Background(), TransactionInput{
		Type:   TransactionPayment,
		Amount: dec2("10"),
	})
	require.ErrorIs(t, err, shared.ErrReconciliationInput)
}

func TestPaymentTriggersNotification(t *testing.T) {
	repo := newMemoryLedgerRepo()
	notifier := &recordingNotifier{}
	svc := NewService(repo, newMemorySections(), nil, notifier, nil)

	tx, err := svc.RecordTransaction(context.Background(), TransactionInput{
		StudentID:     uuid.New(),
		YearKey:       "2025-2026",
		Type:          TransactionPayment,
		Amount:        dec2("1200"),
		PaymentMethod: "cash",
		PayerName:     "Okello",
	})
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)
	require.Equal(t, tx.ID, notifier.events[0].TransactionID)
	require.Equal(t, "Okello", notifier.events[0].PayerName)

	_, err = svc.RecordTransaction(context.Background(), TransactionInput{
		StudentID: uuid.New(),
		YearKey:   "2025-2026",
		Type:      TransactionDiscount,
		Amount:    dec2("300"),
	})
	require.NoError(t, err)
	require.Len(t, notifier.events, 1, "non-payment entries do not notify")
}

func TestNotifierFailureDoesNotFailCommit(t *testing.T) {
	repo := newMemoryLedgerRepo()
	notifier := &recordingNotifier{err: errors.New("broker unreachable")}
	svc := NewService(repo, newMemorySections(), nil, notifier, nil)

	_, err := svc.RecordTransaction(context.Background(), TransactionInput{
		StudentID: uuid.New(),
		YearKey:   "2025-2026",
		Type:      TransactionPayment,
		Amount:    dec2("1200"),
	})
	require.NoError(t, err)
	require.Len(t, repo.txs, 1, "the committed entry stays committed")
}

func TestSetupBaseFeesIsOneShot(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, newMemorySections(), nil, nil, nil)
	studentID := uuid.New()

	input := SetupInput{
		StudentID:      studentID,
		YearKey:        "2025-2026",
		TotalAmount:    dec2("10000"),
		AdvancePayment: dec2("1000"),
		Installments: []Installment{
			{SequenceNumber: 1, Amount: dec2("4500"), DueDate: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
			{SequenceNumber: 2, Amount: dec2("4500"), DueDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	require.NoError(t, svc.SetupBaseFees(context.Background(), input))
	require.ErrorIs(t, svc.SetupBaseFees(context.Background(), input), shared.ErrDuplicateBaseFees)
}

func TestSetupBaseFeesValidatesInput(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), newMemorySections(), nil, nil, nil)

	err := svc.SetupBaseFees(context.Background(), SetupInput{
		StudentID:   uuid.New(),
		YearKey:     "2025-2026",
		TotalAmount: dec2("-1"),
	})
	require.ErrorIs(t, err, shared.ErrReconciliationInput)

	err = svc.SetupBaseFees(context.Background(), SetupInput{
		StudentID:   uuid.New(),
		YearKey:     "2025-2026",
		TotalAmount: dec2("1000"),
		Installments: []Installment{
			{SequenceNumber: 1, Amount: dec2("500")},
			{SequenceNumber: 1, Amount: dec2("500")},
		},
	})
	require.ErrorIs(t, err, shared.ErrReconciliationInput)
}

func TestYearSummaryRecomputesFromLog(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, newMemorySections(), nil, nil, nil)
	studentID := uuid.New()

	require.NoError(t, svc.SetupBaseFees(context.Background(), SetupInput{
		StudentID:      studentID,
		YearKey:        "2025-2026",
		TotalAmount:    dec2("10000"),
		AdvancePayment: dec2("1000"),
	}))

	summary, err := svc.YearSummary(context.Background(), studentID, "2025-2026")
	require.NoError(t, err)
	require.True(t, summary.NetDue.Equal(dec2("9000")))
	require.False(t, summary.Credit)

	_, err = svc.RecordTransaction(context.Background(), TransactionInput{
		StudentID: studentID,
		YearKey:   "2025-2026",
		Type:      TransactionPayment,
		Amount:    dec2("4000"),
	})
	require.NoError(t, err)

	summary, err = svc.YearSummary(context.Background(), studentID, "2025-2026")
	require.NoError(t, err)
	require.True(t, summary.NetDue.Equal(dec2("5000")))

	_, err = svc.YearSummary(context.Background(), studentID, "unknown-year")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRefundLifecycle(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, newMemorySections(), nil, nil, nil)
	studentID := uuid.New()

	refund, err := svc.CreateRefund(context.Background(), RefundInput{
		StudentID: studentID,
		YearKey:   "2025-2026",
		Amount:    dec2("1000"),
		Deductions: []RefundDeduction{
			{Reason: "processing fee", Amount: dec2("50")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, RefundPending, refund.ApprovalState)

	// Finalizing before approval is rejected.
	_, err = svc.FinalizeRefund(context.Background(), refund.ID)
	require.ErrorIs(t, err, shared.ErrReconciliationInput)

	require.NoError(t, svc.ReviewRefund(context.Background(), refund.ID, true))

	tx, err := svc.FinalizeRefund(context.Background(), refund.ID)
	require.NoError(t, err)
	require.Equal(t, TransactionRefund, tx.Type)
	require.True(t, tx.Amount.Equal(dec2("950")), "refund entry carries the net amount")

	stored, err := repo.GetRefund(context.Background(), refund.ID)
	require.NoError(t, err)
	require.Equal(t, RefundFinalized, stored.ApprovalState)
	require.NotNil(t, stored.TransactionID)
	require.Equal(t, tx.ID, *stored.TransactionID)

	// Reviewing a finalized refund is rejected.
	require.ErrorIs(t, svc.ReviewRefund(context.Background(), refund.ID, false), shared.ErrReconciliationInput)
}

func TestCreateRefundRejectsExcessDeductions(t *testing.T) {
	svc := NewService(newMemoryLedgerRepo(), newMemorySections(), nil, nil, nil)
	_, err := svc.CreateRefund(context.Background(), RefundInput{
		StudentID: uuid.New(),
		YearKey:   "2025-2026",
		Amount:    dec2("100"),
		Deductions: []RefundDeduction{
			{Reason: "too much", Amount: dec2("150")},
		},
	})
	require.ErrorIs(t, err, shared.ErrReconciliationInput)
}

func TestMarkInstallmentGoesThroughAuditedMutation(t *testing.T) {
	repo := newMemoryLedgerRepo()
	sections := newMemorySections()
	recorder := &memoryRecorder{}
	coordinator := mutation.NewCoordinator(sections, recorder, openLocker{}, nil)
	svc := NewService(repo, sections, coordinator, nil, nil)
	coordinator.AddRefresher(svc)

	studentID := uuid.New()
	sess := &shared.EditingSession{ID: "sess-fin", Actor: "bursar", StartedAt: time.Now().UTC()}

	require.NoError(t, svc.SetupBaseFees(context.Background(), SetupInput{
		StudentID:      studentID,
		YearKey:        "2025-2026",
		TotalAmount:    dec2("9000"),
		AdvancePayment: dec2("0"),
		Installments: []Installment{
			{SequenceNumber: 1, Amount: dec2("4500"), DueDate: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
			{SequenceNumber: 2, Amount: dec2("4500"), DueDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		},
	}))

	state := student.FinancialState{
		Installments: []student.InstallmentFlag{
			{YearKey: "2025-2026", SequenceNumber: 1},
			{YearKey: "2025-2026", SequenceNumber: 2},
		},
	}
	raw, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, sections.WriteSection(context.Background(), studentID, student.SectionFinancial, raw))

	_, err = svc.MarkInstallment(context.Background(), sess, studentID, "2025-2026", 1, true)
	require.NoError(t, err)

	stored, err := sections.ReadSection(context.Background(), studentID, student.SectionFinancial)
	require.NoError(t, err)
	var after student.FinancialState
	require.NoError(t, json.Unmarshal(stored, &after))
	require.True(t, after.Installments[0].Paid)
	require.NotNil(t, after.Installments[0].PaidDate)
	require.Len(t, recorder.stack, 1)

	// Undo restores the unpaid state through the same audited path.
	_, err = coordinator.Undo(context.Background(), sess)
	require.NoError(t, err)

	stored, err = sections.ReadSection(context.Background(), studentID, student.SectionFinancial)
	require.NoError(t, err)
	var reverted student.FinancialState
	require.NoError(t, json.Unmarshal(stored, &reverted))
	require.False(t, reverted.Installments[0].Paid)
	require.Nil(t, reverted.Installments[0].PaidDate)
}

func TestMarkInstallmentUnknownSlot(t *testing.T) {
	sections := newMemorySections()
	coordinator := mutation.NewCoordinator(sections, &memoryRecorder{}, openLocker{}, nil)
	svc := NewService(newMemoryLedgerRepo(), sections, coordinator, nil, nil)
	sess := &shared.EditingSession{ID: "sess-fin", Actor: "bursar", StartedAt: time.Now().UTC()}

	_, err := svc.MarkInstallment(context.Background(), sess, uuid.New(), "2025-2026", 9, true)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

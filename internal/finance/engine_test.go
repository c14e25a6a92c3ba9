package finance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/registra-sms/registra/internal/shared"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testBaseFees(total, advance string) BaseFees {
	return BaseFees{
		StudentID:      uuid.New(),
		YearKey:        "2025-2026",
		TotalAmount:    dec(total),
		AdvancePayment: dec(advance),
	}
}

func TestComputeYearFinancialsDedupsOverlappingPayments(t *testing.T) {
	base := testBaseFees("10000", "0")
	paidAt := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	base.Installments = []Installment{
		{SequenceNumber: 1, Amount: dec("4000"), DueDate: paidAt, Paid: true, PaidDate: &paidAt},
		{SequenceNumber: 2, Amount: dec("6000"), DueDate: paidAt.AddDate(0, 3, 0)},
	}
	txs := []Transaction{
		{ID: uuid.New(), Type: TransactionPayment, Amount: dec("4000"), Date: paidAt},
	}

	summary, err := ComputeYearFinancials(base, txs)
	require.NoError(t, err)
	// One real payment recorded through both workflows counts once.
	require.True(t, summary.TotalPaid.Equal(dec("4000")), "totalPaid = %s", summary.TotalPaid)
	require.True(t, summary.NetDue.Equal(dec("6000")), "netDue = %s", summary.NetDue)
	require.False(t, summary.Credit)
}

func TestComputeYearFinancialsAdditivity(t *testing.T) {
	base := testBaseFees("10000", "0")
	txs := []Transaction{
		{ID: uuid.New(), Type: TransactionPayment, Amount: dec("3000")},
		{ID: uuid.New(), Type: TransactionAdditionalFee, Amount: dec("500")},
		{ID: uuid.New(), Type: TransactionDiscount, Amount: dec("200")},
		{ID: uuid.New(), Type: TransactionRefund, Amount: dec("100")},
	}

	summary, err := ComputeYearFinancials(base, txs)
	require.NoError(t, err)
	require.True(t, summary.NetDue.Equal(dec("7200")), "netDue = %s", summary.NetDue)
	require.True(t, summary.TotalAdditionalFees.Equal(dec("500")))
	require.True(t, summary.TotalDiscounts.Equal(dec("200")))
	require.True(t, summary.TotalRefunds.Equal(dec("100")))
}

func TestComputeYearFinancialsPenaltyCountsAsDiscount(t *testing.T) {
	base := testBaseFees("1000", "0")
	txs := []Transaction{
		{ID: uuid.New(), Type: TransactionDiscount, Amount: dec("50")},
		{ID: uuid.New(), Type: TransactionPenalty, Amount: dec("25")},
	}

	summary, err := ComputeYearFinancials(base, txs)
	require.NoError(t, err)
	require.True(t, summary.TotalDiscounts.Equal(dec("75")))
	require.True(t, summary.NetDue.Equal(dec("925")))
}

func TestComputeYearFinancialsAdvancePaymentAlwaysCounts(t *testing.T) {
	base := testBaseFees("10000", "2500")
	txs := []Transaction{
		{ID: uuid.New(), Type: TransactionPayment, Amount: dec("1000")},
	}

	summary, err := ComputeYearFinancials(base, txs)
	require.NoError(t, err)
	require.True(t, summary.TotalPaid.Equal(dec("3500")), "totalPaid = %s", summary.TotalPaid)
}

func TestComputeYearFinancialsNegativeNetDueIsCredit(t *testing.T) {
	base := testBaseFees("1000", "0")
	txs := []Transaction{
		{ID: uuid.New(), Type: TransactionPayment, Amount: dec("1500")},
	}

	summary, err := ComputeYearFinancials(base, txs)
	require.NoError(t, err)
	require.True(t, summary.NetDue.Equal(dec("-500")), "netDue = %s", summary.NetDue)
	require.True(t, summary.Credit)
}

func TestComputeYearFinancialsIdempotent(t *testing.T) {
	base := testBaseFees("8000", "1000")
	paidAt := time.Date(2025, 11, 5, 0, 0, 0, 0, time.UTC)
	base.Installments = []Installment{
		{SequenceNumber: 1, Amount: dec("2000"), DueDate: paidAt, Paid: true, PaidDate: &paidAt},
	}
	txs := []Transaction{
		{ID: uuid.New(), Type: TransactionPayment, Amount: dec("1500"), Date: paidAt},
		{ID: uuid.New(), Type: TransactionAdditionalFee, Amount: dec("300"), Date: paidAt},
	}

	first, err := ComputeYearFinancials(base, txs)
	require.NoError(t, err)
	second, err := ComputeYearFinancials(base, txs)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestComputeYearFinancialsRejectsNegativeAmount(t *testing.T) {
	base := testBaseFees("1000", "0")
	txs := []Transaction{
		{ID: uuid.New(), Type: TransactionPayment, Amount: dec("-10")},
	}

	_, err := ComputeYearFinancials(base, txs)
	require.ErrorIs(t, err, shared.ErrReconciliationInput)
}

func TestComputeYearFinancialsZeroTransactions(t *testing.T) {
	base := testBaseFees("5000", "500")

	summary, err := ComputeYearFinancials(base, nil)
	require.NoError(t, err)
	require.True(t, summary.TotalPaid.Equal(dec("500")))
	require.True(t, summary.NetDue.Equal(dec("4500")))
}

func TestValidateSchedule(t *testing.T) {
	day := func(offset int) time.Time {
		return time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC).AddDate(0, offset, 0)
	}

	require.NoError(t, ValidateSchedule([]Installment{
		{SequenceNumber: 1, Amount: dec("100"), DueDate: day(0)},
		{SequenceNumber: 2, Amount: dec("100"), DueDate: day(1)},
		{SequenceNumber: 3, Amount: dec("100"), DueDate: day(1)},
	}))

	err := ValidateSchedule([]Installment{
		{SequenceNumber: 1, Amount: dec("100"), DueDate: day(0)},
		{SequenceNumber: 1, Amount: dec("100"), DueDate: day(1)},
	})
	require.ErrorIs(t, err, shared.ErrReconciliationInput)

	err = ValidateSchedule([]Installment{
		{SequenceNumber: 1, Amount: dec("100"), DueDate: day(2)},
		{SequenceNumber: 2, Amount: dec("100"), DueDate: day(1)},
	})
	require.ErrorIs(t, err, shared.ErrReconciliationInput)

	err = ValidateSchedule([]Installment{
		{SequenceNumber: 0, Amount: dec("100"), DueDate: day(0)},
	})
	require.ErrorIs(t, err, shared.ErrReconciliationInput)
}

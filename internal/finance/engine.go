package finance

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/registra-sms/registra/internal/shared"
)

// ComputeYearFinancials derives the authoritative balance for one
// student-year from the base-fee snapshot and the full transaction list
// for that year. Pure: no I/O, no hidden state, same inputs always
// yield the same summary. The caller's year filtering is trusted; the
// engine has no year-crossing safeguard.
//
// A single real payment may be recorded twice, once as a PAYMENT
// transaction and once by marking an installment paid, because both
// workflows exist for the same real-world action. totalPaid therefore
// takes max(paidFromTransactions, paidFromInstallments) rather than
// their sum. Conservative: never overstates what has been paid, can
// understate when a family genuinely uses both paths for different
// amounts.
func ComputeYearFinancials(base BaseFees, transactions []Transaction) (YearSummary, error) {
	for _, tx := range transactions {
		if tx.Amount.IsNegative() {
			return YearSummary{}, fmt.Errorf(
				"finance: transaction %s has negative amount %s: %w",
				tx.ID, tx.Amount, shared.ErrReconciliationInput)
		}
	}

	paidFromTransactions := sumByType(transactions, TransactionPayment)

	paidFromInstallments := decimal.Zero
	for _, inst := range base.Installments {
		if inst.Paid {
			paidFromInstallments = paidFromInstallments.Add(inst.Amount)
		}
	}

	otherExpenses := decimal.Zero
	for _, exp := range base.OtherExpenses {
		otherExpenses = otherExpenses.Add(exp.TotalPrice)
	}

	totalPaid := base.AdvancePayment.Add(decimal.Max(paidFromTransactions, paidFromInstallments))
	totalAdditionalFees := sumByType(transactions, TransactionAdditionalFee)
	totalDiscounts := sumByType(transactions, TransactionDiscount).Add(sumByType(transactions, TransactionPenalty))
	totalRefunds := sumByType(transactions, TransactionRefund)

	netDue := base.TotalAmount.
		Add(totalAdditionalFees).
		Sub(totalPaid).
		Sub(totalDiscounts).
		Sub(totalRefunds)

	return YearSummary{
		StudentID:            base.StudentID,
		YearKey:              base.YearKey,
		TotalStudyExpenses:   base.TotalAmount,
		OtherExpensesTotal:   otherExpenses,
		AdvancePayment:       base.AdvancePayment,
		PaidFromTransactions: paidFromTransactions,
		PaidFromInstallments: paidFromInstallments,
		TotalPaid:            totalPaid,
		TotalAdditionalFees:  totalAdditionalFees,
		TotalDiscounts:       totalDiscounts,
		TotalRefunds:         totalRefunds,
		NetDue:               netDue,
		Credit:               netDue.IsNegative(),
	}, nil
}

func sumByType(transactions []Transaction, typ TransactionType) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range transactions {
		if tx.Type == typ {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

// ValidateSchedule checks the setup-time installment invariants:
// unique 1-based sequence numbers and due dates non-decreasing by
// sequence. Violations are setup errors, not runtime-correctable.
func ValidateSchedule(installments []Installment) error {
	seen := make(map[int]bool, len(installments))
	for i, inst := range installments {
		if inst.SequenceNumber < 1 {
			return fmt.Errorf("finance: installment %d: sequence must be 1-based: %w", i, shared.ErrReconciliationInput)
		}
		if seen[inst.SequenceNumber] {
			return fmt.Errorf("finance: duplicate installment sequence %d: %w", inst.SequenceNumber, shared.ErrReconciliationInput)
		}
		seen[inst.SequenceNumber] = true
		if inst.Amount.IsNegative() {
			return fmt.Errorf("finance: installment %d has negative amount: %w", inst.SequenceNumber, shared.ErrReconciliationInput)
		}
	}
	ordered := make([]Installment, len(installments))
	copy(ordered, installments)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].SequenceNumber < ordered[j].SequenceNumber
	})
	for i := 1; i < len(ordered); i++ {
		if ordered[i].DueDate.Before(ordered[i-1].DueDate) {
			return fmt.Errorf("finance: installment %d due before installment %d: %w",
				ordered[i].SequenceNumber, ordered[i-1].SequenceNumber, shared.ErrReconciliationInput)
		}
	}
	return nil
}

package jobs

import (
	"context"

	"github.com/registra-sms/registra/internal/finance"
)

// PaymentNotifier adapts the Asynq client to the ledger's Notifier port.
type PaymentNotifier struct {
	client *Client
}

// NewPaymentNotifier constructs a PaymentNotifier.
func NewPaymentNotifier(client *Client) *PaymentNotifier {
	return &PaymentNotifier{client: client}
}

// PaymentRecorded enqueues a receipt notification for a committed payment.
func (n *PaymentNotifier) PaymentRecorded(ctx context.Context, event finance.PaymentEvent) error {
	_, err := n.client.EnqueuePaymentReceipt(ctx, PaymentReceiptPayload{
		TransactionID: event.TransactionID.String(),
		StudentID:     event.StudentID.String(),
		YearKey:       event.YearKey,
		Amount:        event.Amount.StringFixed(2),
		Method:        event.Method,
		PayerName:     event.PayerName,
		Date:          event.Date,
	})
	return err
}

// Package jobs carries the background notification pipeline. Receipt
// delivery is fire-and-forget from the ledger's point of view: a
// failed or slow notification never rolls back a committed payment.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypePaymentReceipt is the task type for payment receipt notifications.
	TaskTypePaymentReceipt = "notify:payment_receipt"
)

// PaymentReceiptPayload describes a committed payment to notify about.
type PaymentReceiptPayload struct {
	TransactionID string    `json:"transaction_id"`
	StudentID     string    `json:"student_id"`
	YearKey       string    `json:"year_key"`
	Amount        string    `json:"amount"`
	Method        string    `json:"method"`
	PayerName     string    `json:"payer_name"`
	Date          time.Time `json:"date"`
}

// NewPaymentReceiptTask constructs an Asynq task.
func NewPaymentReceiptTask(payload PaymentReceiptPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePaymentReceipt, data), nil
}

// HandlePaymentReceiptTask processes TaskTypePaymentReceipt tasks.
func HandlePaymentReceiptTask(ctx context.Context, t *asynq.Task) error {
	var payload PaymentReceiptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	printer := message.NewPrinter(language.English)
	body := printer.Sprintf("Payment of %s received for student %s (%s) via %s on %s.",
		payload.Amount, payload.StudentID, payload.YearKey, payload.Method,
		payload.Date.Format("2 January 2006"))
	// Placeholder: hand off to SMTP/Mailpit once the gateway is provisioned.
	slog.Default().Info("payment receipt notification",
		slog.String("transaction_id", payload.TransactionID),
		slog.String("body", body))
	return nil
}

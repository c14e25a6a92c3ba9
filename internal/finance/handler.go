package finance

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/registra-sms/registra/internal/platform/httpx"
	"github.com/registra-sms/registra/internal/shared"
)

// Handler serves the ledger endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	validate    *validator.Validate
}

// NewHandler builds a Handler. The idempotency store may be nil, which
// disables duplicate-submission protection.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idempotency: idempotency, validate: validator.New()}
}

// MountRoutes registers ledger endpoints on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/students/{studentID}/finance/{yearKey}/summary", h.handleSummary)
	r.Get("/students/{studentID}/finance/{yearKey}/transactions", h.handleListTransactions)
	r.Post("/students/{studentID}/finance/{yearKey}/transactions", h.handleRecordTransaction)
	r.Post("/students/{studentID}/finance/{yearKey}/base-fees", h.handleSetupBaseFees)
	r.Post("/students/{studentID}/finance/{yearKey}/installments/{seq}/paid", h.handleMarkInstallment)
	r.Post("/refunds", h.handleCreateRefund)
	r.Post("/refunds/{refundID}/review", h.handleReviewRefund)
	r.Post("/refunds/{refundID}/finalize", h.handleFinalizeRefund)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Student ID", err.Error())
		return
	}
	summary, err := h.service.YearSummary(r.Context(), studentID, chi.URLParam(r, "yearKey"))
	if err != nil {
		h.logger.Error("year summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

type transactionView struct {
	ID            uuid.UUID       `json:"id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PayerName     string          `json:"payer_name,omitempty"`
	Seq           int64           `json:"seq"`
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Student ID", err.Error())
		return
	}
	txs, err := h.service.Transactions(r.Context(), studentID, chi.URLParam(r, "yearKey"))
	if err != nil {
		h.logger.Error("list transactions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, transactionView{
			ID:            tx.ID,
			Type:          tx.Type,
			Amount:        tx.Amount,
			Date:          tx.Date,
			Description:   tx.Description,
			PaymentMethod: tx.PaymentMethod,
			PayerName:     tx.PayerName,
			Seq:           tx.Seq,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": views})
}

type recordTransactionRequest struct {
	Type          string          `json:"type" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	Date          *time.Time      `json:"date"`
	Description   string          `json:"description" validate:"max=500"`
	PaymentMethod string          `json:"payment_method" validate:"max=50"`
	PayerName     string          `json:"payer_name" validate:"max=120"`
	PayerPhone    string          `json:"payer_phone" validate:"max=30"`
}

func (h *Handler) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Student ID", err.Error())
		return
	}
	var req recordTransactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	txType, ok := ParseTransactionType(req.Type)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown transaction type "+req.Type)
		return
	}
	input := TransactionInput{
		StudentID:     studentID,
		YearKey:       chi.URLParam(r, "yearKey"),
		Type:          txType,
		Amount:        req.Amount,
		Description:   req.Description,
		PaymentMethod: req.PaymentMethod,
		PayerName:     req.PayerName,
		PayerPhone:    req.PayerPhone,
	}
	if req.Date != nil {
		input.Date = *req.Date
	}
	// Appends are irreversible; a client retry with the same key must
	// not create a second log entry.
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), idemKey, "finance.transactions"); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	tx, err := h.service.RecordTransaction(r.Context(), input)
	if err != nil {
		if idemKey != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), idemKey); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.logger.Error("record transaction", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"transaction_id": tx.ID, "seq": tx.Seq})
}

type setupInstallmentRequest struct {
	SequenceNumber int             `json:"sequence_number" validate:"required,min=1"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	DueDate        time.Time       `json:"due_date" validate:"required"`
}

type setupBaseFeesRequest struct {
	TotalAmount    decimal.Decimal           `json:"total_amount" validate:"required"`
	AdvancePayment decimal.Decimal           `json:"advance_payment"`
	Installments   []setupInstallmentRequest `json:"installments" validate:"dive"`
	OtherExpenses  []struct {
		Type       string          `json:"type" validate:"required,max=80"`
		TotalPrice decimal.Decimal `json:"total_price" validate:"required"`
	} `json:"other_expenses" validate:"dive"`
}

func (h *Handler) handleSetupBaseFees(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Student ID", err.Error())
		return
	}
	var req setupBaseFeesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := SetupInput{
		StudentID:      studentID,
		YearKey:        chi.URLParam(r, "yearKey"),
		TotalAmount:    req.TotalAmount,
		AdvancePayment: req.AdvancePayment,
	}
	for _, inst := range req.Installments {
		input.Installments = append(input.Installments, Installment{
			StudentID:      studentID,
			YearKey:        input.YearKey,
			SequenceNumber: inst.SequenceNumber,
			Amount:         inst.Amount,
			DueDate:        inst.DueDate,
		})
	}
	for _, exp := range req.OtherExpenses {
		input.OtherExpenses = append(input.OtherExpenses, OtherExpense{Type: exp.Type, TotalPrice: exp.TotalPrice})
	}
	if err := h.service.SetupBaseFees(r.Context(), input); err != nil {
		h.logger.Error("setup base fees", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"status": "created"})
}

type markInstallmentRequest struct {
	Paid bool `json:"paid"`
}

func (h *Handler) handleMarkInstallment(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Student ID", err.Error())
		return
	}
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil || seq < 1 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Sequence Number", chi.URLParam(r, "seq"))
		return
	}
	var req markInstallmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	sess := shared.SessionFromContext(r.Context())
	result, err := h.service.MarkInstallment(r.Context(), sess, studentID, chi.URLParam(r, "yearKey"), seq, req.Paid)
	if err != nil {
		h.logger.Error("mark installment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type createRefundRequest struct {
	StudentID  uuid.UUID       `json:"student_id" validate:"required"`
	YearKey    string          `json:"year_key" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"required"`
	Deductions []struct {
		Reason string          `json:"reason" validate:"required,max=200"`
		Amount decimal.Decimal `json:"amount" validate:"required"`
	} `json:"deductions" validate:"dive"`
}

func (h *Handler) handleCreateRefund(w http.ResponseWriter, r *http.Request) {
	var req createRefundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := RefundInput{StudentID: req.StudentID, YearKey: req.YearKey, Amount: req.Amount}
	for _, d := range req.Deductions {
		input.Deductions = append(input.Deductions, RefundDeduction{Reason: d.Reason, Amount: d.Amount})
	}
	refund, err := h.service.CreateRefund(r.Context(), input)
	if err != nil {
		h.logger.Error("create refund", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"refund_id": refund.ID, "net_amount": refund.NetAmount()})
}

type reviewRefundRequest struct {
	Approve bool `json:"approve"`
}

func (h *Handler) handleReviewRefund(w http.ResponseWriter, r *http.Request) {
	refundID, err := uuid.Parse(chi.URLParam(r, "refundID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Refund ID", err.Error())
		return
	}
	var req reviewRefundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.service.ReviewRefund(r.Context(), refundID, req.Approve); err != nil {
		h.logger.Error("review refund", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleFinalizeRefund(w http.ResponseWriter, r *http.Request) {
	refundID, err := uuid.Parse(chi.URLParam(r, "refundID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Refund ID", err.Error())
		return
	}
	tx, err := h.service.FinalizeRefund(r.Context(), refundID)
	if err != nil {
		h.logger.Error("finalize refund", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transaction_id": tx.ID, "amount": tx.Amount})
}

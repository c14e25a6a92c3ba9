package report

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/registra-sms/registra/internal/finance"
)

// StatementSource provides the financial figures a statement renders.
type StatementSource interface {
	YearSummary(ctx context.Context, studentID uuid.UUID, yearKey string) (*finance.YearSummary, error)
	Transactions(ctx context.Context, studentID uuid.UUID, yearKey string) ([]finance.Transaction, error)
}

// Handler renders student fee statements as PDF via Gotenberg.
type Handler struct {
	client  *Client
	source  StatementSource
	logger  *slog.Logger
	printer *message.Printer
}

// NewHandler creates a report handler.
func NewHandler(client *Client, source StatementSource, logger *slog.Logger) *Handler {
	return &Handler{
		client:  client,
		source:  source,
		logger:  logger,
		printer: message.NewPrinter(language.English),
	}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
	r.Get("/students/{studentID}/years/{yearKey}/statement.pdf", h.statement)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentID"))
	if err != nil {
		http.Error(w, "invalid student id", http.StatusBadRequest)
		return
	}
	yearKey := chi.URLParam(r, "yearKey")

	summary, err := h.source.YearSummary(r.Context(), studentID, yearKey)
	if err != nil {
		h.logger.Error("load statement summary", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	txs, err := h.source.Transactions(r.Context(), studentID, yearKey)
	if err != nil {
		h.logger.Error("load statement transactions", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	html, err := h.renderHTML(summary, txs)
	if err != nil {
		h.logger.Error("render statement html", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	pdf, err := h.client.RenderHTML(r.Context(), html)
	if err != nil {
		h.logger.Error("render statement pdf", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename=statement.pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

type statementLine struct {
	Date        string
	Type        string
	Description string
	Amount      string
}

type statementView struct {
	StudentID   string
	YearKey     string
	GeneratedAt string
	TotalFees   string
	Additional  string
	Discounts   string
	Paid        string
	Refunds     string
	NetDue      string
	Credit      bool
	Lines       []statementLine
}

func (h *Handler) renderHTML(summary *finance.YearSummary, txs []finance.Transaction) (string, error) {
	view := statementView{
		StudentID:   summary.StudentID.String(),
		YearKey:     summary.YearKey,
		GeneratedAt: time.Now().Format(time.RFC1123),
		TotalFees:   h.money(summary.TotalStudyExpenses),
		Additional:  h.money(summary.TotalAdditionalFees),
		Discounts:   h.money(summary.TotalDiscounts),
		Paid:        h.money(summary.TotalPaid),
		Refunds:     h.money(summary.TotalRefunds),
		NetDue:      h.money(summary.NetDue),
		Credit:      summary.Credit,
	}
	for _, tx := range txs {
		view.Lines = append(view.Lines, statementLine{
			Date:        tx.Date.Format("2006-01-02"),
			Type:        string(tx.Type),
			Description: tx.Description,
			Amount:      h.money(tx.Amount),
		})
	}
	var buf bytes.Buffer
	if err := statementTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (h *Handler) money(d decimal.Decimal) string {
	return h.printer.Sprintf("%.2f", d.InexactFloat64())
}

var statementTemplate = template.Must(template.New("statement").Parse(`<html>
<head><title>Fee Statement {{.YearKey}}</title></head>
<body>
<h1>Fee Statement</h1>
<p>Student {{.StudentID}} &mdash; year {{.YearKey}}</p>
<p>Generated at {{.GeneratedAt}}</p>
<table border="1" cellspacing="0" cellpadding="4">
<tr><td>Total study expenses</td><td>{{.TotalFees}}</td></tr>
<tr><td>Additional fees</td><td>{{.Additional}}</td></tr>
<tr><td>Discounts and penalties</td><td>{{.Discounts}}</td></tr>
<tr><td>Total paid</td><td>{{.Paid}}</td></tr>
<tr><td>Refunds</td><td>{{.Refunds}}</td></tr>
<tr><td><strong>{{if .Credit}}Credit balance{{else}}Net due{{end}}</strong></td><td><strong>{{.NetDue}}</strong></td></tr>
</table>
{{if .Lines}}
<h2>Transactions</h2>
<table border="1" cellspacing="0" cellpadding="4">
<tr><th>Date</th><th>Type</th><th>Description</th><th>Amount</th></tr>
{{range .Lines}}<tr><td>{{.Date}}</td><td>{{.Type}}</td><td>{{.Description}}</td><td>{{.Amount}}</td></tr>
{{end}}</table>
{{end}}
</body></html>`))

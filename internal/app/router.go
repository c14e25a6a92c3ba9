package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/registra-sms/registra/internal/audit/http"
	"github.com/registra-sms/registra/internal/finance"
	"github.com/registra-sms/registra/internal/mutation"
	"github.com/registra-sms/registra/internal/observability"
	"github.com/registra-sms/registra/internal/shared"
	"github.com/registra-sms/registra/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Metrics         *observability.Metrics
	SessionManager  *shared.SessionManager
	MutationHandler *mutation.Handler
	FinanceHandler  *finance.Handler
	AuditHandler    *audithttp.Handler
	ReportHandler   *report.Handler
}

// NewRouter constructs the chi.Router with Registra defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.Metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	sessions := NewSessionHandler(params.Logger, params.SessionManager)

	r.Route("/api/v1", func(api chi.Router) {
		sessions.MountRoutes(api)
		params.MutationHandler.MountRoutes(api)
		params.FinanceHandler.MountRoutes(api)
		params.AuditHandler.MountRoutes(api)
		if params.ReportHandler != nil {
			api.Route("/reports", params.ReportHandler.MountRoutes)
		}
	})

	return r
}

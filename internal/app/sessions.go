package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/registra-sms/registra/internal/platform/httpx"
	"github.com/registra-sms/registra/internal/shared"
)

// SessionHandler opens editing sessions. Each session owns its own
// undo stack; the UI keeps the returned ID for the whole editing visit.
type SessionHandler struct {
	logger   *slog.Logger
	manager  *shared.SessionManager
	validate *validator.Validate
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(logger *slog.Logger, manager *shared.SessionManager) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{logger: logger, manager: manager, validate: validator.New()}
}

// MountRoutes registers session endpoints.
func (h *SessionHandler) MountRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreate)
}

type createSessionRequest struct {
	Actor string `json:"actor" validate:"required,max=120"`
}

func (h *SessionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sess, err := h.manager.Create(r.Context(), req.Actor)
	if err != nil {
		h.logger.Error("create editing session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sess)
}

package mutation

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/registra-sms/registra/internal/platform/httpx"
	"github.com/registra-sms/registra/internal/shared"
	"github.com/registra-sms/registra/internal/student"
)

// Handler serves section reads, audited section writes, and undo.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	store       SectionStore
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, coordinator *Coordinator, store SectionStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, coordinator: coordinator, store: store}
}

// MountRoutes registers section and undo endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/students/{studentID}/sections/{section}", h.handleReadSection)
	r.Put("/students/{studentID}/sections/{section}", h.handleApply)
	r.Post("/undo", h.handleUndo)
}

func (h *Handler) handleReadSection(w http.ResponseWriter, r *http.Request) {
	studentID, section, ok := h.parseTarget(w, r)
	if !ok {
		return
	}
	payload, err := h.store.ReadSection(r.Context(), studentID, section)
	if err != nil {
		h.logger.Error("read section", slog.String("section", string(section)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"section": section, "value": json.RawMessage(payload)})
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	studentID, section, ok := h.parseTarget(w, r)
	if !ok {
		return
	}
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if len(body.Value) == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "value is required")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	result, err := h.coordinator.Apply(r.Context(), sess, studentID, section, body.Value)
	if err != nil {
		h.logger.Error("apply section mutation",
			slog.String("section", string(section)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleUndo(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	result, err := h.coordinator.Undo(r.Context(), sess)
	if err != nil {
		h.logger.Error("undo", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) parseTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, student.Section, bool) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Student ID", err.Error())
		return uuid.Nil, "", false
	}
	section, err := student.ParseSection(chi.URLParam(r, "section"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Unknown Section", err.Error())
		return uuid.Nil, "", false
	}
	return studentID, section, true
}

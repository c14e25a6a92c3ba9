// Package audithttp serves the change-history timeline.
package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/registra-sms/registra/internal/audit"
	"github.com/registra-sms/registra/internal/platform/httpx"
	"github.com/registra-sms/registra/internal/student"
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.TimelineResult, error)
}

// Handler serves audit timeline requests.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

type entryView struct {
	ID         uuid.UUID        `json:"id"`
	Section    student.Section  `json:"section"`
	Actor      string           `json:"actor"`
	State      audit.EntryState `json:"state"`
	RecordedAt time.Time        `json:"recorded_at"`
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Student ID", err.Error())
		return
	}
	filters := audit.TimelineFilters{StudentID: studentID}
	q := r.URL.Query()
	if sec := q.Get("section"); sec != "" {
		section, err := student.ParseSection(sec)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Unknown Section", err.Error())
			return
		}
		filters.Section = section
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filters.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filters.To = t
		}
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	rows := make([]entryView, 0, len(result.Rows))
	for _, entry := range result.Rows {
		rows = append(rows, entryView{
			ID:         entry.ID,
			Section:    entry.Section,
			Actor:      entry.Actor,
			State:      entry.State,
			RecordedAt: entry.RecordedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows, "paging": result.Paging})
}

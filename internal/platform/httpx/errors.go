// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/registra-sms/registra/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrUndoStackEmpty):
		Problem(w, http.StatusConflict, "Undo Stack Empty", err.Error())
	case errors.Is(err, shared.ErrDuplicateBaseFees):
		Problem(w, http.StatusConflict, "Base Fees Already Set Up", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrReconciliationInput):
		Problem(w, http.StatusBadRequest, "Invalid Financial Input", err.Error())
	case errors.Is(err, shared.ErrSessionRequired):
		Problem(w, http.StatusBadRequest, "Editing Session Required", err.Error())
	case errors.Is(err, shared.ErrSessionBusy):
		Problem(w, http.StatusConflict, "Editing Session Busy", err.Error())
	case errors.Is(err, shared.ErrReadFailed):
		Problem(w, http.StatusBadGateway, "Section Read Failed", err.Error())
	case errors.Is(err, shared.ErrAuditWriteFailed):
		Problem(w, http.StatusBadGateway, "Audit Write Failed", err.Error())
	case errors.Is(err, shared.ErrMutationFailed):
		// Audit entry exists but the write did not land. Callers must warn,
		// not retry blindly.
		Problem(w, http.StatusInternalServerError, "State May Be Inconsistent",
			"the change was audited but not applied; refresh and verify before retrying")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

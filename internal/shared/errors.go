package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrReadFailed indicates the pre-mutation read of a section failed; nothing was written.
	ErrReadFailed = errors.New("section read failed")
	// ErrAuditWriteFailed indicates the audit entry could not be persisted; the mutation was not attempted.
	ErrAuditWriteFailed = errors.New("audit write failed")
	// ErrMutationFailed indicates the mutation failed after its audit entry was written.
	// Stored state and the audit ledger may disagree until the caller verifies.
	ErrMutationFailed = errors.New("mutation failed after audit write")
	// ErrReconciliationInput indicates invalid data reached the reconciliation engine.
	ErrReconciliationInput = errors.New("reconciliation input invalid")
	// ErrUndoStackEmpty indicates there is nothing left to revert for the session.
	ErrUndoStackEmpty = errors.New("undo stack empty")
	// ErrDuplicateBaseFees indicates base fees already exist for the student-year.
	ErrDuplicateBaseFees = errors.New("base fees already set up for year")
	// ErrSessionRequired indicates a mutating request arrived without an editing session.
	ErrSessionRequired = errors.New("editing session required")
	// ErrSessionBusy indicates another request holds the session's writer lock.
	ErrSessionBusy = errors.New("editing session busy")
)

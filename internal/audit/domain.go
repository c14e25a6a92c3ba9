// Package audit implements the change-tracking ledger behind undo.
//
// Every audited mutation pushes a before/after snapshot pair onto a
// per-session stack. The stack is persisted: position is explicit data
// (a per-session sequence plus a state column), never an in-memory
// structure, so a crashed process loses nothing.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/registra-sms/registra/internal/student"
)

// EntryState tracks where an entry sits in its session's stack.
type EntryState string

const (
	// StateActive marks the top of the stack, the only revertible entry.
	StateActive EntryState = "ACTIVE"
	// StateSuperseded marks entries below the top. They become active
	// again when everything above them is undone.
	StateSuperseded EntryState = "SUPERSEDED"
	// StateReverted marks entries consumed by undo. Terminal.
	StateReverted EntryState = "REVERTED"
)

// Entry is one recorded mutation: the section it touched and the
// section's serialized value before and after.
type Entry struct {
	ID         uuid.UUID
	SessionID  string
	StudentID  uuid.UUID
	Section    student.Section
	Before     json.RawMessage
	After      json.RawMessage
	Actor      string
	Seq        int64
	State      EntryState
	RecordedAt time.Time
}

// RecordInput carries everything needed to push a new entry.
type RecordInput struct {
	SessionID string
	StudentID uuid.UUID
	Section   student.Section
	Before    json.RawMessage
	After     json.RawMessage
	Actor     string
}

// TimelineFilters narrows the history listing.
type TimelineFilters struct {
	StudentID uuid.UUID
	Section   student.Section
	From      time.Time
	To        time.Time
	Page      int
	PageSize  int
}

// PagingInfo carries pagination metadata.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// TimelineResult bundles rows with paging info.
type TimelineResult struct {
	Rows   []Entry
	Paging PagingInfo
}

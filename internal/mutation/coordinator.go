// Package mutation orchestrates audited writes to student sections.
//
// The ordering contract is fixed: read the current value, durably
// record the audit entry, then persist the new value. An audit failure
// stops the write (fail-closed); a write failure after a successful
// audit is the one inconsistency window and is reported as its own
// error so callers can warn loudly instead of desyncing silently.
package mutation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/registra-sms/registra/internal/audit"
	"github.com/registra-sms/registra/internal/shared"
	"github.com/registra-sms/registra/internal/student"
)

// SectionStore is the storage collaborator for section reads/writes.
type SectionStore interface {
	ReadSection(ctx context.Context, studentID uuid.UUID, section student.Section) (json.RawMessage, error)
	WriteSection(ctx context.Context, studentID uuid.UUID, section student.Section, payload json.RawMessage) error
}

// Recorder is the audit ledger collaborator.
type Recorder interface {
	Record(ctx context.Context, input audit.RecordInput) (*audit.Entry, error)
	UndoLast(ctx context.Context, sessionID string) (*audit.Entry, error)
}

// Refresher recomputes aggregates that depend on a section after it
// changes. Refresh failures never roll back a committed mutation.
type Refresher interface {
	Refresh(ctx context.Context, studentID uuid.UUID, section student.Section) error
}

// Locker serializes mutations within one editing session.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (func(), error)
}

// CommitResult reports a successful section mutation.
type CommitResult struct {
	AuditEntryID uuid.UUID       `json:"audit_entry_id"`
	Section      student.Section `json:"section"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// UndoResult reports which section a successful undo reverted.
type UndoResult struct {
	AuditEntryID    uuid.UUID       `json:"audit_entry_id"`
	StudentID       uuid.UUID       `json:"student_id"`
	RevertedSection student.Section `json:"reverted_section"`
}

// Coordinator wires the audit ledger, the section store, and the
// derived-view refreshers into the commit sequence.
type Coordinator struct {
	store      SectionStore
	recorder   Recorder
	locker     Locker
	refreshers []Refresher
	logger     *slog.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(store SectionStore, recorder Recorder, locker Locker, logger *slog.Logger, refreshers ...Refresher) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:      store,
		recorder:   recorder,
		locker:     locker,
		refreshers: refreshers,
		logger:     logger,
	}
}

// AddRefresher registers a dependent-aggregate refresher. Used at
// wiring time when the refresher itself needs the coordinator.
func (c *Coordinator) AddRefresher(r Refresher) {
	c.refreshers = append(c.refreshers, r)
}

// Apply runs the audited mutation sequence for one section.
func (c *Coordinator) Apply(ctx context.Context, sess *shared.EditingSession, studentID uuid.UUID, section student.Section, newValue json.RawMessage) (*CommitResult, error) {
	if sess == nil {
		return nil, shared.ErrSessionRequired
	}
	if _, err := student.DecodeSnapshot(section, newValue); err != nil {
		return nil, err
	}
	release, err := c.locker.Acquire(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	before, err := c.store.ReadSection(ctx, studentID, section)
	if err != nil {
		return nil, fmt.Errorf("mutation: %s: %v: %w", section, err, shared.ErrReadFailed)
	}

	entry, err := c.recorder.Record(ctx, audit.RecordInput{
		SessionID: sess.ID,
		StudentID: studentID,
		Section:   section,
		Before:    before,
		After:     newValue,
		Actor:     sess.Actor,
	})
	if err != nil {
		// Fail-closed: no audit entry means no mutation.
		return nil, err
	}

	if err := c.store.WriteSection(ctx, studentID, section, newValue); err != nil {
		// The audit entry exists but the write did not land. Report the
		// distinct error so the UI warns rather than showing a generic failure.
		return nil, fmt.Errorf("mutation: %s: %v: %w", section, err, shared.ErrMutationFailed)
	}

	c.refresh(ctx, studentID, section)
	return &CommitResult{
		AuditEntryID: entry.ID,
		Section:      section,
		RecordedAt:   entry.RecordedAt,
	}, nil
}

// Undo reverts the session's most recent change, whichever section it
// touched. Repeated calls walk further back; nothing replays forward.
func (c *Coordinator) Undo(ctx context.Context, sess *shared.EditingSession) (*UndoResult, error) {
	if sess == nil {
		return nil, shared.ErrSessionRequired
	}
	release, err := c.locker.Acquire(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	entry, err := c.recorder.UndoLast(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	if err := c.store.WriteSection(ctx, entry.StudentID, entry.Section, entry.Before); err != nil {
		return nil, fmt.Errorf("mutation: undo %s: %v: %w", entry.Section, err, shared.ErrMutationFailed)
	}

	c.refresh(ctx, entry.StudentID, entry.Section)
	return &UndoResult{
		AuditEntryID:    entry.ID,
		StudentID:       entry.StudentID,
		RevertedSection: entry.Section,
	}, nil
}

func (c *Coordinator) refresh(ctx context.Context, studentID uuid.UUID, section student.Section) {
	for _, r := range c.refreshers {
		if err := r.Refresh(ctx, studentID, section); err != nil {
			c.logger.Warn("refresh after mutation",
				slog.String("section", string(section)),
				slog.String("student_id", studentID.String()),
				slog.Any("error", err))
		}
	}
}

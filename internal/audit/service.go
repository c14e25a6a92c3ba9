package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/registra-sms/registra/internal/shared"
)

// Repository defines persistence for the undo ledger.
type Repository interface {
	// Push appends an entry as the new active top of its session's
	// stack, superseding the previous top, all in one transaction.
	Push(ctx context.Context, input RecordInput) (*Entry, error)
	// PopActive marks the session's active entry reverted, promotes
	// the entry below it, and returns the popped entry.
	// Returns shared.ErrUndoStackEmpty when the stack has no active entry.
	PopActive(ctx context.Context, sessionID string) (*Entry, error)
	// Timeline lists entries for a student, newest first.
	Timeline(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error)
}

// Service coordinates the undo ledger.
type Service struct {
	repo Repository
}

// NewService constructs the audit service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record durably pushes a before/after pair. It must succeed before the
// mutation it describes is applied; callers treat any error here as
// fail-closed and do not mutate.
func (s *Service) Record(ctx context.Context, input RecordInput) (*Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured: %w", shared.ErrAuditWriteFailed)
	}
	if input.SessionID == "" {
		return nil, fmt.Errorf("audit: %w", shared.ErrSessionRequired)
	}
	if input.Section == "" || input.Before == nil || input.After == nil {
		return nil, fmt.Errorf("audit: record requires section and both snapshots: %w", shared.ErrAuditWriteFailed)
	}
	entry, err := s.repo.Push(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("audit: push entry: %v: %w", err, shared.ErrAuditWriteFailed)
	}
	return entry, nil
}

// UndoLast pops the most recent entry for the session. An empty stack
// is a normal outcome, reported as shared.ErrUndoStackEmpty.
// No redo entry is pushed; undo walks backwards only.
func (s *Service) UndoLast(ctx context.Context, sessionID string) (*Entry, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("audit: %w", shared.ErrSessionRequired)
	}
	entry, err := s.repo.PopActive(ctx, sessionID)
	if err != nil {
		if errors.Is(err, shared.ErrUndoStackEmpty) {
			return nil, err
		}
		return nil, fmt.Errorf("audit: pop entry: %w", err)
	}
	return entry, nil
}

// Timeline returns a page of a student's change history, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (TimelineResult, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Timeline(ctx, filters, pageSize+1, offset)
	if err != nil {
		return TimelineResult{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return TimelineResult{Rows: rows, Paging: paging}, nil
}

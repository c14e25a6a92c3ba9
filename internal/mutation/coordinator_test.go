package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/registra-sms/registra/internal/audit"
	"github.com/registra-sms/registra/internal/shared"
	"github.com/registra-sms/registra/internal/student"
)

type memorySectionStore struct {
	values   map[string]json.RawMessage
	readErr  error
	writeErr error
	writeLog []student.Section
}

func newMemorySectionStore() *memorySectionStore {
	return &memorySectionStore{values: make(map[string]json.RawMessage)}
}

func (s *memorySectionStore) key(id uuid.UUID, sec student.Section) string {
	return id.String() + "/" + string(sec)
}

func (s *memorySectionStore) ReadSection(ctx context.Context, studentID uuid.UUID, section student.Section) (json.RawMessage, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if v, ok := s.values[s.key(studentID, section)]; ok {
		return v, nil
	}
	return json.RawMessage(`{}`), nil
}

func (s *memorySectionStore) WriteSection(ctx context.Context, studentID uuid.UUID, section student.Section, payload json.RawMessage) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.values[s.key(studentID, section)] = payload
	s.writeLog = append(s.writeLog, section)
	return nil
}

type stackRecorder struct {
	stack     []*audit.Entry
	recordErr error
}

func (r *stackRecorder) Record(ctx context.Context, input audit.RecordInput) (*audit.Entry, error) {
	if r.recordErr != nil {
		return nil, fmt.Errorf("record: %v: %w", r.recordErr, shared.ErrAuditWriteFailed)
	}
	entry := &audit.Entry{
		ID:         uuid.New(),
		SessionID:  input.SessionID,
		StudentID:  input.StudentID,
		Section:    input.Section,
		Before:     input.Before,
		After:      input.After,
		Actor:      input.Actor,
		Seq:        int64(len(r.stack) + 1),
		State:      audit.StateActive,
		RecordedAt: time.Now().UTC(),
	}
	r.stack = append(r.stack, entry)
	return entry, nil
}

func (r *stackRecorder) UndoLast(ctx context.Context, sessionID string) (*audit.Entry, error) {
	for i := len(r.stack) - 1; i >= 0; i-- {
		if r.stack[i].SessionID == sessionID && r.stack[i].State == audit.StateActive {
			r.stack[i].State = audit.StateReverted
			return r.stack[i], nil
		}
	}
	return nil, shared.ErrUndoStackEmpty
}

type noopLocker struct {
	busy bool
}

func (l *noopLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	if l.busy {
		return nil, shared.ErrSessionBusy
	}
	return func() {}, nil
}

type countingRefresher struct {
	calls []student.Section
}

func (r *countingRefresher) Refresh(ctx context.Context, studentID uuid.UUID, section student.Section) error {
	r.calls = append(r.calls, section)
	return nil
}

func testSession() *shared.EditingSession {
	return &shared.EditingSession{ID: "sess-1", Actor: "clerk", StartedAt: time.Now().UTC()}
}

func TestApplyCommitsInOrder(t *testing.T) {
	store := newMemorySectionStore()
	recorder := &stackRecorder{}
	refresher := &countingRefresher{}
	c := NewCoordinator(store, recorder, &noopLocker{}, nil, refresher)
	studentID := uuid.New()

	newValue := json.RawMessage(`{"first_name":"Amina","last_name":"Nakato"}`)
	result, err := c.Apply(context.Background(), testSession(), studentID, student.SectionPersonal, newValue)
	require.NoError(t, err)
	require.Equal(t, student.SectionPersonal, result.Section)

	require.Len(t, recorder.stack, 1)
	require.JSONEq(t, `{}`, string(recorder.stack[0].Before))
	require.JSONEq(t, string(newValue), string(recorder.stack[0].After))

	stored, err := store.ReadSection(context.Background(), studentID, student.SectionPersonal)
	require.NoError(t, err)
	require.JSONEq(t, string(newValue), string(stored))
	require.Equal(t, []student.Section{student.SectionPersonal}, refresher.calls)
}

func TestApplyRequiresSession(t *testing.T) {
	c := NewCoordinator(newMemorySectionStore(), &stackRecorder{}, &noopLocker{}, nil)
	_, err := c.Apply(context.Background(), nil, uuid.New(), student.SectionPersonal, json.RawMessage(`{}`))
	require.ErrorIs(t, err, shared.ErrSessionRequired)
}

func TestApplyRejectsMalformedSnapshot(t *testing.T) {
	recorder := &stackRecorder{}
	c := NewCoordinator(newMemorySectionStore(), recorder, &noopLocker{}, nil)
	_, err := c.Apply(context.Background(), testSession(), uuid.New(), student.SectionPersonal, json.RawMessage(`{"no_such_field":1}`))
	require.Error(t, err)
	require.Empty(t, recorder.stack)
}

func TestApplyReadFailureAbortsBeforeAudit(t *testing.T) {
	store := newMemorySectionStore()
	store.readErr = errors.New("connection refused")
	recorder := &stackRecorder{}
	c := NewCoordinator(store, recorder, &noopLocker{}, nil)

	_, err := c.Apply(context.Background(), testSession(), uuid.New(), student.SectionPersonal, json.RawMessage(`{}`))
	require.ErrorIs(t, err, shared.ErrReadFailed)
	require.Empty(t, recorder.stack)
	require.Empty(t, store.writeLog)
}

func TestApplyFailsClosedOnAuditError(t *testing.T) {
	store := newMemorySectionStore()
	studentID := uuid.New()
	original := json.RawMessage(`{"first_name":"Before"}`)
	store.values[store.key(studentID, student.SectionPersonal)] = original

	recorder := &stackRecorder{recordErr: errors.New("audit db down")}
	c := NewCoordinator(store, recorder, &noopLocker{}, nil)

	_, err := c.Apply(context.Background(), testSession(), studentID, student.SectionPersonal, json.RawMessage(`{"first_name":"After"}`))
	require.ErrorIs(t, err, shared.ErrAuditWriteFailed)

	// The target section is provably unchanged.
	stored, readErr := store.ReadSection(context.Background(), studentID, student.SectionPersonal)
	require.NoError(t, readErr)
	require.JSONEq(t, string(original), string(stored))
	require.Empty(t, store.writeLog)
}

func TestApplySurfacesMutationFailedAfterAudit(t *testing.T) {
	store := newMemorySectionStore()
	store.writeErr = errors.New("write timeout")
	recorder := &stackRecorder{}
	c := NewCoordinator(store, recorder, &noopLocker{}, nil)

	_, err := c.Apply(context.Background(), testSession(), uuid.New(), student.SectionPersonal, json.RawMessage(`{}`))
	require.ErrorIs(t, err, shared.ErrMutationFailed)
	// The orphaned audit entry is the documented inconsistency window.
	require.Len(t, recorder.stack, 1)
}

func TestApplyPropagatesSessionBusy(t *testing.T) {
	c := NewCoordinator(newMemorySectionStore(), &stackRecorder{}, &noopLocker{busy: true}, nil)
	_, err := c.Apply(context.Background(), testSession(), uuid.New(), student.SectionPersonal, json.RawMessage(`{}`))
	require.ErrorIs(t, err, shared.ErrSessionBusy)
}

func TestUndoRevertsExactlyOneStepAtATime(t *testing.T) {
	store := newMemorySectionStore()
	recorder := &stackRecorder{}
	c := NewCoordinator(store, recorder, &noopLocker{}, nil)
	sess := testSession()
	studentID := uuid.New()

	mutations := []struct {
		section student.Section
		value   string
	}{
		{student.SectionPersonal, `{"first_name":"Amina"}`},
		{student.SectionGuardian, `{"full_name":"Okello"}`},
		{student.SectionAcademic, `{"year_key":"2025-2026","notes":"honor roll"}`},
	}
	for _, m := range mutations {
		_, err := c.Apply(context.Background(), sess, studentID, m.section, json.RawMessage(m.value))
		require.NoError(t, err)
	}

	for i := len(mutations) - 1; i >= 0; i-- {
		result, err := c.Undo(context.Background(), sess)
		require.NoError(t, err)
		require.Equal(t, mutations[i].section, result.RevertedSection)
		require.Equal(t, studentID, result.StudentID)
	}

	// All three sections are back to their pre-first-mutation state.
	for _, m := range mutations {
		stored, err := store.ReadSection(context.Background(), studentID, m.section)
		require.NoError(t, err)
		require.JSONEq(t, `{}`, string(stored))
	}

	_, err := c.Undo(context.Background(), sess)
	require.ErrorIs(t, err, shared.ErrUndoStackEmpty)
}

func TestUndoRequiresSession(t *testing.T) {
	c := NewCoordinator(newMemorySectionStore(), &stackRecorder{}, &noopLocker{}, nil)
	_, err := c.Undo(context.Background(), nil)
	require.ErrorIs(t, err, shared.ErrSessionRequired)
}

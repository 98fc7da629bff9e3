package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mentorlink/session-server/internal/errors"
	"github.com/mentorlink/session-server/internal/lifecycle"
	"github.com/mentorlink/session-server/internal/model"
	"github.com/mentorlink/session-server/internal/sse"
)

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindByParticipant(ctx context.Context, params model.ListSessionsParams) ([]model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindUnsettled(ctx context.Context, onOrBefore string, limit, offset int) ([]model.Session, error) {
	args := m.Called(ctx, onOrBefore, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Session), args.Error(1)
}

func (m *mockSessionRepo) FindCompletedByMentor(ctx context.Context, mentorID string) ([]model.Session, error) {
	args := m.Called(ctx, mentorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Session), args.Error(1)
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) Cancel(ctx context.Context, id string, from model.SessionStatus, params model.CancelSessionParams) (bool, error) {
	args := m.Called(ctx, id, from, params)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) MarkCompleted(ctx context.Context, id string, params model.CompleteSessionParams) (bool, error) {
	args := m.Called(ctx, id, params)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) CountByStatus(ctx context.Context, mentorID string) (map[model.SessionStatus]int, error) {
	args := m.Called(ctx, mentorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.SessionStatus]int), args.Error(1)
}

func (m *mockSessionRepo) AssignRoom(ctx context.Context, id, roomID string) (bool, error) {
	args := m.Called(ctx, id, roomID)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) UpdateMeetingStatus(ctx context.Context, id string, params model.UpdateMeetingParams) (bool, error) {
	args := m.Called(ctx, id, params)
	return args.Bool(0), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, sessionID string, event sse.Event) error {
	args := m.Called(ctx, sessionID, event)
	return args.Error(0)
}

type recordingObserver struct {
	calls []observation
}

type observation struct {
	id       string
	expired  bool
	persisted model.SessionStatus
}

func (o *recordingObserver) Observe(id string, detectedExpired bool, persisted model.SessionStatus) bool {
	o.calls = append(o.calls, observation{id, detectedExpired, persisted})
	return detectedExpired
}

// All sessions below are on 2025-03-10 at 09:00 UTC for 30 minutes.
func testSession(status model.SessionStatus) *model.Session {
	return &model.Session{
		ID:          "sess-1",
		MentorID:    "mentor-1",
		StudentID:   "student-1",
		Title:       "Career chat",
		SessionDate: "2025-03-10",
		SessionTime: "09:00:00",
		Duration:    30,
		Timezone:    "UTC",
		Status:      status,
	}
}

func clockAt(hour, min int) lifecycle.Clock {
	return lifecycle.FixedClock(time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC))
}

func newTestService(clock lifecycle.Clock) (*SessionService, *mockSessionRepo, *mockPublisher) {
	repo := new(mockSessionRepo)
	pub := new(mockPublisher)
	return NewSessionService(repo, pub, clock, time.UTC), repo, pub
}

func TestSessionService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes time and defaults to pending", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(8, 0))
		repo.On("Create", ctx, mock.MatchedBy(func(p model.CreateSessionParams) bool {
			return p.SessionDate == "2025-03-10" &&
				p.SessionTime == "14:30:00" &&
				p.Timezone == "UTC" &&
				p.Status == model.SessionStatusPending
		})).Return(&model.Session{
			ID:          "sess-new",
			MentorID:    "mentor-1",
			StudentID:   "student-1",
			SessionDate: "2025-03-10",
			SessionTime: "14:30:00",
			Duration:    45,
			Timezone:    "UTC",
			Status:      model.SessionStatusPending,
		}, nil)

		v, err := svc.Create(ctx, CreateSessionInput{
			MentorID:    "mentor-1",
			StudentID:   "student-1",
			Title:       "  Career chat ",
			SessionDate: "2025-03-10T00:00:00.000Z",
			SessionTime: "2:30 PM",
			Duration:    45,
		})
		require.NoError(t, err)
		assert.Equal(t, "sess-new", v.ID)
		assert.Equal(t, lifecycle.StateCountdown, v.State.State)
		assert.Equal(t, "Pending - Starts in 6h 30m 0s", v.State.Message)
		repo.AssertExpectations(t)
	})

	t.Run("rejects a start in the past", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(10, 0))
		_, err := svc.Create(ctx, CreateSessionInput{
			MentorID: "mentor-1", StudentID: "student-1", Title: "Late",
			SessionDate: "2025-03-10", SessionTime: "09:00", Duration: 30,
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidSessionTime))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	tests := []struct {
		name string
		in   CreateSessionInput
		code apperrors.ErrorCode
	}{
		{"missing mentor", CreateSessionInput{StudentID: "s", Title: "t", Duration: 30}, apperrors.ErrCodeMissingRequired},
		{"self booking", CreateSessionInput{MentorID: "u", StudentID: "u", Title: "t", Duration: 30}, apperrors.ErrCodeValidation},
		{"zero duration", CreateSessionInput{MentorID: "m", StudentID: "s", Title: "t"}, apperrors.ErrCodeInvalidInput},
		{"too long", CreateSessionInput{MentorID: "m", StudentID: "s", Title: "t", Duration: MaxSessionDuration + 1}, apperrors.ErrCodeInvalidInput},
		{"terminal status", CreateSessionInput{MentorID: "m", StudentID: "s", Title: "t", Duration: 30, Status: model.SessionStatusCompleted}, apperrors.ErrCodeInvalidInput},
		{"unknown timezone", CreateSessionInput{MentorID: "m", StudentID: "s", Title: "t", Duration: 30, Timezone: "Mars/Base"}, apperrors.ErrCodeInvalidInput},
		{"missing time", CreateSessionInput{MentorID: "m", StudentID: "s", Title: "t", Duration: 30, SessionDate: "2025-03-11"}, apperrors.ErrCodeMissingSessionData},
		{"malformed time", CreateSessionInput{MentorID: "m", StudentID: "s", Title: "t", Duration: 30, SessionDate: "2025-03-11", SessionTime: "noon"}, apperrors.ErrCodeInvalidSessionTime},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _ := newTestService(clockAt(8, 0))
			_, err := svc.Create(ctx, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperrors.GetCode(err))
		})
	}
}

func TestSessionService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(9, 0))
		repo.On("FindByID", ctx, "missing").Return(nil, nil)

		_, err := svc.Get(ctx, "missing")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("repository error is wrapped", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(9, 0))
		repo.On("FindByID", ctx, "sess-1").Return(nil, errors.New("connection refused"))

		_, err := svc.Get(ctx, "sess-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "find session")
	})

	t.Run("reports detected expiry to the observer", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(9, 45))
		observer := &recordingObserver{}
		svc.SetExpiryObserver(observer)
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusConfirmed), nil)

		v, err := svc.Get(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StateExpired, v.State.State)
		assert.Equal(t, []observation{{"sess-1", true, model.SessionStatusConfirmed}}, observer.calls)
	})
}

func TestSessionService_List(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(clockAt(9, 10))

	_, err := svc.List(ctx, model.ListSessionsParams{Role: "admin", UserID: "u"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	_, err = svc.List(ctx, model.ListSessionsParams{Role: model.RoleMentor})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))

	_, err = svc.List(ctx, model.ListSessionsParams{Role: model.RoleMentor, UserID: "m", Statuses: []model.SessionStatus{"no-show"}})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	params := model.ListSessionsParams{Role: model.RoleMentor, UserID: "mentor-1", Limit: 50}
	repo.On("FindByParticipant", ctx, params).Return([]model.Session{
		*testSession(model.SessionStatusConfirmed),
		*testSession(model.SessionStatusPending),
	}, nil)

	views, err := svc.List(ctx, params)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, lifecycle.StateInProgress, views[0].State.State)
	assert.Equal(t, lifecycle.StateAwaitingConfirmation, views[1].State.State)
}

func TestSessionService_Confirm(t *testing.T) {
	ctx := context.Background()

	t.Run("mentor confirms and the change is published", func(t *testing.T) {
		svc, repo, pub := newTestService(clockAt(8, 0))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusPending), nil)
		repo.On("UpdateStatus", ctx, "sess-1", model.SessionStatusPending, model.SessionStatusConfirmed).Return(true, nil)
		pub.On("Publish", ctx, "sess-1", mock.MatchedBy(func(e sse.Event) bool {
			return e.Type == sse.EventStatusChanged
		})).Return(nil)

		v, err := svc.Confirm(ctx, "sess-1", "mentor-1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusConfirmed, v.Status)
		pub.AssertExpectations(t)
	})

	t.Run("student cannot confirm", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(8, 0))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusPending), nil)

		_, err := svc.Confirm(ctx, "sess-1", "student-1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
		repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("already confirmed is a no-op", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(8, 0))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusConfirmed), nil)

		v, err := svc.Confirm(ctx, "sess-1", "mentor-1")
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusConfirmed, v.Status)
	})

	t.Run("lost race reports the current status", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(8, 0))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusPending), nil).Once()
		repo.On("UpdateStatus", ctx, "sess-1", model.SessionStatusPending, model.SessionStatusConfirmed).Return(false, nil)
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusCancelled), nil).Once()

		_, err := svc.Confirm(ctx, "sess-1", "mentor-1")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
		assert.Contains(t, err.Error(), "from cancelled to confirmed")
	})
}

func TestSessionService_UpdateStatusRules(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal sessions never transition", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(8, 0))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusCompleted), nil)

		_, err := svc.Cancel(ctx, "sess-1", "student-1", "changed my mind")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
	})

	t.Run("pending cannot complete", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(9, 10))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusPending), nil)

		_, err := svc.Complete(ctx, "sess-1", "mentor-1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
	})

	t.Run("back to pending is rejected", func(t *testing.T) {
		svc, _, _ := newTestService(clockAt(8, 0))
		_, err := svc.UpdateStatus(ctx, "sess-1", UpdateStatusInput{Status: model.SessionStatusPending, ActorID: "mentor-1"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		svc, _, _ := newTestService(clockAt(8, 0))
		_, err := svc.UpdateStatus(ctx, "sess-1", UpdateStatusInput{Status: "no-show", ActorID: "mentor-1"})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	})

	t.Run("outsider cannot cancel", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(8, 0))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusConfirmed), nil)

		_, err := svc.Cancel(ctx, "sess-1", "someone-else", "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})

	t.Run("cancel records reason and actor", func(t *testing.T) {
		svc, repo, pub := newTestService(clockAt(8, 0))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusConfirmed), nil)
		repo.On("Cancel", ctx, "sess-1", model.SessionStatusConfirmed, model.CancelSessionParams{
			Reason:      "schedule clash",
			CancelledBy: "student-1",
		}).Return(true, nil)
		pub.On("Publish", ctx, "sess-1", mock.Anything).Return(errors.New("redis down"))

		v, err := svc.Cancel(ctx, "sess-1", "student-1", " schedule clash ")
		require.NoError(t, err, "publish failures are logged, not returned")
		assert.Equal(t, model.SessionStatusCancelled, v.Status)
		assert.Equal(t, lifecycle.StateCancelled, v.State.State)
		require.NotNil(t, v.CancelledBy)
		assert.Equal(t, "student-1", *v.CancelledBy)
	})
}

func TestSessionService_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("before start is a conflict", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(8, 50))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusConfirmed), nil)

		_, err := svc.Complete(ctx, "sess-1", "mentor-1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("records the actual window capped at the planned end", func(t *testing.T) {
		svc, repo, pub := newTestService(clockAt(9, 20))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusConfirmed), nil)
		repo.On("MarkCompleted", ctx, "sess-1", mock.MatchedBy(func(p model.CompleteSessionParams) bool {
			return p.StartedAt.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)) &&
				p.EndedAt.Equal(time.Date(2025, 3, 10, 9, 20, 0, 0, time.UTC))
		})).Return(true, nil)
		pub.On("Publish", ctx, "sess-1", mock.Anything).Return(nil)

		v, err := svc.Complete(ctx, "sess-1", "student-1")
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StateCompleted, v.State.State)
		assert.Equal(t, 20, v.ActualDuration())
	})

	t.Run("prefers the times the meeting recorded", func(t *testing.T) {
		svc, repo, pub := newTestService(clockAt(9, 40))
		session := testSession(model.SessionStatusConfirmed)
		started := time.Date(2025, 3, 10, 9, 4, 0, 0, time.UTC)
		ended := time.Date(2025, 3, 10, 9, 26, 0, 0, time.UTC)
		session.StartedAt, session.EndedAt = &started, &ended
		repo.On("FindByID", ctx, "sess-1").Return(session, nil)
		repo.On("MarkCompleted", ctx, "sess-1", mock.MatchedBy(func(p model.CompleteSessionParams) bool {
			return p.StartedAt.Equal(started) && p.EndedAt.Equal(ended)
		})).Return(true, nil)
		pub.On("Publish", ctx, "sess-1", mock.Anything).Return(nil)

		v, err := svc.Complete(ctx, "sess-1", "mentor-1")
		require.NoError(t, err)
		assert.Equal(t, 22, v.ActualDuration())
	})
}

func TestSessionService_Expire(t *testing.T) {
	ctx := context.Background()

	t.Run("marks an ended session expired", func(t *testing.T) {
		svc, repo, pub := newTestService(clockAt(9, 31))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusConfirmed), nil)
		repo.On("MarkExpired", ctx, "sess-1").Return(true, nil)
		pub.On("Publish", ctx, "sess-1", mock.Anything).Return(nil)

		require.NoError(t, svc.Expire(ctx, "sess-1"))
		repo.AssertExpectations(t)
		pub.AssertExpectations(t)
	})

	t.Run("already expired is idempotent", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(9, 31))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusExpired), nil)

		require.NoError(t, svc.Expire(ctx, "sess-1"))
		repo.AssertNotCalled(t, "MarkExpired", mock.Anything, mock.Anything)
	})

	t.Run("settled elsewhere is an invalid transition", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(9, 31))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusCancelled), nil)

		err := svc.Expire(ctx, "sess-1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
	})

	t.Run("refuses before the end", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(9, 30))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusConfirmed), nil)

		err := svc.Expire(ctx, "sess-1")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("concurrent expiry elsewhere still succeeds", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(9, 31))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusPending), nil).Once()
		repo.On("MarkExpired", ctx, "sess-1").Return(false, nil)
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusExpired), nil).Once()

		require.NoError(t, svc.Expire(ctx, "sess-1"))
	})

	t.Run("store failure is returned", func(t *testing.T) {
		svc, repo, _ := newTestService(clockAt(9, 31))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusPending), nil)
		repo.On("MarkExpired", ctx, "sess-1").Return(false, errors.New("timeout"))

		err := svc.Expire(ctx, "sess-1")
		require.Error(t, err)
		assert.False(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
	})

	t.Run("status update to expired goes through Expire", func(t *testing.T) {
		svc, repo, pub := newTestService(clockAt(9, 31))
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusConfirmed), nil).Once()
		repo.On("MarkExpired", ctx, "sess-1").Return(true, nil)
		repo.On("FindByID", ctx, "sess-1").Return(testSession(model.SessionStatusExpired), nil).Once()
		pub.On("Publish", ctx, "sess-1", mock.Anything).Return(nil)

		v, err := svc.UpdateStatus(ctx, "sess-1", UpdateStatusInput{Status: model.SessionStatusExpired})
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StateExpired, v.State.State)
	})
}

func TestSessionService_MentoringSummary(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(clockAt(12, 0))

	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(75 * time.Minute)
	withActual := *testSession(model.SessionStatusCompleted)
	withActual.StartedAt, withActual.EndedAt = &started, &ended
	planned := *testSession(model.SessionStatusCompleted)
	planned.Duration = 75

	repo.On("FindCompletedByMentor", ctx, "mentor-1").Return([]model.Session{withActual, planned}, nil)
	repo.On("CountByStatus", ctx, "mentor-1").Return(map[model.SessionStatus]int{
		model.SessionStatusCompleted: 2,
		model.SessionStatusCancelled: 1,
	}, nil)

	summary, err := svc.MentoringSummary(ctx, "mentor-1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.CompletedSessions)
	assert.Equal(t, 150, summary.TotalMinutes)
	assert.Equal(t, "2h 30m", summary.Formatted)
	assert.Equal(t, 1, summary.StatusCounts[model.SessionStatusCancelled])

	_, err = svc.MentoringSummary(ctx, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
}

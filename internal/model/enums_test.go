package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		allowed  bool
	}{
		{SessionStatusPending, SessionStatusConfirmed, true},
		{SessionStatusPending, SessionStatusCancelled, true},
		{SessionStatusPending, SessionStatusExpired, true},
		{SessionStatusPending, SessionStatusCompleted, false},
		{SessionStatusConfirmed, SessionStatusCompleted, true},
		{SessionStatusConfirmed, SessionStatusExpired, true},
		{SessionStatusConfirmed, SessionStatusPending, false},
		{SessionStatusConfirmed, SessionStatusConfirmed, false},
		{SessionStatusExpired, SessionStatusConfirmed, false},
		{SessionStatusCompleted, SessionStatusPending, false},
		{SessionStatusCancelled, SessionStatusExpired, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	assert.False(t, SessionStatusPending.Terminal())
	assert.False(t, SessionStatusConfirmed.Terminal())
	assert.True(t, SessionStatusCancelled.Terminal())
	assert.True(t, SessionStatusCompleted.Terminal())
	assert.True(t, SessionStatusExpired.Terminal())

	for _, s := range AllSessionStatuses {
		if s.Terminal() {
			for _, next := range AllSessionStatuses {
				assert.False(t, s.CanTransitionTo(next), "%s must be terminal", s)
			}
		}
	}
}

func TestSessionStatusValid(t *testing.T) {
	assert.True(t, SessionStatusExpired.Valid())
	assert.False(t, SessionStatus("no-show").Valid())
	assert.False(t, SessionStatus("").Valid())
}

func TestParticipantRoleValid(t *testing.T) {
	assert.True(t, RoleMentor.Valid())
	assert.True(t, RoleStudent.Valid())
	assert.False(t, ParticipantRole("admin").Valid())
}

func TestSessionActualDuration(t *testing.T) {
	t.Run("uses recorded start and end", func(t *testing.T) {
		start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		end := start.Add(42*time.Minute + 30*time.Second)
		s := &Session{Duration: 60, StartedAt: &start, EndedAt: &end}
		assert.Equal(t, 42, s.ActualDuration())
	})

	t.Run("clamps inverted range to zero", func(t *testing.T) {
		start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		end := start.Add(-time.Minute)
		s := &Session{Duration: 60, StartedAt: &start, EndedAt: &end}
		assert.Equal(t, 0, s.ActualDuration())
	})

	t.Run("falls back to planned duration", func(t *testing.T) {
		s := &Session{Duration: 45}
		assert.Equal(t, 45, s.ActualDuration())
	})
}

func TestMeetingStatusAdvance(t *testing.T) {
	tests := []struct {
		from, to MeetingStatus
		allowed  bool
	}{
		{MeetingStatusNotStarted, MeetingStatusWaiting, true},
		{MeetingStatusWaiting, MeetingStatusActive, true},
		{MeetingStatusActive, MeetingStatusEnded, true},
		{MeetingStatusWaiting, MeetingStatusEnded, true},
		{MeetingStatusActive, MeetingStatusWaiting, false},
		{MeetingStatusEnded, MeetingStatusActive, false},
		{MeetingStatusActive, MeetingStatusActive, false},
		{MeetingStatusWaiting, "paused", false},
		{"paused", MeetingStatusEnded, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanAdvanceTo(tc.to))
		})
	}

	assert.True(t, MeetingStatusEnded.Valid())
	assert.False(t, MeetingStatus("").Valid())
}

func TestSessionMeetingAndRole(t *testing.T) {
	s := &Session{MentorID: "mentor-1", StudentID: "student-1"}
	assert.Equal(t, MeetingStatusNotStarted, s.Meeting())

	s.MeetingStatus = MeetingStatusActive
	assert.Equal(t, MeetingStatusActive, s.Meeting())

	role, ok := s.RoleOf("student-1")
	assert.True(t, ok)
	assert.Equal(t, RoleStudent, role)

	role, ok = s.RoleOf("mentor-1")
	assert.True(t, ok)
	assert.Equal(t, RoleMentor, role)

	_, ok = s.RoleOf("stranger")
	assert.False(t, ok)
	_, ok = s.RoleOf("")
	assert.False(t, ok)
}

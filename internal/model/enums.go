package model

type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusConfirmed SessionStatus = "confirmed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusExpired   SessionStatus = "expired"
)

var AllSessionStatuses = []SessionStatus{
	SessionStatusPending,
	SessionStatusConfirmed,
	SessionStatusCancelled,
	SessionStatusCompleted,
	SessionStatusExpired,
}

// UnsettledStatuses are the statuses the expiry sweep looks at.
var UnsettledStatuses = []SessionStatus{
	SessionStatusPending,
	SessionStatusConfirmed,
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending: {
		SessionStatusConfirmed,
		SessionStatusCancelled,
		SessionStatusExpired,
	},
	SessionStatusConfirmed: {
		SessionStatusCancelled,
		SessionStatusCompleted,
		SessionStatusExpired,
	},
}

func (s SessionStatus) Valid() bool {
	for _, v := range AllSessionStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCancelled || s == SessionStatusCompleted || s == SessionStatusExpired
}

// CanTransitionTo reports whether s may move forward to next.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func StatusStrings(statuses []SessionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// MeetingStatus tracks the live meeting of a session, separately from its
// booking status.
type MeetingStatus string

const (
	MeetingStatusNotStarted MeetingStatus = "not_started"
	MeetingStatusWaiting    MeetingStatus = "waiting"
	MeetingStatusActive     MeetingStatus = "active"
	MeetingStatusEnded      MeetingStatus = "ended"
)

var meetingOrder = map[MeetingStatus]int{
	MeetingStatusNotStarted: 0,
	MeetingStatusWaiting:    1,
	MeetingStatusActive:     2,
	MeetingStatusEnded:      3,
}

func (m MeetingStatus) Valid() bool {
	_, ok := meetingOrder[m]
	return ok
}

// CanAdvanceTo reports whether next is later than m. Meetings only move
// forward; stages may be skipped.
func (m MeetingStatus) CanAdvanceTo(next MeetingStatus) bool {
	from, ok := meetingOrder[m]
	if !ok {
		return false
	}
	to, ok := meetingOrder[next]
	return ok && to > from
}

package model

import "time"

// Session is a booked mentoring appointment. SessionDate and SessionTime are
// stored in canonical form (YYYY-MM-DD and HH:MM:SS, 24-hour) and are
// interpreted in Timezone.
type Session struct {
	ID                 string        `db:"id" bson:"_id" json:"id"`
	MentorID           string        `db:"mentor_id" bson:"mentor_id" json:"mentorId"`
	StudentID          string        `db:"student_id" bson:"student_id" json:"studentId"`
	Title              string        `db:"title" bson:"title" json:"sessionTitle"`
	Description        *string       `db:"description" bson:"description,omitempty" json:"sessionDescription,omitempty"`
	SessionDate        string        `db:"session_date" bson:"session_date" json:"sessionDate"`
	SessionTime        string        `db:"session_time" bson:"session_time" json:"sessionTime"`
	Duration           int           `db:"duration" bson:"duration" json:"duration"`
	Timezone           string        `db:"timezone" bson:"timezone" json:"timezone"`
	Status             SessionStatus `db:"status" bson:"status" json:"status"`
	CancellationReason *string       `db:"cancellation_reason" bson:"cancellation_reason,omitempty" json:"cancellationReason,omitempty"`
	CancelledBy        *string       `db:"cancelled_by" bson:"cancelled_by,omitempty" json:"cancelledBy,omitempty"`
	RoomID             *string       `db:"room_id" bson:"room_id,omitempty" json:"roomId,omitempty"`
	MeetingStatus      MeetingStatus `db:"meeting_status" bson:"meeting_status" json:"meetingStatus"`
	StartedAt          *time.Time    `db:"started_at" bson:"started_at,omitempty" json:"sessionStartedAt,omitempty"`
	EndedAt            *time.Time    `db:"ended_at" bson:"ended_at,omitempty" json:"sessionEndedAt,omitempty"`
	CreatedAt          time.Time     `db:"created_at" bson:"created_at" json:"createdAt"`
	UpdatedAt          time.Time     `db:"updated_at" bson:"updated_at" json:"updatedAt"`
}

type CreateSessionParams struct {
	MentorID    string
	StudentID   string
	Title       string
	Description *string
	SessionDate string
	SessionTime string
	Duration    int
	Timezone    string
	Status      SessionStatus
}

type CancelSessionParams struct {
	Reason      string
	CancelledBy string
}

type CompleteSessionParams struct {
	StartedAt *time.Time
	EndedAt   *time.Time
}

type UpdateMeetingParams struct {
	From      MeetingStatus
	To        MeetingStatus
	StartedAt *time.Time
	EndedAt   *time.Time
}

// ParticipantRole selects which side of a session a listing is for.
type ParticipantRole string

const (
	RoleMentor  ParticipantRole = "mentor"
	RoleStudent ParticipantRole = "student"
)

func (r ParticipantRole) Valid() bool {
	return r == RoleMentor || r == RoleStudent
}

type ListSessionsParams struct {
	Role     ParticipantRole
	UserID   string
	Statuses []SessionStatus
	Limit    int
	Offset   int
}

// ActualDuration returns the minutes actually spent in a session, falling
// back to the planned duration when start/end were not recorded.
func (s *Session) ActualDuration() int {
	if s.StartedAt != nil && s.EndedAt != nil {
		mins := int(s.EndedAt.Sub(*s.StartedAt) / time.Minute)
		if mins > 0 {
			return mins
		}
		return 0
	}
	return s.Duration
}

// Meeting returns the meeting status, treating documents written before
// meetings were tracked as not started.
func (s *Session) Meeting() MeetingStatus {
	if s.MeetingStatus == "" {
		return MeetingStatusNotStarted
	}
	return s.MeetingStatus
}

// RoleOf reports which side of the session userID is on.
func (s *Session) RoleOf(userID string) (ParticipantRole, bool) {
	switch userID {
	case "":
		return "", false
	case s.MentorID:
		return RoleMentor, true
	case s.StudentID:
		return RoleStudent, true
	}
	return "", false
}

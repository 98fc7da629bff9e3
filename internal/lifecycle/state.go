package lifecycle

import (
	"time"
	_ "time/tzdata"

	apperrors "github.com/mentorlink/session-server/internal/errors"
	"github.com/mentorlink/session-server/internal/model"
)

// State is the display state of a session at a given instant. It is derived
// from the persisted status and the clock on every evaluation and never stored.
type State string

const (
	StateCountdown            State = "countdown"
	StateStartingSoon         State = "starting_soon"
	StateInProgress           State = "in_progress"
	// pending inside its window: not joinable, not yet expirable
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateExpired              State = "expired"
	StateCancelled            State = "cancelled"
	StateCompleted            State = "completed"
	StateParseError           State = "parse_error"
)

// StartingSoonWindow is how long before the start a confirmed session
// becomes joinable.
const StartingSoonWindow = 5 * time.Minute

// Display messages shown in place of a countdown.
const (
	MsgNoSessionData      = "No session data"
	MsgInvalidSessionTime = "Invalid session time"
	MsgErrorParsingTime   = "Error parsing time"
	MsgExpired            = "Expired"
	MsgCancelled          = "Session cancelled"
	MsgCompleted          = "Session completed"
	MsgAwaiting           = "Pending - Awaiting mentor confirmation"
)

// Snapshot is the subset of a session the deriver needs.
type Snapshot struct {
	ID          string
	SessionDate string
	SessionTime string
	Duration    int
	Status      model.SessionStatus
	Location    *time.Location
}

// SnapshotOf builds a Snapshot from a stored session. An unknown timezone
// falls back to fallback.
func SnapshotOf(s *model.Session, fallback *time.Location) Snapshot {
	loc := fallback
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}
	return Snapshot{
		ID:          s.ID,
		SessionDate: s.SessionDate,
		SessionTime: s.SessionTime,
		Duration:    s.Duration,
		Status:      s.Status,
		Location:    loc,
	}
}

// Result is what the host layer renders for one session on one tick.
type Result struct {
	SessionID string        `json:"sessionId"`
	State     State         `json:"state"`
	Message   string        `json:"displayMessage"`
	CanJoin   bool          `json:"canJoin"`
	TimeLeft  *int64        `json:"timeLeft,omitempty"`
	Clock     *ClockDisplay `json:"clockDisplay,omitempty"`
	StartsAt  *time.Time    `json:"startsAt,omitempty"`
	EndsAt    *time.Time    `json:"endsAt,omitempty"`

	// Err holds the recovered normalization error for ParseError results.
	Err error `json:"-"`
}

// Window returns the start and end instants of the session.
func Window(s Snapshot) (start, end time.Time, err error) {
	if s.Duration <= 0 {
		return time.Time{}, time.Time{}, apperrors.InvalidInput("duration", "must be greater than zero")
	}
	start, err = Normalize(s.SessionDate, s.SessionTime, s.Location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(time.Duration(s.Duration) * time.Minute), nil
}

// Derive computes the display state of s at now. It never fails: malformed
// data is reported as StateParseError.
func Derive(s Snapshot, now time.Time) Result {
	r := Result{SessionID: s.ID}

	switch s.Status {
	case model.SessionStatusCancelled:
		r.State, r.Message = StateCancelled, MsgCancelled
		return r
	case model.SessionStatusCompleted:
		r.State, r.Message = StateCompleted, MsgCompleted
		return r
	case model.SessionStatusExpired:
		r.State, r.Message = StateExpired, MsgExpired
		return r
	case model.SessionStatusPending, model.SessionStatusConfirmed:
	default:
		r.State, r.Message = StateParseError, "Status: "+string(s.Status)
		return r
	}

	start, end, err := Window(s)
	if err != nil {
		r.State, r.Err = StateParseError, err
		switch apperrors.GetCode(err) {
		case apperrors.ErrCodeMissingSessionData:
			r.Message = MsgNoSessionData
		case apperrors.ErrCodeInvalidSessionTime:
			r.Message = MsgInvalidSessionTime
		default:
			r.Message = MsgErrorParsingTime
		}
		return r
	}
	r.StartsAt, r.EndsAt = &start, &end

	if now.After(end) {
		r.State, r.Message = StateExpired, MsgExpired
		return r
	}

	confirmed := s.Status == model.SessionStatusConfirmed

	if untilStart := start.Sub(now); untilStart > 0 {
		secs := int64(untilStart / time.Second)
		clock := SplitSeconds(secs)
		r.TimeLeft, r.Clock = &secs, &clock

		if confirmed && untilStart <= StartingSoonWindow {
			r.State, r.CanJoin = StateStartingSoon, true
			r.Message = "Starts in " + FormatCountdown(secs)
			return r
		}

		r.State = StateCountdown
		r.Message = "Starts in " + FormatCountdown(secs)
		if !confirmed {
			r.Message = "Pending - " + r.Message
		}
		return r
	}

	left := int64(end.Sub(now) / time.Second)
	r.TimeLeft = &left

	if !confirmed {
		r.State, r.Message = StateAwaitingConfirmation, MsgAwaiting
		return r
	}

	var text string
	var clock ClockDisplay
	if s.Duration > 60 {
		text, clock = FormatCountdown(left), SplitSeconds(left)
	} else {
		text, clock = formatMinutesOnly(left), minutesOnly(left)
	}
	r.State, r.CanJoin, r.Clock = StateInProgress, true, &clock
	r.Message = "In progress (" + text + " left)"
	return r
}

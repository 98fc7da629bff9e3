package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mentorlink/session-server/internal/audit"
	apperrors "github.com/mentorlink/session-server/internal/errors"
	"github.com/mentorlink/session-server/internal/model"
	"github.com/mentorlink/session-server/internal/sse"
)

const roomIDPrefix = "session_"

// JoinResult is what a participant needs to enter the meeting room.
type JoinResult struct {
	*SessionView
	Role model.ParticipantRole `json:"userRole"`
}

type UpdateMeetingInput struct {
	Status  model.MeetingStatus `json:"status"`
	ActorID string              `json:"actorId"`
}

// MeetingChange is the payload of a meeting_status_changed event.
type MeetingChange struct {
	SessionID      string              `json:"sessionId"`
	RoomID         string              `json:"roomId,omitempty"`
	MeetingStatus  model.MeetingStatus `json:"meetingStatus"`
	PreviousStatus model.MeetingStatus `json:"previousMeetingStatus"`
	ChangedBy      string              `json:"changedBy,omitempty"`
}

// Join admits a participant when the derived state allows joining. The first
// join assigns the room and moves the meeting from not_started to waiting.
func (s *SessionService) Join(ctx context.Context, id, actorID string) (*JoinResult, error) {
	if actorID == "" {
		return nil, apperrors.MissingRequired("actorId")
	}

	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	role, ok := v.RoleOf(actorID)
	if !ok {
		return nil, apperrors.Forbidden("Only participants can join a session")
	}
	if !v.State.CanJoin {
		return nil, apperrors.SessionNotJoinable(v.State.Message).WithDetails(map[string]any{
			"state": v.State.State,
		})
	}

	// Both writes are guarded; losing either race means another participant
	// got there first and the re-read below picks up their values.
	dirty := false
	if v.RoomID == nil {
		roomID := roomIDPrefix + uuid.NewString()
		if _, err := s.repo.AssignRoom(ctx, id, roomID); err != nil {
			return nil, fmt.Errorf("assign room: %w", err)
		}
		dirty = true
	}
	from := v.Meeting()
	if from == model.MeetingStatusNotStarted {
		changed, err := s.repo.UpdateMeetingStatus(ctx, id, model.UpdateMeetingParams{
			From: from,
			To:   model.MeetingStatusWaiting,
		})
		if err != nil {
			return nil, fmt.Errorf("update meeting status: %w", err)
		}
		dirty = true
		if !changed {
			from = ""
		}
	}
	if dirty {
		if v, err = s.Get(ctx, id); err != nil {
			return nil, err
		}
		if from != "" {
			s.publishMeetingChange(ctx, v.Session, from, actorID)
		}
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionJoin,
		SessionID: id,
		ActorID:   actorID,
		Details: map[string]interface{}{
			"state":   string(v.State.State),
			"room_id": derefString(v.RoomID),
			"role":    string(role),
		},
	})

	return &JoinResult{SessionView: v, Role: role}, nil
}

// UpdateMeetingStatus advances the meeting of a session. Meetings only move
// forward: waiting, active, ended. Going active records the start time the
// first time; ending records the end time.
func (s *SessionService) UpdateMeetingStatus(ctx context.Context, id string, in UpdateMeetingInput) (*SessionView, error) {
	if !in.Status.Valid() || in.Status == model.MeetingStatusNotStarted {
		return nil, apperrors.InvalidInput("status", "must be waiting, active or ended")
	}
	if in.ActorID == "" {
		return nil, apperrors.MissingRequired("actorId")
	}

	session, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := session.RoleOf(in.ActorID); !ok {
		return nil, apperrors.Forbidden("Only participants can update the meeting")
	}

	switch session.Status {
	case model.SessionStatusPending, model.SessionStatusConfirmed:
	case model.SessionStatusCompleted:
		if in.Status != model.MeetingStatusEnded {
			return nil, apperrors.Conflict(fmt.Sprintf("Cannot open the meeting of a %s session", session.Status))
		}
	default:
		return nil, apperrors.Conflict(fmt.Sprintf("Cannot update the meeting of a %s session", session.Status))
	}

	from := session.Meeting()
	if from == in.Status {
		return s.view(session), nil
	}
	if !from.CanAdvanceTo(in.Status) {
		return nil, apperrors.InvalidMeetingTransition(string(from), string(in.Status))
	}

	params := model.UpdateMeetingParams{From: from, To: in.Status}
	now := s.clock.Now().UTC()
	switch in.Status {
	case model.MeetingStatusActive:
		if session.StartedAt == nil {
			params.StartedAt = &now
		}
	case model.MeetingStatusEnded:
		if session.EndedAt == nil {
			params.EndedAt = &now
		}
	}

	changed, err := s.repo.UpdateMeetingStatus(ctx, id, params)
	if err != nil {
		return nil, fmt.Errorf("update meeting status: %w", err)
	}
	if !changed {
		current, ferr := s.find(ctx, id)
		if ferr != nil {
			return nil, ferr
		}
		return nil, apperrors.InvalidMeetingTransition(string(current.Meeting()), string(in.Status))
	}

	session.MeetingStatus = in.Status
	if params.StartedAt != nil {
		session.StartedAt = params.StartedAt
	}
	if params.EndedAt != nil {
		session.EndedAt = params.EndedAt
	}
	s.publishMeetingChange(ctx, session, from, in.ActorID)

	log.Info().
		Str("sessionId", id).
		Str("from", string(from)).
		Str("to", string(in.Status)).
		Str("actorId", in.ActorID).
		Msg("meeting status updated")

	return s.view(session), nil
}

func (s *SessionService) publishMeetingChange(ctx context.Context, session *model.Session, from model.MeetingStatus, actorID string) {
	audit.Log(ctx, audit.Event{
		Type:      audit.EventMeetingChange,
		SessionID: session.ID,
		ActorID:   actorID,
		Details: map[string]interface{}{
			"from": string(from),
			"to":   string(session.Meeting()),
		},
	})

	if s.publisher == nil {
		return
	}

	event, err := sse.NewEvent(sse.EventMeetingStatusChanged, MeetingChange{
		SessionID:      session.ID,
		RoomID:         derefString(session.RoomID),
		MeetingStatus:  session.Meeting(),
		PreviousStatus: from,
		ChangedBy:      actorID,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, session.ID, event)
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", session.ID).
			Msg("failed to publish meeting status change")
	}
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

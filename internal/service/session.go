package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mentorlink/session-server/internal/audit"
	apperrors "github.com/mentorlink/session-server/internal/errors"
	"github.com/mentorlink/session-server/internal/lifecycle"
	"github.com/mentorlink/session-server/internal/model"
	"github.com/mentorlink/session-server/internal/repository"
	"github.com/mentorlink/session-server/internal/sse"
)

const (
	MaxSessionDuration = 8 * 60
	maxTitleLength     = 200
)

// EventPublisher relays session events to every instance.
type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, event sse.Event) error
}

// ExpiryObserver is told about every derivation the service performs so that
// reads also drive the persisted expiry.
type ExpiryObserver interface {
	Observe(sessionID string, detectedExpired bool, persisted model.SessionStatus) bool
}

// SessionView is a stored session together with its derived state.
type SessionView struct {
	*model.Session
	State lifecycle.Result `json:"state"`
}

type CreateSessionInput struct {
	MentorID    string              `json:"mentorId"`
	StudentID   string              `json:"studentId"`
	Title       string              `json:"sessionTitle"`
	Description *string             `json:"sessionDescription,omitempty"`
	SessionDate string              `json:"sessionDate"`
	SessionTime string              `json:"sessionTime"`
	Duration    int                 `json:"duration"`
	Timezone    string              `json:"timezone,omitempty"`
	Status      model.SessionStatus `json:"status,omitempty"`
}

type UpdateStatusInput struct {
	Status  model.SessionStatus `json:"status"`
	ActorID string              `json:"actorId"`
	Reason  string              `json:"reason,omitempty"`
}

// StatusChange is the payload of a status_changed event.
type StatusChange struct {
	SessionID      string              `json:"sessionId"`
	Status         model.SessionStatus `json:"status"`
	PreviousStatus model.SessionStatus `json:"previousStatus"`
	ChangedBy      string              `json:"changedBy,omitempty"`
	ChangedAt      time.Time           `json:"changedAt"`
}

type MentoringSummary struct {
	MentorID          string                      `json:"mentorId"`
	CompletedSessions int                         `json:"completedSessions"`
	TotalMinutes      int                         `json:"totalMinutes"`
	Formatted         string                      `json:"formatted"`
	StatusCounts      map[model.SessionStatus]int `json:"statusCounts"`
}

type SessionService struct {
	repo      repository.SessionRepository
	publisher EventPublisher
	clock     lifecycle.Clock
	loc       *time.Location
	observer  ExpiryObserver
}

func NewSessionService(
	repo repository.SessionRepository,
	publisher EventPublisher,
	clock lifecycle.Clock,
	defaultLoc *time.Location,
) *SessionService {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &SessionService{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		loc:       defaultLoc,
	}
}

// SetExpiryObserver wires the expiry trigger. It is set after construction
// because the trigger itself expires sessions through this service.
func (s *SessionService) SetExpiryObserver(o ExpiryObserver) {
	s.observer = o
}

func (s *SessionService) Location() *time.Location { return s.loc }

func (s *SessionService) Create(ctx context.Context, in CreateSessionInput) (*SessionView, error) {
	in.MentorID = strings.TrimSpace(in.MentorID)
	in.StudentID = strings.TrimSpace(in.StudentID)
	in.Title = strings.TrimSpace(in.Title)

	switch {
	case in.MentorID == "":
		return nil, apperrors.MissingRequired("mentorId")
	case in.StudentID == "":
		return nil, apperrors.MissingRequired("studentId")
	case in.Title == "":
		return nil, apperrors.MissingRequired("sessionTitle")
	case len(in.Title) > maxTitleLength:
		return nil, apperrors.InvalidInput("sessionTitle", fmt.Sprintf("must be at most %d characters", maxTitleLength))
	case in.MentorID == in.StudentID:
		return nil, apperrors.ValidationError("A mentor cannot book a session with themselves")
	case in.Duration <= 0 || in.Duration > MaxSessionDuration:
		return nil, apperrors.InvalidInput("duration", fmt.Sprintf("must be between 1 and %d minutes", MaxSessionDuration))
	}

	if in.Status == "" {
		in.Status = model.SessionStatusPending
	}
	if in.Status != model.SessionStatusPending && in.Status != model.SessionStatusConfirmed {
		return nil, apperrors.InvalidInput("status", "a new session must be pending or confirmed")
	}

	loc := s.loc
	if in.Timezone != "" {
		l, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, apperrors.InvalidInput("timezone", err.Error())
		}
		loc = l
	}

	start, err := lifecycle.Normalize(in.SessionDate, in.SessionTime, loc)
	if err != nil {
		return nil, err
	}
	if !start.After(s.clock.Now()) {
		return nil, apperrors.InvalidSessionTime("session must start in the future")
	}
	sessionDate, err := lifecycle.CanonicalDate(in.SessionDate)
	if err != nil {
		return nil, err
	}
	sessionTime, err := lifecycle.CanonicalTime(in.SessionTime)
	if err != nil {
		return nil, err
	}

	session, err := s.repo.Create(ctx, model.CreateSessionParams{
		MentorID:    in.MentorID,
		StudentID:   in.StudentID,
		Title:       in.Title,
		Description: in.Description,
		SessionDate: sessionDate,
		SessionTime: sessionTime,
		Duration:    in.Duration,
		Timezone:    loc.String(),
		Status:      in.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionCreate,
		SessionID: session.ID,
		ActorID:   session.MentorID,
		Details: map[string]interface{}{
			"student_id": session.StudentID,
			"status":     string(session.Status),
			"starts_at":  start,
		},
	})

	return s.view(session), nil
}

func (s *SessionService) Get(ctx context.Context, id string) (*SessionView, error) {
	session, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(session), nil
}

// State returns only the derived state of a session.
func (s *SessionService) State(ctx context.Context, id string) (lifecycle.Result, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return lifecycle.Result{}, err
	}
	return v.State, nil
}

func (s *SessionService) List(ctx context.Context, params model.ListSessionsParams) ([]SessionView, error) {
	if !params.Role.Valid() {
		return nil, apperrors.InvalidInput("role", "must be mentor or student")
	}
	if params.UserID == "" {
		return nil, apperrors.MissingRequired("userId")
	}
	for _, st := range params.Statuses {
		if !st.Valid() {
			return nil, apperrors.InvalidInput("status", string(st))
		}
	}

	sessions, err := s.repo.FindByParticipant(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	views := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, *s.view(&sessions[i]))
	}
	return views, nil
}

// UpdateStatus applies a requested status change on behalf of actorId.
func (s *SessionService) UpdateStatus(ctx context.Context, id string, in UpdateStatusInput) (*SessionView, error) {
	if !in.Status.Valid() {
		return nil, apperrors.InvalidInput("status", string(in.Status))
	}
	if in.Status == model.SessionStatusPending {
		return nil, apperrors.InvalidInput("status", "sessions cannot be moved back to pending")
	}
	if in.Status == model.SessionStatusExpired {
		return s.ExpireSession(ctx, id)
	}

	session, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	from := session.Status
	if from == in.Status {
		return s.view(session), nil
	}
	if !from.CanTransitionTo(in.Status) {
		return nil, apperrors.InvalidTransition(string(from), string(in.Status))
	}
	if in.ActorID == "" {
		return nil, apperrors.MissingRequired("actorId")
	}

	var changed bool
	switch in.Status {
	case model.SessionStatusConfirmed:
		if in.ActorID != session.MentorID {
			return nil, apperrors.Forbidden("Only the mentor can confirm a session")
		}
		changed, err = s.repo.UpdateStatus(ctx, id, from, model.SessionStatusConfirmed)

	case model.SessionStatusCancelled:
		if !isParticipant(session, in.ActorID) {
			return nil, apperrors.Forbidden("Only participants can cancel a session")
		}
		reason := strings.TrimSpace(in.Reason)
		changed, err = s.repo.Cancel(ctx, id, from, model.CancelSessionParams{
			Reason:      reason,
			CancelledBy: in.ActorID,
		})
		if err == nil && changed {
			session.CancellationReason = &reason
			session.CancelledBy = &in.ActorID
		}

	case model.SessionStatusCompleted:
		if !isParticipant(session, in.ActorID) {
			return nil, apperrors.Forbidden("Only participants can complete a session")
		}
		params, perr := s.completion(session)
		if perr != nil {
			return nil, perr
		}
		changed, err = s.repo.MarkCompleted(ctx, id, params)
		if err == nil && changed {
			session.StartedAt, session.EndedAt = params.StartedAt, params.EndedAt
		}
	}
	if err != nil {
		return nil, fmt.Errorf("update session status: %w", err)
	}
	if !changed {
		return nil, s.lostRace(ctx, id, in.Status)
	}

	session.Status = in.Status
	s.publishStatusChange(ctx, session, from, in.ActorID)

	log.Info().
		Str("sessionId", id).
		Str("from", string(from)).
		Str("to", string(in.Status)).
		Str("actorId", in.ActorID).
		Msg("session status updated")

	return s.view(session), nil
}

func (s *SessionService) Confirm(ctx context.Context, id, actorID string) (*SessionView, error) {
	return s.UpdateStatus(ctx, id, UpdateStatusInput{Status: model.SessionStatusConfirmed, ActorID: actorID})
}

func (s *SessionService) Cancel(ctx context.Context, id, actorID, reason string) (*SessionView, error) {
	return s.UpdateStatus(ctx, id, UpdateStatusInput{Status: model.SessionStatusCancelled, ActorID: actorID, Reason: reason})
}

func (s *SessionService) Complete(ctx context.Context, id, actorID string) (*SessionView, error) {
	return s.UpdateStatus(ctx, id, UpdateStatusInput{Status: model.SessionStatusCompleted, ActorID: actorID})
}

// Expire persists the expired status. It succeeds when the session is
// already expired and returns an INVALID_TRANSITION error when the session
// was settled some other way.
func (s *SessionService) Expire(ctx context.Context, id string) error {
	session, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case session.Status == model.SessionStatusExpired:
		return nil
	case session.Status.Terminal():
		return apperrors.InvalidTransition(string(session.Status), string(model.SessionStatusExpired))
	}

	// Unparseable sessions cannot be proven over and stay as they are.
	_, end, err := lifecycle.Window(lifecycle.SnapshotOf(session, s.loc))
	if err != nil {
		return err
	}
	if !s.clock.Now().After(end) {
		return apperrors.Conflict("Session has not ended yet")
	}

	changed, err := s.repo.MarkExpired(ctx, id)
	if err != nil {
		return fmt.Errorf("mark session expired: %w", err)
	}
	if !changed {
		current, ferr := s.find(ctx, id)
		if ferr != nil {
			return ferr
		}
		if current.Status == model.SessionStatusExpired {
			return nil
		}
		return apperrors.InvalidTransition(string(current.Status), string(model.SessionStatusExpired))
	}

	from := session.Status
	session.Status = model.SessionStatusExpired
	s.publishStatusChange(ctx, session, from, "")

	log.Info().
		Str("sessionId", id).
		Str("from", string(from)).
		Msg("session expired")

	return nil
}

// ExpireSession expires a session and returns the updated view.
func (s *SessionService) ExpireSession(ctx context.Context, id string) (*SessionView, error) {
	if err := s.Expire(ctx, id); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// MentoringSummary totals the time a mentor spent in completed sessions.
func (s *SessionService) MentoringSummary(ctx context.Context, mentorID string) (*MentoringSummary, error) {
	if mentorID == "" {
		return nil, apperrors.MissingRequired("mentorId")
	}

	completed, err := s.repo.FindCompletedByMentor(ctx, mentorID)
	if err != nil {
		return nil, fmt.Errorf("find completed sessions: %w", err)
	}
	counts, err := s.repo.CountByStatus(ctx, mentorID)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	total := 0
	for i := range completed {
		total += completed[i].ActualDuration()
	}

	return &MentoringSummary{
		MentorID:          mentorID,
		CompletedSessions: len(completed),
		TotalMinutes:      total,
		Formatted:         lifecycle.FormatMentoringTime(total),
		StatusCounts:      counts,
	}, nil
}

func (s *SessionService) find(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, apperrors.MissingRequired("id")
	}
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

func (s *SessionService) view(session *model.Session) *SessionView {
	result := lifecycle.Derive(lifecycle.SnapshotOf(session, s.loc), s.clock.Now())
	if s.observer != nil {
		s.observer.Observe(session.ID, result.State == lifecycle.StateExpired, session.Status)
	}
	return &SessionView{Session: session, State: result}
}

// completion records the actual window of a session being completed: from
// its start to now, capped at the planned end. Times recorded by the meeting
// take precedence.
func (s *SessionService) completion(session *model.Session) (model.CompleteSessionParams, error) {
	start, end, err := lifecycle.Window(lifecycle.SnapshotOf(session, s.loc))
	if err != nil {
		return model.CompleteSessionParams{}, err
	}
	now := s.clock.Now()
	if now.Before(start) {
		return model.CompleteSessionParams{}, apperrors.Conflict("Session has not started yet")
	}
	if now.After(end) {
		now = end
	}
	startedAt, endedAt := start.UTC(), now.UTC()
	// a meeting that actually ran is recorded as it ran
	if session.StartedAt != nil {
		startedAt = session.StartedAt.UTC()
	}
	if session.EndedAt != nil && !session.EndedAt.Before(startedAt) {
		endedAt = session.EndedAt.UTC()
	}
	return model.CompleteSessionParams{StartedAt: &startedAt, EndedAt: &endedAt}, nil
}

func (s *SessionService) lostRace(ctx context.Context, id string, to model.SessionStatus) error {
	current, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	return apperrors.InvalidTransition(string(current.Status), string(to))
}

func (s *SessionService) publishStatusChange(ctx context.Context, session *model.Session, from model.SessionStatus, actorID string) {
	audit.Log(ctx, audit.Event{
		Type:      audit.EventStatusChange,
		SessionID: session.ID,
		ActorID:   actorID,
		Details: map[string]interface{}{
			"from": string(from),
			"to":   string(session.Status),
		},
	})

	if s.publisher == nil {
		return
	}

	event, err := sse.NewEvent(sse.EventStatusChanged, StatusChange{
		SessionID:      session.ID,
		Status:         session.Status,
		PreviousStatus: from,
		ChangedBy:      actorID,
		ChangedAt:      s.clock.Now().UTC(),
	})
	if err == nil {
		err = s.publisher.Publish(ctx, session.ID, event)
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", session.ID).
			Msg("failed to publish status change")
	}
}

func isParticipant(session *model.Session, actorID string) bool {
	return actorID == session.MentorID || actorID == session.StudentID
}

var _ lifecycle.Expirer = (*SessionService)(nil)

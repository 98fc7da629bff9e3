package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mentorlink/session-server/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindByParticipant(ctx context.Context, params model.ListSessionsParams) ([]model.Session, error)
	// FindUnsettled returns a page of pending and confirmed sessions dated on
	// or before the given canonical date, oldest first.
	FindUnsettled(ctx context.Context, onOrBefore string, limit, offset int) ([]model.Session, error)
	FindCompletedByMentor(ctx context.Context, mentorID string) ([]model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	// UpdateStatus moves a session from one status to another. It reports
	// false when the session is no longer in the from status.
	UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
	Cancel(ctx context.Context, id string, from model.SessionStatus, params model.CancelSessionParams) (bool, error)
	MarkCompleted(ctx context.Context, id string, params model.CompleteSessionParams) (bool, error)
	CountByStatus(ctx context.Context, mentorID string) (map[model.SessionStatus]int, error)
	// AssignRoom sets the meeting room of a session that has none yet. It
	// reports false when a room was already assigned.
	AssignRoom(ctx context.Context, id, roomID string) (bool, error)
	// UpdateMeetingStatus moves the meeting from params.From to params.To and
	// records the given start/end times. It reports false when the meeting
	// is no longer in params.From.
	UpdateMeetingStatus(ctx context.Context, id string, params model.UpdateMeetingParams) (bool, error)
}

// sessionDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const sessionColumns = `id, mentor_id, student_id, title, description, session_date, session_time,
	duration, timezone, status, cancellation_reason, cancelled_by, room_id, meeting_status,
	started_at, ended_at, created_at, updated_at`

type sessionRepo struct {
	db sessionDB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindByParticipant(ctx context.Context, params model.ListSessionsParams) ([]model.Session, error) {
	column := "student_id"
	if params.Role == model.RoleMentor {
		column = "mentor_id"
	}

	sessions := []model.Session{}
	var err error
	if len(params.Statuses) > 0 {
		err = r.db.SelectContext(ctx, &sessions, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE `+column+` = $1 AND status = ANY($2)
			ORDER BY session_date DESC, session_time DESC
			LIMIT $3 OFFSET $4
		`, params.UserID, pq.Array(model.StatusStrings(params.Statuses)), params.Limit, params.Offset)
	} else {
		err = r.db.SelectContext(ctx, &sessions, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE `+column+` = $1
			ORDER BY session_date DESC, session_time DESC
			LIMIT $2 OFFSET $3
		`, params.UserID, params.Limit, params.Offset)
	}
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) FindUnsettled(ctx context.Context, onOrBefore string, limit, offset int) ([]model.Session, error) {
	sessions := []model.Session{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status IN ('pending', 'confirmed')
		AND session_date <= $1
		ORDER BY session_date, session_time, id
		LIMIT $2 OFFSET $3
	`, onOrBefore, limit, offset)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) FindCompletedByMentor(ctx context.Context, mentorID string) ([]model.Session, error) {
	sessions := []model.Session{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE mentor_id = $1 AND status = 'completed'
	`, mentorID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	now := time.Now().UTC()
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (id, mentor_id, student_id, title, description, session_date,
			session_time, duration, timezone, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING `+sessionColumns+`
	`, uuid.Must(uuid.NewV7()).String(), params.MentorID, params.StudentID, params.Title,
		params.Description, params.SessionDate, params.SessionTime, params.Duration,
		params.Timezone, params.Status, now)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = $3,
			updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, from, to, time.Now().UTC())
	return affected(result, err)
}

func (r *sessionRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'expired',
			updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'confirmed')
	`, id, time.Now().UTC())
	return affected(result, err)
}

func (r *sessionRepo) Cancel(ctx context.Context, id string, from model.SessionStatus, params model.CancelSessionParams) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'cancelled',
			cancellation_reason = $3,
			cancelled_by = $4,
			updated_at = $5
		WHERE id = $1 AND status = $2
	`, id, from, params.Reason, params.CancelledBy, time.Now().UTC())
	return affected(result, err)
}

func (r *sessionRepo) MarkCompleted(ctx context.Context, id string, params model.CompleteSessionParams) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'completed',
			started_at = $2,
			ended_at = $3,
			updated_at = $4
		WHERE id = $1 AND status = 'confirmed'
	`, id, params.StartedAt, params.EndedAt, time.Now().UTC())
	return affected(result, err)
}

func (r *sessionRepo) CountByStatus(ctx context.Context, mentorID string) (map[model.SessionStatus]int, error) {
	var rows []struct {
		Status model.SessionStatus `db:"status"`
		Count  int                 `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM sessions
		WHERE mentor_id = $1
		GROUP BY status
	`, mentorID)
	if err != nil {
		return nil, err
	}

	counts := make(map[model.SessionStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *sessionRepo) AssignRoom(ctx context.Context, id, roomID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			room_id = $2,
			updated_at = $3
		WHERE id = $1 AND room_id IS NULL
	`, id, roomID, time.Now().UTC())
	return affected(result, err)
}

func (r *sessionRepo) UpdateMeetingStatus(ctx context.Context, id string, params model.UpdateMeetingParams) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			meeting_status = $3,
			started_at = COALESCE($4, started_at),
			ended_at = COALESCE($5, ended_at),
			updated_at = $6
		WHERE id = $1 AND meeting_status = $2
	`, id, params.From, params.To, params.StartedAt, params.EndedAt, time.Now().UTC())
	return affected(result, err)
}

func affected(result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

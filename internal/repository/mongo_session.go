package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mentorlink/session-server/internal/model"
)

type mongoSessionRepo struct {
	collection *mongo.Collection
}

// NewMongoSessionRepository stores sessions as documents keyed by the
// session id in _id.
func NewMongoSessionRepository(collection *mongo.Collection) SessionRepository {
	return &mongoSessionRepo{collection: collection}
}

func (r *mongoSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *mongoSessionRepo) FindByParticipant(ctx context.Context, params model.ListSessionsParams) ([]model.Session, error) {
	field := "student_id"
	if params.Role == model.RoleMentor {
		field = "mentor_id"
	}

	filter := bson.M{field: params.UserID}
	if len(params.Statuses) > 0 {
		filter["status"] = bson.M{"$in": model.StatusStrings(params.Statuses)}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "session_date", Value: -1}, {Key: "session_time", Value: -1}}).
		SetLimit(int64(params.Limit)).
		SetSkip(int64(params.Offset))

	return r.find(ctx, filter, opts)
}

func (r *mongoSessionRepo) FindUnsettled(ctx context.Context, onOrBefore string, limit, offset int) ([]model.Session, error) {
	filter := bson.M{
		"status":       bson.M{"$in": model.StatusStrings(model.UnsettledStatuses)},
		"session_date": bson.M{"$lte": onOrBefore},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "session_date", Value: 1}, {Key: "session_time", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	return r.find(ctx, filter, opts)
}

func (r *mongoSessionRepo) FindCompletedByMentor(ctx context.Context, mentorID string) ([]model.Session, error) {
	filter := bson.M{
		"mentor_id": mentorID,
		"status":    model.SessionStatusCompleted,
	}
	return r.find(ctx, filter, options.Find())
}

func (r *mongoSessionRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.Session, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	sessions := []model.Session{}
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *mongoSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	session := &model.Session{
		ID:            uuid.Must(uuid.NewV7()).String(),
		MentorID:      params.MentorID,
		StudentID:     params.StudentID,
		Title:         params.Title,
		Description:   params.Description,
		SessionDate:   params.SessionDate,
		SessionTime:   params.SessionTime,
		Duration:      params.Duration,
		Timezone:      params.Timezone,
		Status:        params.Status,
		MeetingStatus: model.MeetingStatusNotStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (r *mongoSessionRepo) UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) (bool, error) {
	return r.updateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}},
	)
}

func (r *mongoSessionRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	return r.updateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": model.StatusStrings(model.UnsettledStatuses)}},
		bson.M{"$set": bson.M{"status": model.SessionStatusExpired, "updated_at": time.Now().UTC()}},
	)
}

func (r *mongoSessionRepo) Cancel(ctx context.Context, id string, from model.SessionStatus, params model.CancelSessionParams) (bool, error) {
	return r.updateOne(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{
			"status":              model.SessionStatusCancelled,
			"cancellation_reason": params.Reason,
			"cancelled_by":        params.CancelledBy,
			"updated_at":          time.Now().UTC(),
		}},
	)
}

func (r *mongoSessionRepo) MarkCompleted(ctx context.Context, id string, params model.CompleteSessionParams) (bool, error) {
	set := bson.M{
		"status":     model.SessionStatusCompleted,
		"updated_at": time.Now().UTC(),
	}
	if params.StartedAt != nil {
		set["started_at"] = *params.StartedAt
	}
	if params.EndedAt != nil {
		set["ended_at"] = *params.EndedAt
	}
	return r.updateOne(ctx,
		bson.M{"_id": id, "status": model.SessionStatusConfirmed},
		bson.M{"$set": set},
	)
}

func (r *mongoSessionRepo) CountByStatus(ctx context.Context, mentorID string) (map[model.SessionStatus]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"mentor_id": mentorID}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status model.SessionStatus `bson:"_id"`
		Count  int                 `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[model.SessionStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *mongoSessionRepo) AssignRoom(ctx context.Context, id, roomID string) (bool, error) {
	// nil matches both a null and a missing room_id
	return r.updateOne(ctx,
		bson.M{"_id": id, "room_id": nil},
		bson.M{"$set": bson.M{"room_id": roomID, "updated_at": time.Now().UTC()}},
	)
}

func (r *mongoSessionRepo) UpdateMeetingStatus(ctx context.Context, id string, params model.UpdateMeetingParams) (bool, error) {
	filter := bson.M{"_id": id, "meeting_status": params.From}
	if params.From == model.MeetingStatusNotStarted {
		// documents created before meetings were tracked have no meeting_status
		filter["meeting_status"] = bson.M{"$in": bson.A{string(params.From), nil}}
	}

	set := bson.M{
		"meeting_status": params.To,
		"updated_at":     time.Now().UTC(),
	}
	if params.StartedAt != nil {
		set["started_at"] = *params.StartedAt
	}
	if params.EndedAt != nil {
		set["ended_at"] = *params.EndedAt
	}
	return r.updateOne(ctx, filter, bson.M{"$set": set})
}

func (r *mongoSessionRepo) updateOne(ctx context.Context, filter, update bson.M) (bool, error) {
	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}

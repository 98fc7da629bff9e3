package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mentorlink/session-server/internal/config"
	"github.com/mentorlink/session-server/internal/lifecycle"
	"github.com/mentorlink/session-server/internal/model"
	"github.com/mentorlink/session-server/internal/service"
)

// SessionService is the part of service.SessionService the HTTP layer uses.
type SessionService interface {
	Create(ctx context.Context, in service.CreateSessionInput) (*service.SessionView, error)
	Get(ctx context.Context, id string) (*service.SessionView, error)
	State(ctx context.Context, id string) (lifecycle.Result, error)
	List(ctx context.Context, params model.ListSessionsParams) ([]service.SessionView, error)
	UpdateStatus(ctx context.Context, id string, in service.UpdateStatusInput) (*service.SessionView, error)
	Confirm(ctx context.Context, id, actorID string) (*service.SessionView, error)
	Cancel(ctx context.Context, id, actorID, reason string) (*service.SessionView, error)
	ExpireSession(ctx context.Context, id string) (*service.SessionView, error)
	Join(ctx context.Context, id, actorID string) (*service.JoinResult, error)
	UpdateMeetingStatus(ctx context.Context, id string, in service.UpdateMeetingInput) (*service.SessionView, error)
	MentoringSummary(ctx context.Context, mentorID string) (*service.MentoringSummary, error)
	CompletedByDate(ctx context.Context, mentorID string, year int) (*service.ContributionGraph, error)
	Location() *time.Location
}

var _ SessionService = (*service.SessionService)(nil)

type SessionHandler struct {
	sessionService SessionService
	events         http.Handler
}

func NewSessionHandler(sessionService SessionService, events http.Handler) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		events:         events,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/summary", h.Summary)
		r.Get("/summary/by-date", h.SummaryByDate)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/state", h.State)
		r.Put("/{id}/status", h.UpdateStatus)
		r.Put("/{id}/confirm", h.Confirm)
		r.Put("/{id}/cancel", h.Cancel)
		r.Put("/{id}/expire", h.Expire)
		r.Post("/{id}/join", h.Join)
		r.Put("/{id}/meeting-status", h.UpdateMeetingStatus)
	})

	// long-lived stream, no request timeout
	if h.events != nil {
		r.Get("/{id}/events", h.events.ServeHTTP)
	}

	return r
}

type actorRequest struct {
	ActorID string `json:"actorId"`
	Reason  string `json:"reason,omitempty"`
}

// POST /v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSessionInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.sessionService.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// GET /v1/sessions?role=mentor|student&userId=..&status=a,b
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pagination := ParsePagination(r)

	params := model.ListSessionsParams{
		Role:   model.ParticipantRole(q.Get("role")),
		UserID: q.Get("userId"),
		Limit:  pagination.Limit,
		Offset: pagination.Offset,
	}
	for _, raw := range strings.Split(q.Get("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			params.Statuses = append(params.Statuses, model.SessionStatus(raw))
		}
	}

	views, err := h.sessionService.List(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": views,
		"limit":    pagination.Limit,
		"offset":   pagination.Offset,
	})
}

// GET /v1/sessions/summary?mentorId=..
func (h *SessionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sessionService.MentoringSummary(r.Context(), r.URL.Query().Get("mentorId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GET /v1/sessions/summary/by-date?mentorId=..&year=2025
func (h *SessionHandler) SummaryByDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := service.ParseYear(q.Get("year"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	graph, err := h.sessionService.CompletedByDate(r.Context(), q.Get("mentorId"), year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

// GET /v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessionService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /v1/sessions/{id}/state
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessionService.State(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PUT /v1/sessions/{id}/status
func (h *SessionHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateStatusInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.sessionService.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PUT /v1/sessions/{id}/confirm
func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.sessionService.Confirm(r.Context(), chi.URLParam(r, "id"), req.ActorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PUT /v1/sessions/{id}/cancel
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.sessionService.Cancel(r.Context(), chi.URLParam(r, "id"), req.ActorID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PUT /v1/sessions/{id}/expire
func (h *SessionHandler) Expire(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessionService.ExpireSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /v1/sessions/{id}/join
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.sessionService.Join(r.Context(), chi.URLParam(r, "id"), req.ActorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PUT /v1/sessions/{id}/meeting-status
func (h *SessionHandler) UpdateMeetingStatus(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateMeetingInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.sessionService.UpdateMeetingStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mentorlink/session-server/internal/config"
	"github.com/mentorlink/session-server/internal/lifecycle"
	"github.com/mentorlink/session-server/internal/service"
	"github.com/mentorlink/session-server/internal/sse"
)

// SessionReader loads the session a stream is opened for.
type SessionReader interface {
	Get(ctx context.Context, id string) (*service.SessionView, error)
	Location() *time.Location
}

// EventSubscriber delivers status changes published by any instance.
type EventSubscriber interface {
	Subscribe(sessionID string) *sse.Client
	Unsubscribe(client *sse.Client)
}

// EventsHandler streams the derived state of one session every tick, plus
// status changes relayed through the broker.
type EventsHandler struct {
	sessions  SessionReader
	watcher   *lifecycle.Watcher
	broker    EventSubscriber
	keepalive time.Duration
}

func NewEventsHandler(sessions SessionReader, watcher *lifecycle.Watcher, broker EventSubscriber) *EventsHandler {
	return &EventsHandler{
		sessions:  sessions,
		watcher:   watcher,
		broker:    broker,
		keepalive: config.SSEKeepaliveInterval,
	}
}

// GET /v1/sessions/{id}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	view, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(client)

	if err := h.sendEvent(w, flusher, "connected", view); err != nil {
		return
	}

	sub := h.watcher.Watch(ctx, lifecycle.SnapshotOf(view.Session, h.sessions.Location()))
	defer sub.Close()

	log.Info().
		Str("sessionId", sessionID).
		Msg("session stream opened")

	heartbeat := time.NewTicker(h.keepalive)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("sessionId", sessionID).
				Msg("session stream closed by client")
			return

		case <-sub.Done():
			return

		case <-client.Done:
			return

		case result := <-sub.Updates():
			if err := h.sendEvent(w, flusher, sse.EventState, result); err != nil {
				log.Debug().Err(err).Str("sessionId", sessionID).Msg("failed to send state")
				return
			}

		case event := <-client.Events:
			if event.Type == sse.EventStatusChanged {
				var change service.StatusChange
				if err := json.Unmarshal(event.Data, &change); err == nil && change.Status.Valid() {
					sub.SetStatus(change.Status)
				}
			}
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Debug().Err(err).Str("sessionId", sessionID).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", sessionID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

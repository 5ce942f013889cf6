// Package admin exposes operational endpoints for inspecting stored
// events and forcing redispatch of stuck ones.
package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/roadlabs/roadpay/internal/dispatch"
	"github.com/roadlabs/roadpay/internal/domain"
	"github.com/roadlabs/roadpay/internal/handler"
)

// EventsHandler serves the event inspection endpoints.
type EventsHandler struct {
	events     domain.EventStore
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewEventsHandler creates an admin events handler.
func NewEventsHandler(events domain.EventStore, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		events:     events,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// GetEvent returns a single stored event by id.
func (h *EventsHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "admin.events.get", "Event id is required"))
		return
	}

	ev, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if ev == nil {
		handler.ErrorResponse(w, r, domain.NotFound("admin.events.get", "event", id))
		return
	}

	handler.JSON(w, http.StatusOK, ev)
}

// ListUnprocessed returns events received but never marked processed.
func (h *EventsHandler) ListUnprocessed(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.UnprocessedSince(r.Context(), time.Now().UTC())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

// Stats returns store totals. Per-outcome breakdowns (rejected, failed,
// duplicate) live on /metrics; this reports what is durably true.
func (h *EventsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.events.Stats(r.Context())
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.JSON(w, http.StatusOK, stats)
}

// Redispatch pushes a stored event back through the pipeline.
func (h *EventsHandler) Redispatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "admin.events.redispatch", "Event id is required"))
		return
	}

	ev, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if ev == nil {
		handler.ErrorResponse(w, r, domain.NotFound("admin.events.redispatch", "event", id))
		return
	}

	outcome := h.dispatcher.Redispatch(r.Context(), *ev)
	h.logger.Info("manual redispatch",
		"event_id", id, "type", ev.Type, "outcome", outcome.Code)

	handler.JSON(w, http.StatusOK, map[string]any{
		"event_id": id,
		"status":   string(outcome.Code),
	})
}

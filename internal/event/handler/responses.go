package handler

import (
	"encoding/json"
	"time"

	"tsunami/internal/entity"
	"tsunami/internal/event"
)

// EventResponse is the HTTP response DTO for a single event.
type EventResponse struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	Target     entity.Ref      `json:"target"`
	Data       json.RawMessage `json:"data"`
	Actor      string          `json:"actor,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Aggregates []entity.Ref    `json:"aggregates"`
}

// EventsListResponse wraps the list of events for HTTP response.
type EventsListResponse struct {
	Events []*EventResponse `json:"events"`
	Count  int              `json:"count"`
}

func toResponse(ev *event.Event) *EventResponse {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		data = []byte("{}")
	}
	return &EventResponse{
		ID:         ev.ID.String(),
		EventType:  ev.EventType,
		Target:     ev.Target,
		Data:       data,
		Actor:      ev.Actor,
		CreatedAt:  ev.CreatedAt,
		Aggregates: ev.Aggregates,
	}
}

func toListResponse(events []*event.Event) *EventsListResponse {
	out := make([]*EventResponse, len(events))
	for i, ev := range events {
		out[i] = toResponse(ev)
	}
	return &EventsListResponse{Events: out, Count: len(out)}
}

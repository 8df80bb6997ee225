// Package handler exposes the read-only event query API. Events can only
// be listed and fetched here; no route creates, edits or deletes them.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tsunami/internal/entity"
	"tsunami/internal/event"
	"tsunami/pkg/platform/sentinel"
)

// Store is the read surface the handler needs from the event store.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*event.Event, error)
	List(ctx context.Context, q event.Query) ([]*event.Event, error)
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Handler struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Register mounts the query routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/events", h.handleList)
	r.Get("/events/{id}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.store.List(r.Context(), q)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(events))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	ev, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get event failed", "event_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(ev))
}

func parseQuery(r *http.Request) (event.Query, error) {
	var q event.Query
	params := r.URL.Query()

	if ref, ok, err := parseRef(params.Get("target_type"), params.Get("target_id"), "target"); err != nil {
		return q, err
	} else if ok {
		q.Target = &ref
	}
	if ref, ok, err := parseRef(params.Get("aggregate_type"), params.Get("aggregate_id"), "aggregate"); err != nil {
		return q, err
	} else if ok {
		q.Aggregate = &ref
	}

	q.EventType = params.Get("event_type")
	q.EventTypePrefix = params.Get("event_type_prefix")
	q.Actor = params.Get("actor")

	var err error
	if q.CreatedAfter, err = parseTime(params.Get("from")); err != nil {
		return q, errors.New("invalid 'from' timestamp; use RFC 3339")
	}
	if q.CreatedBefore, err = parseTime(params.Get("to")); err != nil {
		return q, errors.New("invalid 'to' timestamp; use RFC 3339")
	}

	q.Limit = defaultLimit
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return q, errors.New("invalid 'limit'")
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		q.Limit = limit
	}
	if raw := params.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return q, errors.New("invalid 'offset'")
		}
		q.Offset = offset
	}
	return q, nil
}

func parseRef(typ, id, what string) (entity.Ref, bool, error) {
	if typ == "" && id == "" {
		return entity.Ref{}, false, nil
	}
	if typ == "" || id == "" {
		return entity.Ref{}, false, errors.New(what + " filter requires both type and id")
	}
	return entity.Ref{Type: typ, ID: id}, true, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

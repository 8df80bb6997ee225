// Package memory provides an in-memory event.Store used by tests and
// single-process development setups. Semantics match the postgres store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tsunami/internal/entity"
	"tsunami/internal/event"
	"tsunami/pkg/platform/sentinel"
)

type Store struct {
	mu     sync.RWMutex
	events []*event.Event
}

func New() *Store {
	return &Store{}
}

// Append stores the event with its aggregate links. CreatedAt is assigned
// here, mirroring the server-assigned timestamp of the SQL store.
func (s *Store) Append(_ context.Context, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events {
		if existing.ID == ev.ID {
			return sentinel.ErrConflict
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.events = append(s.events, copyEvent(ev))
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if ev.ID == id {
			return copyEvent(ev), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) List(_ context.Context, q event.Query) ([]*event.Event, error) {
	s.mu.RLock()
	matched := make([]*event.Event, 0, len(s.events))
	for _, ev := range s.events {
		if matches(ev, q) {
			matched = append(matched, ev)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}

	out := make([]*event.Event, len(matched))
	for i, ev := range matched {
		out[i] = copyEvent(ev)
	}
	return out, nil
}

func (s *Store) ClearActor(_ context.Context, actor string) (int64, error) {
	if actor == "" {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var cleared int64
	for _, ev := range s.events {
		if ev.Actor == actor {
			ev.Actor = ""
			cleared++
		}
	}
	return cleared, nil
}

func matches(ev *event.Event, q event.Query) bool {
	if q.Target != nil && ev.Target != *q.Target {
		return false
	}
	if q.Aggregate != nil && !hasAggregate(ev, *q.Aggregate) {
		return false
	}
	if q.EventType != "" && ev.EventType != q.EventType {
		return false
	}
	if q.EventTypePrefix != "" && !strings.HasPrefix(ev.EventType, q.EventTypePrefix) {
		return false
	}
	if q.Actor != "" && ev.Actor != q.Actor {
		return false
	}
	if !q.CreatedAfter.IsZero() && ev.CreatedAt.Before(q.CreatedAfter) {
		return false
	}
	if !q.CreatedBefore.IsZero() && ev.CreatedAt.After(q.CreatedBefore) {
		return false
	}
	return true
}

func hasAggregate(ev *event.Event, ref entity.Ref) bool {
	for _, agg := range ev.Aggregates {
		if agg == ref {
			return true
		}
	}
	return false
}

func copyEvent(ev *event.Event) *event.Event {
	out := *ev
	out.Aggregates = append([]entity.Ref(nil), ev.Aggregates...)
	out.Data = ev.Data.Clone()
	return &out
}

package tracking

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"tsunami/internal/event"
)

// Listener reacts to a recorded event. Listeners run synchronously after
// the event has been persisted, inside the recorder's re-entrancy guard, so
// mutations they perform do not produce further events.
type Listener func(ctx context.Context, ev *event.Event)

// Registry holds typed listeners keyed by event type, exact or prefix.
// Registration happens at startup; dispatch is read-only after that, but
// the lock keeps late registration safe.
type Registry struct {
	mu     sync.RWMutex
	exact  map[string][]Listener
	prefix map[string][]Listener
}

func NewRegistry() *Registry {
	return &Registry{
		exact:  make(map[string][]Listener),
		prefix: make(map[string][]Listener),
	}
}

// On registers fn for an exact event type such as "billing.invoice.updated".
func (r *Registry) On(eventType string, fn Listener) {
	r.mu.Lock()
	r.exact[eventType] = append(r.exact[eventType], fn)
	r.mu.Unlock()
}

// OnPrefix registers fn for every event type starting with prefix, e.g.
// "billing.invoice." for all changes to one entity type.
func (r *Registry) OnPrefix(prefix string, fn Listener) {
	r.mu.Lock()
	r.prefix[prefix] = append(r.prefix[prefix], fn)
	r.mu.Unlock()
}

// OnEntity registers fn for the given change kinds of one entity type.
// With no kinds it matches every event for the type.
func (r *Registry) OnEntity(entityType string, kinds []event.ChangeKind, fn Listener) {
	if len(kinds) == 0 {
		r.OnPrefix(entityType+".", fn)
		return
	}
	for _, kind := range kinds {
		r.On(entityType+"."+kind.String(), fn)
	}
}

// Dispatch invokes every listener registered for the event's type. A panic
// in one listener is contained so the remaining listeners still run.
func (r *Registry) Dispatch(ctx context.Context, logger *slog.Logger, ev *event.Event) {
	r.mu.RLock()
	matched := append([]Listener(nil), r.exact[ev.EventType]...)
	for prefix, listeners := range r.prefix {
		if strings.HasPrefix(ev.EventType, prefix) {
			matched = append(matched, listeners...)
		}
	}
	r.mu.RUnlock()

	for _, fn := range matched {
		invoke(ctx, logger, fn, ev)
	}
}

func invoke(ctx context.Context, logger *slog.Logger, fn Listener, ev *event.Event) {
	defer func() {
		if rec := recover(); rec != nil && logger != nil {
			logger.ErrorContext(ctx, "event listener panicked",
				"event_type", ev.EventType,
				"event_id", ev.ID,
				"panic", rec,
			)
		}
	}()
	fn(ctx, ev)
}

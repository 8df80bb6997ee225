package tracking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"tsunami/internal/entity"
	"tsunami/internal/event"
	"tsunami/internal/tracking/metrics"
)

// Notifier fans a recorded event out to external subscribers. Delivery is
// best effort, at most once; a failed publish is logged, never propagated.
type Notifier interface {
	Publish(ctx context.Context, ev *event.Event) error
}

// Recorder turns mutation notifications into persisted audit events.
//
// Per notification it runs: eligibility and suspend gates, diff, drop on an
// empty update diff, aggregate resolution, then one atomic store write of
// the event and all its aggregate links. Recording is synchronous with the
// mutation, so per-entity event order matches commit order.
//
// Tracking is auxiliary to the mutation it describes: every failure is
// contained here, logged and returned to the caller, and only rolls the
// mutation back if the host composed both in one transaction via
// pkg/platform/tx.
type Recorder struct {
	store     event.Store
	policy    *Policy
	differ    *Differ
	listeners *Registry
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	maxDepth  int
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithPolicy(p *Policy) Option {
	return func(r *Recorder) { r.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

func WithListeners(reg *Registry) Option {
	return func(r *Recorder) { r.listeners = reg }
}

func WithNotifier(n Notifier) Option {
	return func(r *Recorder) { r.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func WithMaxAggregateDepth(depth int) Option {
	return func(r *Recorder) { r.maxDepth = depth }
}

// New builds a Recorder around the given event store.
func New(store event.Store, opts ...Option) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	r := &Recorder{
		store:    store,
		maxDepth: DefaultMaxAggregateDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.policy == nil {
		r.policy = NewPolicy(r.logger)
	}
	if r.differ == nil {
		r.differ = NewDiffer(r.logger)
	}
	if r.listeners == nil {
		r.listeners = NewRegistry()
	}
	return r, nil
}

// Listeners returns the recorder's listener registry for registration.
func (r *Recorder) Listeners() *Registry { return r.listeners }

// OnLoaded caches the entity's pre-change snapshot so a later update can be
// diffed without re-reading storage. Fired by the host after an entity is
// materialized from storage.
func (r *Recorder) OnLoaded(ctx context.Context, e entity.Entity) {
	if recording(ctx) || Suspended(ctx) {
		return
	}
	typ := e.EntityType()
	if Muted(ctx, typ, SignalLoaded) || !r.policy.IsTracked(typ) {
		return
	}
	if err := r.differ.CapturePreState(ctx, e); err != nil {
		r.logger.WarnContext(ctx, "pre-state capture failed",
			"entity_type", typ, "entity_id", e.EntityID(), "error", err)
	}
}

// OnCreated records a create event carrying the full post-state snapshot.
func (r *Recorder) OnCreated(ctx context.Context, e entity.Entity) error {
	return r.record(ctx, e, event.KindCreated, SignalCreated, "")
}

// OnUpdated records an update event carrying only the changed fields. An
// update that changed nothing records no event.
func (r *Recorder) OnUpdated(ctx context.Context, e entity.Entity) error {
	return r.record(ctx, e, event.KindUpdated, SignalUpdated, "")
}

// OnDeleted records a delete event carrying the last known snapshot, when
// one was captured.
func (r *Recorder) OnDeleted(ctx context.Context, e entity.Entity) error {
	return r.record(ctx, e, event.KindDeleted, SignalDeleted, "")
}

// OnRelationshipChanged records a committed add or remove on a multi-valued
// relationship. Only the forward side of a bidirectional relationship
// produces an event; the reverse notification of the same logical change is
// suppressed. The recorded kind is "updated".
func (r *Recorder) OnRelationshipChanged(ctx context.Context, e entity.Entity, field string, forward bool) error {
	if !forward {
		r.drop("reverse_relation")
		return nil
	}
	return r.record(ctx, e, event.KindUpdated, SignalRelationship, field)
}

func (r *Recorder) record(ctx context.Context, e entity.Entity, kind event.ChangeKind, sig Signal, relationshipField string) error {
	if recording(ctx) {
		return nil
	}
	if Suspended(ctx) {
		r.drop("suspended")
		return nil
	}
	typ := e.EntityType()
	if Muted(ctx, typ, sig) {
		r.drop("muted")
		return nil
	}
	if !r.policy.IsTracked(typ) {
		r.drop("untracked")
		return nil
	}
	ctx = withRecording(ctx)
	ref := entity.RefOf(e)

	var (
		data *entity.Snapshot
		err  error
	)
	switch {
	case relationshipField != "":
		data, err = r.differ.DiffRelationship(ctx, e, relationshipField)
	case kind == event.KindCreated:
		data, err = r.differ.Diff(ctx, e, true)
	case kind == event.KindUpdated:
		data, err = r.differ.Diff(ctx, e, false)
		if err == nil && data.Len() == 0 {
			r.drop("empty_diff")
			return nil
		}
	case kind == event.KindDeleted:
		if last, ok := r.differ.Last(ref); ok {
			data = last
		} else {
			data = entity.NewSnapshot()
		}
	}
	if err != nil {
		return r.fail(ctx, ref, kind, fmt.Errorf("compute diff: %w", err))
	}

	aggregates, err := ResolveAggregates(e, r.maxDepth)
	if err != nil {
		return r.fail(ctx, ref, kind, fmt.Errorf("resolve aggregates: %w", err))
	}
	links := make([]entity.Ref, 0, len(aggregates))
	for _, agg := range aggregates {
		links = append(links, entity.RefOf(agg))
	}

	ev := &event.Event{
		ID:         uuid.New(),
		EventType:  r.eventType(e, kind, data),
		Target:     ref,
		Data:       data,
		Actor:      Actor(ctx),
		Aggregates: links,
	}
	if err := r.store.Append(ctx, ev); err != nil {
		if r.metrics != nil {
			r.metrics.PersistFailed()
		}
		return r.fail(ctx, ref, kind, fmt.Errorf("persist event: %w", err))
	}
	if r.metrics != nil {
		r.metrics.Recorded(kind.String())
	}
	// The cached snapshot outlives a failed append so a retried delete
	// still carries the last known state.
	if kind == event.KindDeleted {
		r.differ.Forget(ref)
	}

	r.listeners.Dispatch(ctx, r.logger, ev)
	if r.notifier != nil {
		if err := r.notifier.Publish(ctx, ev); err != nil {
			r.logger.WarnContext(ctx, "event publish failed",
				"event_id", ev.ID, "event_type", ev.EventType, "error", err)
		}
	}
	return nil
}

func (r *Recorder) eventType(e entity.Entity, kind event.ChangeKind, diff *entity.Snapshot) string {
	if custom, ok := e.(entity.CustomEventTyped); ok {
		if override := custom.CustomEventType(diff); override != "" {
			return override
		}
	}
	return e.EntityType() + "." + kind.String()
}

func (r *Recorder) drop(reason string) {
	if r.metrics != nil {
		r.metrics.Dropped(reason)
	}
}

func (r *Recorder) fail(ctx context.Context, ref entity.Ref, kind event.ChangeKind, err error) error {
	r.logger.ErrorContext(ctx, "tracking failed",
		"entity_type", ref.Type,
		"entity_id", ref.ID,
		"change_kind", kind.String(),
		"error", err,
	)
	return err
}

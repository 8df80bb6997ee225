package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tsunami/internal/entity"
)

// Differ computes field-level change sets between two snapshots of an
// entity. Pre-change state is captured eagerly when a tracked entity is
// loaded and kept in a side table keyed by (type, id), so computing an
// update diff needs no second storage read.
//
// The side table is the only shared state in the engine and is guarded by
// its own lock; tracking flags stay context-local and unlocked.
type Differ struct {
	logger *slog.Logger

	mu   sync.RWMutex
	prev map[entity.Ref]*entity.Snapshot
}

// NewDiffer returns a Differ that logs through the given logger.
func NewDiffer(logger *slog.Logger) *Differ {
	if logger == nil {
		logger = slog.Default()
	}
	return &Differ{
		logger: logger,
		prev:   make(map[entity.Ref]*entity.Snapshot),
	}
}

// snapshot captures the entity's current state with every tracking signal
// for its type muted. Serialization may load related entities, and those
// loads must not re-enter the tracking path.
func (d *Differ) snapshot(ctx context.Context, e entity.Entity) (*entity.Snapshot, error) {
	snap, err := entity.SnapshotOf(withMuted(ctx, e.EntityType(), MuteAll()), e)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s/%s: %w", e.EntityType(), e.EntityID(), err)
	}
	return snap, nil
}

// CapturePreState records the entity's current snapshot as its pre-change
// state. Called by the recorder when the entity is loaded from storage.
func (d *Differ) CapturePreState(ctx context.Context, e entity.Entity) error {
	snap, err := d.snapshot(ctx, e)
	if err != nil {
		return err
	}
	d.remember(entity.RefOf(e), snap)
	return nil
}

// Diff returns the field-level change set for a save of e.
//
// For a new entity the diff is the full snapshot. For an update it contains
// every field of the current snapshot that is absent from, or differs from,
// the cached pre-change snapshot; fields present only in the previous
// snapshot are not reported. When no pre-change state was captured (the
// entity was built in-process, not loaded) the diff is empty rather than an
// error, and the condition is logged.
//
// The cached pre-change state is replaced by the current snapshot, so a
// subsequent save diffs against the state just recorded and a no-op save
// yields an empty diff.
func (d *Differ) Diff(ctx context.Context, e entity.Entity, isNew bool) (*entity.Snapshot, error) {
	cur, err := d.snapshot(ctx, e)
	if err != nil {
		return nil, err
	}
	ref := entity.RefOf(e)

	if isNew {
		d.remember(ref, cur)
		return cur, nil
	}

	prev, ok := d.lookup(ref)
	if !ok {
		// Unknown pre-state means unknown changes: report nothing rather
		// than a spurious full snapshot. The current state still seeds the
		// cache so the next save diffs normally.
		d.logger.WarnContext(ctx, "previous state unavailable; treating diff as empty",
			"entity_type", ref.Type,
			"entity_id", ref.ID,
		)
		d.remember(ref, cur)
		return entity.NewSnapshot(), nil
	}

	diff := entity.NewSnapshot()
	for _, name := range cur.Fields() {
		curVal, _ := cur.Get(name)
		prevVal, had := prev.Get(name)
		if !had || string(prevVal) != string(curVal) {
			diff.SetRaw(name, curVal)
		}
	}
	d.remember(ref, cur)
	return diff, nil
}

// DiffRelationship returns the change payload for a committed change to one
// multi-valued relationship: the serialized current member ids of exactly
// that field, not a full entity diff.
func (d *Differ) DiffRelationship(ctx context.Context, e entity.Entity, field string) (*entity.Snapshot, error) {
	holder, ok := e.(entity.RelationshipHolder)
	if !ok {
		return nil, fmt.Errorf("%s does not expose relationship members", e.EntityType())
	}
	members, err := holder.RelationshipMembers(withMuted(ctx, e.EntityType(), MuteAll()), field)
	if err != nil {
		return nil, fmt.Errorf("relationship members %s.%s: %w", e.EntityType(), field, err)
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.EntityID())
	}
	diff := entity.NewSnapshot()
	if err := diff.Set(field, ids); err != nil {
		return nil, err
	}
	return diff, nil
}

// Last returns the cached pre-change snapshot, used as the best-effort
// payload for delete events. May be absent if the entity was never loaded.
func (d *Differ) Last(ref entity.Ref) (*entity.Snapshot, bool) {
	return d.lookup(ref)
}

// Forget drops the cached state for an entity, called after its deletion.
func (d *Differ) Forget(ref entity.Ref) {
	d.mu.Lock()
	delete(d.prev, ref)
	d.mu.Unlock()
}

func (d *Differ) remember(ref entity.Ref, snap *entity.Snapshot) {
	d.mu.Lock()
	d.prev[ref] = snap
	d.mu.Unlock()
}

func (d *Differ) lookup(ref entity.Ref) (*entity.Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap, ok := d.prev[ref]
	return snap, ok
}

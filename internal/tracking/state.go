// Package tracking implements the change-tracking engine: the eligibility
// policy, the diff engine, aggregate resolution, the scoped mute/suspend
// controls and the recorder that ties them together.
package tracking

import (
	"context"
)

// Signal identifies one kind of tracking hook. Mute flags are expressed in
// terms of signals so callers can silence exactly the hooks they need to.
type Signal string

const (
	SignalLoaded       Signal = "loaded"
	SignalCreated      Signal = "created"
	SignalUpdated      Signal = "updated"
	SignalDeleted      Signal = "deleted"
	SignalRelationship Signal = "relationship_changed"
)

// SignalSet is either "all signals" or an enumerated subset.
type SignalSet struct {
	all   bool
	kinds map[Signal]struct{}
}

// MuteAll returns a set covering every tracking signal.
func MuteAll() SignalSet {
	return SignalSet{all: true}
}

// MuteOnly returns a set covering just the given signals.
func MuteOnly(signals ...Signal) SignalSet {
	kinds := make(map[Signal]struct{}, len(signals))
	for _, sig := range signals {
		kinds[sig] = struct{}{}
	}
	return SignalSet{kinds: kinds}
}

// Contains reports whether the set covers sig.
func (s SignalSet) Contains(sig Signal) bool {
	if s.all {
		return true
	}
	_, ok := s.kinds[sig]
	return ok
}

// Tracking state is carried on context.Context rather than in a process-wide
// singleton. Deriving a child context scopes every change naturally: the
// parent context is untouched, so exiting a scope restores the prior state
// and concurrent goroutines holding different contexts never observe each
// other's flags. No locking is required because contexts are immutable.
type (
	actorKey     struct{}
	suspendKey   struct{}
	mutedKey     struct{}
	recordingKey struct{}
)

// WithActor returns a context whose recorded events are stamped with the
// given actor id. Set at the request boundary, before any mutation.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Actor returns the current actor id, or "" when none is set.
func Actor(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Suspended reports whether tracking is suspended in this context.
func Suspended(ctx context.Context) bool {
	depth, _ := ctx.Value(suspendKey{}).(int)
	return depth > 0
}

// WithSuspended runs fn with all tracking suspended. Scopes nest: the
// suspension is held for the duration of the outermost scope, and the
// context passed to fn carries the incremented depth so inner code cannot
// accidentally clear an outer suspension.
func WithSuspended(ctx context.Context, fn func(ctx context.Context) error) error {
	depth, _ := ctx.Value(suspendKey{}).(int)
	return fn(context.WithValue(ctx, suspendKey{}, depth+1))
}

// Muted reports whether sig is muted for entityType in this context.
func Muted(ctx context.Context, entityType string, sig Signal) bool {
	muted, _ := ctx.Value(mutedKey{}).(map[string]SignalSet)
	set, ok := muted[entityType]
	return ok && set.Contains(sig)
}

// WithMutedSignals runs fn with the given signals muted for one entity
// type. Other types, and other contexts, are unaffected; the mute is
// released when fn returns because the caller's context never carried it.
func WithMutedSignals(ctx context.Context, entityType string, signals SignalSet, fn func(ctx context.Context) error) error {
	return fn(withMuted(ctx, entityType, signals))
}

// withMuted derives a context with signals muted for entityType. The muted
// map is copied, never mutated in place, so sibling contexts stay isolated.
func withMuted(ctx context.Context, entityType string, signals SignalSet) context.Context {
	prev, _ := ctx.Value(mutedKey{}).(map[string]SignalSet)
	muted := make(map[string]SignalSet, len(prev)+1)
	for k, v := range prev {
		muted[k] = v
	}
	muted[entityType] = signals
	return context.WithValue(ctx, mutedKey{}, muted)
}

// recording marks a context as being inside the recorder. It is the
// re-entrancy guard: a mutation performed while recording an event (for
// example by a listener or by snapshot serialization) must not spawn a
// second recording.
func recording(ctx context.Context) bool {
	active, _ := ctx.Value(recordingKey{}).(bool)
	return active
}

func withRecording(ctx context.Context) context.Context {
	return context.WithValue(ctx, recordingKey{}, true)
}

// Package entity defines the minimal contract a domain object must satisfy
// for change tracking, plus the optional capability interfaces a type can
// opt into. Capability detection is by interface assertion; a type that does
// not implement a capability gets the default behaviour.
package entity

import (
	"context"
	"strings"
)

// Entity is the minimal surface the tracking engine needs from a domain
// object: a stable namespaced type label and a string identity.
//
// Type labels are lowercase and namespaced as "<namespace>.<name>", e.g.
// "billing.invoice". The namespace is the owning application or module and
// participates in eligibility decisions.
type Entity interface {
	EntityType() string
	EntityID() string
}

// Snapshotter lets a type control how its state is captured. Types that do
// not implement it are snapshotted by reflection over their exported,
// non-relationship fields.
//
// The context carries tracking state; implementations that load related
// data while serializing must pass it through so mute flags are observed.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Aggregatable lets a type declare higher-level owners of its events. The
// resolver recurses into the returned entities, so transitive owners are
// picked up automatically.
type Aggregatable interface {
	EventAggregates() []Entity
}

// CustomEventTyped lets a type override the generated event type token.
// Returning "" falls back to the default "<type label>.<change kind>".
type CustomEventTyped interface {
	CustomEventType(diff *Snapshot) string
}

// RelationshipHolder exposes the current members of a named multi-valued
// relationship. Implemented by types whose relationship changes should be
// tracked; the members are serialized as a list of ids.
type RelationshipHolder interface {
	RelationshipMembers(ctx context.Context, field string) ([]Entity, error)
}

// Ref is a polymorphic (type, id) reference to an entity.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RefOf returns the polymorphic reference for an entity.
func RefOf(e Entity) Ref {
	return Ref{Type: e.EntityType(), ID: e.EntityID()}
}

// Namespace returns the namespace part of a type label, i.e. everything
// before the first dot. A label without a dot is its own namespace.
func Namespace(label string) string {
	if i := strings.Index(label, "."); i >= 0 {
		return label[:i]
	}
	return label
}

// Package event defines the audit Event data model, the query surface and
// the persistence contract. Events are append-only: once written they are
// never updated or deleted, and the read API is strictly observational.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"tsunami/internal/entity"
)

// ChangeKind is the kind of mutation an event describes.
type ChangeKind string

const (
	KindCreated ChangeKind = "created"
	KindUpdated ChangeKind = "updated"
	KindDeleted ChangeKind = "deleted"
)

// String returns the change kind as an event type suffix.
func (k ChangeKind) String() string { return string(k) }

// MaxTargetIDLength bounds target and aggregate ids so the store can index
// them. 40 characters fits both numeric keys and UUIDs.
const MaxTargetIDLength = 40

// Event records one qualifying mutation of a tracked entity.
//
// The ID is a client-generated UUIDv4 so the event can be referenced before
// the transaction that persists it commits. CreatedAt is assigned by the
// store and is immutable. Aggregates holds the resolved (type, id) links;
// it always contains at least the target and never contains duplicates.
type Event struct {
	ID        uuid.UUID        `json:"id"`
	EventType string           `json:"event_type"`
	Target    entity.Ref       `json:"target"`
	Data      *entity.Snapshot `json:"data"`
	Actor     string           `json:"actor,omitempty"`
	CreatedAt time.Time        `json:"created_at"`

	Aggregates []entity.Ref `json:"aggregates"`
}

// Validate checks the invariants a store relies on before persisting.
func (e *Event) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("event id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event type is required")
	}
	if e.Target.Type == "" || e.Target.ID == "" {
		return fmt.Errorf("event target is required")
	}
	if len(e.Target.ID) > MaxTargetIDLength {
		return fmt.Errorf("target id exceeds %d characters", MaxTargetIDLength)
	}
	if len(e.Aggregates) == 0 {
		return fmt.Errorf("event has no aggregate links")
	}
	seen := make(map[entity.Ref]struct{}, len(e.Aggregates))
	for _, ref := range e.Aggregates {
		if ref.Type == "" || ref.ID == "" {
			return fmt.Errorf("aggregate link missing type or id")
		}
		if len(ref.ID) > MaxTargetIDLength {
			return fmt.Errorf("aggregate id exceeds %d characters", MaxTargetIDLength)
		}
		if _, dup := seen[ref]; dup {
			return fmt.Errorf("duplicate aggregate link %s/%s", ref.Type, ref.ID)
		}
		seen[ref] = struct{}{}
	}
	return nil
}

// Query filters the event log. Zero-valued fields do not filter. Results
// are always ordered by created_at descending with id ascending as the
// tie-break, so pagination via Limit/Offset is stable.
type Query struct {
	Target    *entity.Ref
	Aggregate *entity.Ref

	// EventType matches exactly; EventTypePrefix matches a namespace
	// prefix such as "billing.invoice.". Setting both ANDs them, which
	// is rarely useful but harmless.
	EventType       string
	EventTypePrefix string

	Actor string

	// CreatedAfter/CreatedBefore bound CreatedAt inclusively.
	CreatedAfter  time.Time
	CreatedBefore time.Time

	Limit  int
	Offset int
}

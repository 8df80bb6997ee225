package tracking

import (
	"errors"
	"fmt"

	"tsunami/internal/entity"
)

// DefaultMaxAggregateDepth bounds the aggregate graph walk. Legitimate
// ownership chains are shallow; anything deeper is treated as pathological.
const DefaultMaxAggregateDepth = 64

// ErrAggregateDepthExceeded is returned when the aggregate walk does not
// terminate within the configured depth. The affected mutation's tracking
// fails; the aggregate set is never silently truncated.
var ErrAggregateDepthExceeded = errors.New("aggregate graph exceeds maximum depth")

// ResolveAggregates walks an entity's ownership graph and returns every
// aggregate its events should be attached to, the entity itself included.
//
// The walk is depth-first. A visited set keyed by (type, id) makes shared
// sub-aggregates (diamonds) count once and terminates cycles; maxDepth
// (<= 0 means DefaultMaxAggregateDepth) guards against unbounded chains.
// Result membership is deterministic for a fixed graph; order is the
// traversal order and callers must not rely on it.
func ResolveAggregates(e entity.Entity, maxDepth int) ([]entity.Entity, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxAggregateDepth
	}
	visited := make(map[entity.Ref]struct{})
	var out []entity.Entity

	var walk func(n entity.Entity, depth int) error
	walk = func(n entity.Entity, depth int) error {
		if depth > maxDepth {
			return fmt.Errorf("%w: %s/%s at depth %d", ErrAggregateDepthExceeded, n.EntityType(), n.EntityID(), depth)
		}
		ref := entity.RefOf(n)
		if _, seen := visited[ref]; seen {
			return nil
		}
		visited[ref] = struct{}{}
		out = append(out, n)

		if owner, ok := n.(entity.Aggregatable); ok {
			for _, agg := range owner.EventAggregates() {
				if agg == nil {
					continue
				}
				if err := walk(agg, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(e, 1); err != nil {
		return nil, err
	}
	return out, nil
}

package event

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence contract for events and their aggregate links.
//
// Append must write the event and all of its aggregate links atomically:
// a failure leaves neither behind. Implementations honour a transaction
// carried in the context (pkg/platform/tx) so hosts can compose the event
// write with the mutation it describes.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	Get(ctx context.Context, id uuid.UUID) (*Event, error)
	List(ctx context.Context, q Query) ([]*Event, error)

	// ClearActor removes the actor reference from every event recorded
	// by the given actor. Called when the referenced user is deleted;
	// the events themselves are kept.
	ClearActor(ctx context.Context, actor string) (int64, error)
}

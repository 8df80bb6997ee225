package tracking

import (
	"context"
	"fmt"

	"tsunami/internal/entity"
)

// leaf has no optional capabilities at all.
type leaf struct {
	typ string
	id  string
}

func (l *leaf) EntityType() string { return l.typ }
func (l *leaf) EntityID() string   { return l.id }

// node opts into the aggregates capability; owners may form any graph.
type node struct {
	typ    string
	id     string
	owners []entity.Entity
}

func (n *node) EntityType() string               { return n.typ }
func (n *node) EntityID() string                 { return n.id }
func (n *node) EventAggregates() []entity.Entity { return n.owners }

// account is the reflected-snapshot fixture for diff and recorder tests.
type account struct {
	id      string
	Name    string `json:"name"`
	Plan    string `json:"plan"`
	Credits int    `json:"credits"`

	owners  []entity.Entity
	members map[string][]entity.Entity
}

func (a *account) EntityType() string { return "billing.account" }
func (a *account) EntityID() string   { return a.id }

func (a *account) EventAggregates() []entity.Entity { return a.owners }

func (a *account) RelationshipMembers(_ context.Context, field string) ([]entity.Entity, error) {
	members, ok := a.members[field]
	if !ok {
		return nil, fmt.Errorf("no such relationship %q", field)
	}
	return members, nil
}

// renamed overrides the generated event type.
type renamed struct {
	id    string
	Label string `json:"label"`
}

func (r *renamed) EntityType() string { return "billing.plan" }
func (r *renamed) EntityID() string   { return r.id }

func (r *renamed) CustomEventType(*entity.Snapshot) string { return "billing.plan.renamed" }

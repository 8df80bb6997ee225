package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tsunami/internal/entity"
	"tsunami/internal/event"
	"tsunami/pkg/platform/sentinel"
)

type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func (s *StoreSuite) newEvent(mutate ...func(*event.Event)) *event.Event {
	ev := &event.Event{
		ID:        uuid.New(),
		EventType: "billing.account.created",
		Target:    entity.Ref{Type: "billing.account", ID: "a-1"},
		Data:      entity.NewSnapshot(),
		Aggregates: []entity.Ref{
			{Type: "billing.account", ID: "a-1"},
		},
	}
	for _, m := range mutate {
		m(ev)
	}
	return ev
}

func (s *StoreSuite) append(mutate ...func(*event.Event)) *event.Event {
	ev := s.newEvent(mutate...)
	s.Require().NoError(s.store.Append(s.ctx, ev))
	return ev
}

func (s *StoreSuite) TestAppendAndGet() {
	ev := s.append(func(e *event.Event) { e.Actor = "user-1" })

	got, err := s.store.Get(s.ctx, ev.ID)
	s.Require().NoError(err)
	s.Equal(ev.ID, got.ID)
	s.Equal("user-1", got.Actor)
	s.False(got.CreatedAt.IsZero(), "store assigns the timestamp")
}

func (s *StoreSuite) TestGetUnknown() {
	_, err := s.store.Get(s.ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestAppendDuplicateID() {
	ev := s.append()

	dup := s.newEvent(func(e *event.Event) { e.ID = ev.ID })
	s.ErrorIs(s.store.Append(s.ctx, dup), sentinel.ErrConflict)
}

func (s *StoreSuite) TestAppendValidation() {
	s.Run("missing target", func() {
		ev := s.newEvent(func(e *event.Event) { e.Target = entity.Ref{} })
		s.Error(s.store.Append(s.ctx, ev))
	})
	s.Run("missing aggregate links", func() {
		ev := s.newEvent(func(e *event.Event) { e.Aggregates = nil })
		s.Error(s.store.Append(s.ctx, ev))
	})
	s.Run("duplicate aggregate link", func() {
		ev := s.newEvent(func(e *event.Event) {
			e.Aggregates = append(e.Aggregates, e.Aggregates[0])
		})
		s.Error(s.store.Append(s.ctx, ev))
	})
}

func (s *StoreSuite) TestAppendStoresCopy() {
	ev := s.append()
	ev.Actor = "mutated-after-append"

	got, err := s.store.Get(s.ctx, ev.ID)
	s.Require().NoError(err)
	s.Empty(got.Actor)
}

func (s *StoreSuite) TestListOrdering() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := s.append(func(e *event.Event) { e.CreatedAt = base })
	newer := s.append(func(e *event.Event) { e.CreatedAt = base.Add(time.Minute) })

	events, err := s.store.List(s.ctx, event.Query{})
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(newer.ID, events[0].ID)
	s.Equal(older.ID, events[1].ID)
}

func (s *StoreSuite) TestListTieBreakOnID() {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := s.append(func(e *event.Event) { e.CreatedAt = ts })
	b := s.append(func(e *event.Event) { e.CreatedAt = ts })

	events, err := s.store.List(s.ctx, event.Query{})
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	want := []string{a.ID.String(), b.ID.String()}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}
	s.Equal(want, []string{events[0].ID.String(), events[1].ID.String()})
}

func (s *StoreSuite) TestListFilters() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := s.append(func(e *event.Event) {
		e.CreatedAt = base
		e.Actor = "user-1"
	})
	updated := s.append(func(e *event.Event) {
		e.EventType = "billing.account.updated"
		e.Target = entity.Ref{Type: "billing.account", ID: "a-2"}
		e.CreatedAt = base.Add(time.Hour)
		e.Aggregates = []entity.Ref{
			{Type: "billing.account", ID: "a-2"},
			{Type: "core.org", ID: "org-1"},
		}
	})
	other := s.append(func(e *event.Event) {
		e.EventType = "auth.user.created"
		e.Target = entity.Ref{Type: "auth.user", ID: "u-1"}
		e.CreatedAt = base.Add(2 * time.Hour)
		e.Aggregates = []entity.Ref{{Type: "auth.user", ID: "u-1"}}
	})

	s.Run("by target", func() {
		events, err := s.store.List(s.ctx, event.Query{
			Target: &entity.Ref{Type: "billing.account", ID: "a-1"},
		})
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(created.ID, events[0].ID)
	})

	s.Run("by aggregate", func() {
		events, err := s.store.List(s.ctx, event.Query{
			Aggregate: &entity.Ref{Type: "core.org", ID: "org-1"},
		})
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(updated.ID, events[0].ID)
	})

	s.Run("by event type", func() {
		events, err := s.store.List(s.ctx, event.Query{EventType: "auth.user.created"})
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(other.ID, events[0].ID)
	})

	s.Run("by event type prefix", func() {
		events, err := s.store.List(s.ctx, event.Query{EventTypePrefix: "billing.account."})
		s.Require().NoError(err)
		s.Len(events, 2)
	})

	s.Run("by actor", func() {
		events, err := s.store.List(s.ctx, event.Query{Actor: "user-1"})
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(created.ID, events[0].ID)
	})

	s.Run("by time window", func() {
		events, err := s.store.List(s.ctx, event.Query{
			CreatedAfter:  base.Add(30 * time.Minute),
			CreatedBefore: base.Add(90 * time.Minute),
		})
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(updated.ID, events[0].ID)
	})
}

func (s *StoreSuite) TestListPagination() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ev := s.append(func(e *event.Event) { e.CreatedAt = base.Add(time.Duration(i) * time.Minute) })
		ids[i] = ev.ID
	}

	s.Run("limit", func() {
		events, err := s.store.List(s.ctx, event.Query{Limit: 2})
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal(ids[4], events[0].ID)
		s.Equal(ids[3], events[1].ID)
	})

	s.Run("offset", func() {
		events, err := s.store.List(s.ctx, event.Query{Limit: 2, Offset: 2})
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal(ids[2], events[0].ID)
		s.Equal(ids[1], events[1].ID)
	})

	s.Run("offset past the end", func() {
		events, err := s.store.List(s.ctx, event.Query{Offset: 10})
		s.Require().NoError(err)
		s.Empty(events)
	})
}

func (s *StoreSuite) TestClearActor() {
	kept := s.append(func(e *event.Event) { e.Actor = "user-1" })
	s.append(func(e *event.Event) { e.Actor = "user-2" })
	s.append(func(e *event.Event) { e.Actor = "user-2" })

	cleared, err := s.store.ClearActor(s.ctx, "user-2")
	s.Require().NoError(err)
	s.Equal(int64(2), cleared)

	events, err := s.store.List(s.ctx, event.Query{Actor: "user-2"})
	s.Require().NoError(err)
	s.Empty(events, "cleared events no longer match the actor")

	events, err = s.store.List(s.ctx, event.Query{})
	s.Require().NoError(err)
	s.Len(events, 3, "events themselves are kept")

	got, err := s.store.Get(s.ctx, kept.ID)
	s.Require().NoError(err)
	s.Equal("user-1", got.Actor)
}

func (s *StoreSuite) TestClearActorEmpty() {
	s.append(func(e *event.Event) { e.Actor = "" })

	cleared, err := s.store.ClearActor(s.ctx, "")
	s.Require().NoError(err)
	s.Zero(cleared, "empty actor never matches")
}

package tracking

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"tsunami/internal/entity"
	"tsunami/internal/event"
	"tsunami/internal/event/store/memory"
)

type RecorderSuite struct {
	suite.Suite
	store    *memory.Store
	recorder *Recorder
	ctx      context.Context
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.store = memory.New()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	var err error
	s.recorder, err = New(s.store, WithLogger(logger))
	s.Require().NoError(err)
	s.ctx = context.Background()
}

func (s *RecorderSuite) listEvents(q event.Query) []*event.Event {
	events, err := s.store.List(s.ctx, q)
	s.Require().NoError(err)
	return events
}

func (s *RecorderSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.Error(err)
	})
}

func (s *RecorderSuite) TestCreateRecordsFullSnapshot() {
	a := &account{id: "a-1", Name: "acme", Plan: "pro", Credits: 5}
	ctx := WithActor(s.ctx, "user-1")

	s.Require().NoError(s.recorder.OnCreated(ctx, a))

	events := s.listEvents(event.Query{})
	s.Require().Len(events, 1)
	ev := events[0]
	s.Equal("billing.account.created", ev.EventType)
	s.Equal(entity.Ref{Type: "billing.account", ID: "a-1"}, ev.Target)
	s.Equal("user-1", ev.Actor)
	s.Equal([]string{"name", "plan", "credits"}, ev.Data.Fields())
	s.Equal([]entity.Ref{{Type: "billing.account", ID: "a-1"}}, ev.Aggregates)
	s.False(ev.CreatedAt.IsZero())
}

func (s *RecorderSuite) TestUpdateRecordsOnlyChangedFields() {
	a := &account{id: "a-1", Name: "acme", Plan: "pro"}
	s.recorder.OnLoaded(s.ctx, a)

	a.Plan = "enterprise"
	s.Require().NoError(s.recorder.OnUpdated(s.ctx, a))

	events := s.listEvents(event.Query{})
	s.Require().Len(events, 1)
	s.Equal("billing.account.updated", events[0].EventType)
	s.Equal([]string{"plan"}, events[0].Data.Fields())
}

func (s *RecorderSuite) TestNoOpUpdateRecordsNothing() {
	a := &account{id: "a-1", Name: "acme"}
	s.recorder.OnLoaded(s.ctx, a)

	s.Require().NoError(s.recorder.OnUpdated(s.ctx, a))
	s.Empty(s.listEvents(event.Query{}))
}

func (s *RecorderSuite) TestDeleteRecordsLastSnapshot() {
	a := &account{id: "a-1", Name: "acme", Plan: "pro"}
	s.recorder.OnLoaded(s.ctx, a)

	s.Require().NoError(s.recorder.OnDeleted(s.ctx, a))

	events := s.listEvents(event.Query{})
	s.Require().Len(events, 1)
	s.Equal("billing.account.deleted", events[0].EventType)
	s.Equal([]string{"name", "plan", "credits"}, events[0].Data.Fields())
}

func (s *RecorderSuite) TestDeleteWithoutCachedStateStillRecords() {
	a := &account{id: "never-loaded", Name: "acme"}
	s.Require().NoError(s.recorder.OnDeleted(s.ctx, a))

	events := s.listEvents(event.Query{})
	s.Require().Len(events, 1)
	s.Zero(events[0].Data.Len())
}

func (s *RecorderSuite) TestAggregateLinks() {
	org := &leaf{typ: "core.org", id: "org-1"}
	a := &account{id: "a-1", Name: "acme", owners: []entity.Entity{org}}

	s.Require().NoError(s.recorder.OnCreated(s.ctx, a))

	events := s.listEvents(event.Query{Aggregate: &entity.Ref{Type: "core.org", ID: "org-1"}})
	s.Require().Len(events, 1)
	s.ElementsMatch([]entity.Ref{
		{Type: "billing.account", ID: "a-1"},
		{Type: "core.org", ID: "org-1"},
	}, events[0].Aggregates)
}

func (s *RecorderSuite) TestAggregateDepthFailureIsIsolated() {
	recorder, err := New(s.store, WithMaxAggregateDepth(2))
	s.Require().NoError(err)

	deep := &node{typ: "core.c", id: "c"}
	mid := &node{typ: "core.b", id: "b", owners: []entity.Entity{deep}}
	a := &account{id: "a-1", Name: "acme", owners: []entity.Entity{mid}}

	err = recorder.OnCreated(s.ctx, a)
	s.Require().Error(err)
	s.ErrorIs(err, ErrAggregateDepthExceeded)
	s.Empty(s.listEvents(event.Query{}), "no partial event on a failed mutation")
}

func (s *RecorderSuite) TestUntrackedTypeRecordsNothing() {
	policy := NewPolicy(nil, WithBlacklistedTypes("billing.account"))
	recorder, err := New(s.store, WithPolicy(policy))
	s.Require().NoError(err)

	s.Require().NoError(recorder.OnCreated(s.ctx, &account{id: "a-1", Name: "acme"}))
	s.Empty(s.listEvents(event.Query{}))
}

func (s *RecorderSuite) TestCustomEventType() {
	r := &renamed{id: "p-1", Label: "gold"}
	s.Require().NoError(s.recorder.OnCreated(s.ctx, r))

	events := s.listEvents(event.Query{})
	s.Require().Len(events, 1)
	s.Equal("billing.plan.renamed", events[0].EventType)
}

func (s *RecorderSuite) TestRelationshipChange() {
	a := &account{
		id: "a-1",
		members: map[string][]entity.Entity{
			"admins": {&leaf{typ: "auth.user", id: "u-1"}},
		},
	}

	s.Run("reverse side is suppressed", func() {
		s.Require().NoError(s.recorder.OnRelationshipChanged(s.ctx, a, "admins", false))
		s.Empty(s.listEvents(event.Query{}))
	})

	s.Run("forward side records the relationship value", func() {
		s.Require().NoError(s.recorder.OnRelationshipChanged(s.ctx, a, "admins", true))
		events := s.listEvents(event.Query{})
		s.Require().Len(events, 1)
		s.Equal("billing.account.updated", events[0].EventType)
		raw, ok := events[0].Data.Get("admins")
		s.Require().True(ok)
		s.JSONEq(`["u-1"]`, string(raw))
	})
}

func (s *RecorderSuite) TestSuspendedContextRecordsNothing() {
	a := &account{id: "a-1", Name: "acme"}
	err := WithSuspended(s.ctx, func(ctx context.Context) error {
		return s.recorder.OnCreated(ctx, a)
	})
	s.Require().NoError(err)
	s.Empty(s.listEvents(event.Query{}))
}

// One suspended context and one normal context mutate the same entity type
// concurrently; each must independently skip or record.
func (s *RecorderSuite) TestConcurrentSuspendIsolation() {
	var g errgroup.Group
	g.Go(func() error {
		return WithSuspended(context.Background(), func(ctx context.Context) error {
			for i := 0; i < 3; i++ {
				a := &account{id: "suspended", Name: "acme", Credits: i}
				if err := s.recorder.OnUpdated(ctx, a); err != nil {
					return err
				}
			}
			return nil
		})
	})
	g.Go(func() error {
		for i := 0; i < 3; i++ {
			a := &account{id: "live", Name: "acme", Credits: i}
			if err := s.recorder.OnCreated(context.Background(), a); err != nil {
				return err
			}
		}
		return nil
	})
	s.Require().NoError(g.Wait())

	events := s.listEvents(event.Query{})
	s.Len(events, 3)
	for _, ev := range events {
		s.Equal("live", ev.Target.ID)
	}
}

// Muting a type during a bulk operation silences the incidental mutations
// the operation performs, while a concurrent normal update outside the
// muted scope still records exactly one event.
func (s *RecorderSuite) TestMutedBulkOperation() {
	var g errgroup.Group
	g.Go(func() error {
		return WithMutedSignals(context.Background(), "billing.account", MuteAll(), func(ctx context.Context) error {
			for i := 0; i < 100; i++ {
				a := &account{id: "bulk", Name: "acme", Credits: i}
				s.recorder.OnLoaded(ctx, a)
				if err := s.recorder.OnUpdated(ctx, a); err != nil {
					return err
				}
			}
			return nil
		})
	})
	g.Go(func() error {
		a := &account{id: "normal", Name: "acme"}
		return s.recorder.OnCreated(context.Background(), a)
	})
	s.Require().NoError(g.Wait())

	events := s.listEvents(event.Query{})
	s.Require().Len(events, 1)
	s.Equal("normal", events[0].Target.ID)
}

func (s *RecorderSuite) TestListenerDispatch() {
	var exact, prefixed []*event.Event
	s.recorder.Listeners().On("billing.account.created", func(_ context.Context, ev *event.Event) {
		exact = append(exact, ev)
	})
	s.recorder.Listeners().OnEntity("billing.account", nil, func(_ context.Context, ev *event.Event) {
		prefixed = append(prefixed, ev)
	})

	a := &account{id: "a-1", Name: "acme"}
	s.Require().NoError(s.recorder.OnCreated(s.ctx, a))
	s.Require().NoError(s.recorder.OnDeleted(s.ctx, a))

	s.Len(exact, 1)
	s.Len(prefixed, 2)
}

// A listener that mutates entities must not trigger recursive recording:
// the context it receives is inside the re-entrancy guard.
func (s *RecorderSuite) TestListenerCannotRecurse() {
	s.recorder.Listeners().OnPrefix("billing.", func(ctx context.Context, _ *event.Event) {
		other := &account{id: "side-effect", Name: "acme"}
		s.NoError(s.recorder.OnCreated(ctx, other))
	})

	s.Require().NoError(s.recorder.OnCreated(s.ctx, &account{id: "a-1", Name: "acme"}))

	events := s.listEvents(event.Query{})
	s.Require().Len(events, 1)
	s.Equal("a-1", events[0].Target.ID)
}

type failOnceStore struct {
	*memory.Store
	failed bool
}

func (s *failOnceStore) Append(ctx context.Context, ev *event.Event) error {
	if !s.failed {
		s.failed = true
		return errors.New("connection reset")
	}
	return s.Store.Append(ctx, ev)
}

func (s *RecorderSuite) TestRetriedDeleteKeepsLastSnapshot() {
	store := &failOnceStore{Store: s.store}
	recorder, err := New(store)
	s.Require().NoError(err)

	a := &account{id: "a-1", Name: "acme", Plan: "pro"}
	recorder.OnLoaded(s.ctx, a)

	s.Require().Error(recorder.OnDeleted(s.ctx, a))
	s.Require().NoError(recorder.OnDeleted(s.ctx, a))

	events := s.listEvents(event.Query{})
	s.Require().Len(events, 1)
	s.Equal([]string{"name", "plan", "credits"}, events[0].Data.Fields(),
		"the failed attempt must not discard the cached state")
}

type failingStore struct {
	event.Store
}

func (failingStore) Append(context.Context, *event.Event) error {
	return errors.New("broken pipe")
}

func (s *RecorderSuite) TestPersistenceFailurePropagates() {
	recorder, err := New(failingStore{})
	s.Require().NoError(err)

	err = recorder.OnCreated(s.ctx, &account{id: "a-1", Name: "acme"})
	s.Require().Error(err)
	s.Contains(err.Error(), "persist event")
}

// Package tsunami bundles the change-tracking engine for embedding hosts:
// the event store, the recorder with its policy and listener registry, and
// the optional pub/sub notifier, built from one configuration.
//
// A host wires its persistence hooks to the recorder:
//
//	engine, _ := tsunami.NewEngine(cfg, db, logger)
//	// after loading an entity from storage:
//	engine.Recorder.OnLoaded(ctx, invoice)
//	// after committing a mutation:
//	if err := engine.Recorder.OnUpdated(ctx, invoice); err != nil { ... }
package tsunami

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"tsunami/internal/config"
	"tsunami/internal/event"
	"tsunami/internal/event/notify"
	eventpg "tsunami/internal/event/store/postgres"
	"tsunami/internal/tracking"
	"tsunami/internal/tracking/metrics"
)

// Engine is the assembled tracking engine.
type Engine struct {
	Recorder *tracking.Recorder
	Store    event.Store
}

// NewEngine builds an Engine backed by the given database. The schema must
// already be migrated (migrations.Up).
func NewEngine(cfg config.Config, db *sql.DB, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store := eventpg.New(db)

	var policyOpts []tracking.PolicyOption
	if len(cfg.BlacklistedTypes) > 0 {
		policyOpts = append(policyOpts, tracking.WithBlacklistedTypes(cfg.BlacklistedTypes...))
	}
	if len(cfg.WhitelistedTypes) > 0 {
		policyOpts = append(policyOpts, tracking.WithWhitelistedTypes(cfg.WhitelistedTypes...))
	}
	if len(cfg.BlacklistedNamespaces) > 0 {
		policyOpts = append(policyOpts, tracking.WithBlacklistedNamespaces(cfg.BlacklistedNamespaces...))
	}
	if len(cfg.WhitelistedNamespaces) > 0 {
		policyOpts = append(policyOpts, tracking.WithWhitelistedNamespaces(cfg.WhitelistedNamespaces...))
	}

	opts := []tracking.Option{
		tracking.WithLogger(logger),
		tracking.WithPolicy(tracking.NewPolicy(logger, policyOpts...)),
		tracking.WithMetrics(metrics.New()),
		tracking.WithMaxAggregateDepth(cfg.MaxAggregateDepth),
	}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(redisOpts)
		opts = append(opts, tracking.WithNotifier(notify.NewRedisPublisher(client, cfg.PublishChannel, logger)))
	}

	recorder, err := tracking.New(store, opts...)
	if err != nil {
		return nil, err
	}

	// Deleting the actor's user entity clears the actor reference on the
	// events they recorded; the events themselves are kept.
	recorder.Listeners().On(cfg.ActorEntityType+"."+event.KindDeleted.String(), func(ctx context.Context, ev *event.Event) {
		cleared, err := store.ClearActor(ctx, ev.Target.ID)
		if err != nil {
			logger.ErrorContext(ctx, "clear actor failed", "actor", ev.Target.ID, "error", err)
			return
		}
		if cleared > 0 {
			logger.InfoContext(ctx, "cleared actor reference", "actor", ev.Target.ID, "events", cleared)
		}
	})

	return &Engine{Recorder: recorder, Store: store}, nil
}

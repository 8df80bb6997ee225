// Package postgres implements event.Store on PostgreSQL. The event row and
// its aggregate link rows are written in a single transaction; when the
// context carries a caller transaction the write joins it instead.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tsunami/internal/entity"
	"tsunami/internal/event"
	"tsunami/pkg/platform/sentinel"
	txcontext "tsunami/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts the event and all of its aggregate links atomically.
// created_at is assigned by the database and read back into the event.
func (s *Store) Append(ctx context.Context, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	return txcontext.Within(ctx, s.db, func(ctx context.Context) error {
		execer := txcontext.ExecutorFrom(ctx, s.db)

		var actor sql.NullString
		if ev.Actor != "" {
			actor = sql.NullString{String: ev.Actor, Valid: true}
		}
		row := execer.QueryRowContext(ctx, `
			INSERT INTO events (id, event_type, target_type, target_id, data, actor)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`, ev.ID, ev.EventType, ev.Target.Type, ev.Target.ID, data, actor)
		if err := row.Scan(&ev.CreatedAt); err != nil {
			return fmt.Errorf("insert event: %w", translate(err))
		}

		for _, agg := range ev.Aggregates {
			_, err := execer.ExecContext(ctx, `
				INSERT INTO event_aggregates (event_id, aggregate_type, aggregate_id)
				VALUES ($1, $2, $3)
			`, ev.ID, agg.Type, agg.ID)
			if err != nil {
				return fmt.Errorf("insert aggregate link %s/%s: %w", agg.Type, agg.ID, translate(err))
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*event.Event, error) {
	execer := txcontext.ExecutorFrom(ctx, s.db)
	row := execer.QueryRowContext(ctx, `
		SELECT id, event_type, target_type, target_id, data, actor, created_at
		FROM events
		WHERE id = $1
	`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	if err := s.attachAggregates(ctx, []*event.Event{ev}); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Store) List(ctx context.Context, q event.Query) ([]*event.Event, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Target != nil {
		where = append(where, fmt.Sprintf("target_type = %s AND target_id = %s", arg(q.Target.Type), arg(q.Target.ID)))
	}
	if q.Aggregate != nil {
		where = append(where, fmt.Sprintf(`id IN (
			SELECT event_id FROM event_aggregates
			WHERE aggregate_type = %s AND aggregate_id = %s
		)`, arg(q.Aggregate.Type), arg(q.Aggregate.ID)))
	}
	if q.EventType != "" {
		where = append(where, "event_type = "+arg(q.EventType))
	}
	if q.EventTypePrefix != "" {
		where = append(where, "event_type LIKE "+arg(likePrefix(q.EventTypePrefix)))
	}
	if q.Actor != "" {
		where = append(where, "actor = "+arg(q.Actor))
	}
	if !q.CreatedAfter.IsZero() {
		where = append(where, "created_at >= "+arg(q.CreatedAfter))
	}
	if !q.CreatedBefore.IsZero() {
		where = append(where, "created_at <= "+arg(q.CreatedBefore))
	}

	query := `
		SELECT id, event_type, target_type, target_id, data, actor, created_at
		FROM events
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET " + arg(q.Offset)
	}

	execer := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := execer.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if err := s.attachAggregates(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ClearActor(ctx context.Context, actor string) (int64, error) {
	if actor == "" {
		return 0, nil
	}
	execer := txcontext.ExecutorFrom(ctx, s.db)
	res, err := execer.ExecContext(ctx, `UPDATE events SET actor = NULL WHERE actor = $1`, actor)
	if err != nil {
		return 0, fmt.Errorf("clear actor: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) attachAggregates(ctx context.Context, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*event.Event, len(events))
	ids := make([]uuid.UUID, 0, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
		ids = append(ids, ev.ID)
	}

	execer := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := execer.QueryContext(ctx, `
		SELECT event_id, aggregate_type, aggregate_id
		FROM event_aggregates
		WHERE event_id = ANY($1)
		ORDER BY aggregate_type, aggregate_id
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query aggregate links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eventID uuid.UUID
			ref     entity.Ref
		)
		if err := rows.Scan(&eventID, &ref.Type, &ref.ID); err != nil {
			return fmt.Errorf("scan aggregate link: %w", err)
		}
		if ev, ok := byID[eventID]; ok {
			ev.Aggregates = append(ev.Aggregates, ref)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		ev    event.Event
		data  []byte
		actor sql.NullString
	)
	if err := row.Scan(&ev.ID, &ev.EventType, &ev.Target.Type, &ev.Target.ID, &data, &actor, &ev.CreatedAt); err != nil {
		return nil, err
	}
	ev.Data = entity.NewSnapshot()
	if len(data) > 0 {
		if err := json.Unmarshal(data, ev.Data); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
	}
	ev.Actor = actor.String
	return &ev, nil
}

func likePrefix(prefix string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return escaped + "%"
}

func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, pqErr.Message)
	}
	return err
}

var _ event.Store = (*Store)(nil)

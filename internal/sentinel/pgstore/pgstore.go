// Package pgstore provides a PostgreSQL implementation of sentinel.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sentinel/internal/event"
	"github.com/linnemanlabs/sentinel/internal/notice"
	"github.com/linnemanlabs/sentinel/internal/sentinel"
	"github.com/linnemanlabs/sentinel/internal/target"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sentinel/internal/sentinel/pgstore")

//go:embed schema.sql
var schema string

// Store persists notices, events and targets in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller
// owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const targetColumns = `id, event_key, notice_id, strategy, name, ra, dec, error_radius, tile, tile_prob,
	rank, start_at, stop_at, cadence, exposure_sets, constraints, repeat, next_eligible, status, created_at`

// Commit writes the notice, the event state and the targets in one
// transaction. An already stored notice ID rolls back and reports
// inserted=false.
func (s *Store) Commit(ctx context.Context, rec *sentinel.Record) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Commit", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
		attribute.String("sentinel.notice_id", rec.Notice.ID),
		attribute.Int("sentinel.targets", len(rec.Targets)),
	))
	defer span.End()

	fail := func(err error) (bool, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := s.upsertEvent(ctx, tx, sentinel.StoredEventFrom(rec.Event, rec.Strategy)); err != nil {
		return fail(err)
	}

	inserted, err := s.insertNotice(ctx, tx, rec.Event.Key, rec.Notice)
	if err != nil {
		return fail(err)
	}
	if !inserted {
		span.SetAttributes(attribute.Bool("sentinel.duplicate", true))
		return false, nil
	}

	if rec.Event.Retracted() {
		tag, err := tx.Exec(ctx,
			`UPDATE targets SET status = $1 WHERE event_key = $2 AND status = $3`,
			string(target.StatusInvalidated), rec.Event.Key, string(target.StatusPending),
		)
		if err != nil {
			return fail(fmt.Errorf("invalidate targets: %w", err))
		}
		span.SetAttributes(attribute.Int64("sentinel.invalidated", tag.RowsAffected()))
	}

	for _, t := range rec.Targets {
		if err := s.insertTarget(ctx, tx, t); err != nil {
			return fail(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	return true, nil
}

func (s *Store) upsertEvent(ctx context.Context, tx pgx.Tx, ev *sentinel.StoredEvent) error {
	query := `INSERT INTO events (key, source, status, current_notice, strategy, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (key) DO UPDATE SET
		status         = EXCLUDED.status,
		current_notice = EXCLUDED.current_notice,
		strategy       = COALESCE(NULLIF(EXCLUDED.strategy, ''), events.strategy),
		updated_at     = EXCLUDED.updated_at`

	_, err := tx.Exec(ctx, query,
		ev.Key, ev.Source, string(ev.Status), ev.CurrentNotice, ev.Strategy, ev.Created, ev.Updated,
	)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", ev.Key, err)
	}
	return nil
}

func (s *Store) insertNotice(ctx context.Context, tx pgx.Tx, eventKey string, n *notice.Notice) (bool, error) {
	locJSON, err := json.Marshal(n.Localization)
	if err != nil {
		return false, fmt.Errorf("marshal localization: %w", err)
	}
	attrJSON, err := json.Marshal(n.Attributes)
	if err != nil {
		return false, fmt.Errorf("marshal attributes: %w", err)
	}
	citeJSON, err := json.Marshal(n.Citations)
	if err != nil {
		return false, fmt.Errorf("marshal citations: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO notices (id, event_key, schema_name, source, event_id, subtype, role, format,
			issued_at, event_time, sequence, localization, attributes, citations, payload)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 ON CONFLICT (id) DO NOTHING`,
		n.ID, eventKey, string(n.Schema), n.Source, n.EventID, n.Subtype, string(n.Role), string(n.Format),
		n.Time, n.EventTime, n.Sequence, locJSON, attrJSON, citeJSON, n.Payload,
	)
	if err != nil {
		return false, fmt.Errorf("insert notice %s: %w", n.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) insertTarget(ctx context.Context, tx pgx.Tx, t *target.Target) error {
	cadenceJSON, err := json.Marshal(t.Cadence)
	if err != nil {
		return fmt.Errorf("marshal cadence: %w", err)
	}
	expJSON, err := json.Marshal(t.ExposureSets)
	if err != nil {
		return fmt.Errorf("marshal exposure sets: %w", err)
	}
	consJSON, err := json.Marshal(t.Constraints)
	if err != nil {
		return fmt.Errorf("marshal constraints: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO targets (`+targetColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		t.ID, t.EventKey, t.NoticeID, t.Strategy, t.Name, t.RA, t.Dec, t.ErrorRadius, t.Tile, t.TileProb,
		t.Rank, t.Start, t.Stop, cadenceJSON, expJSON, consJSON, t.Repeat, t.NextEligible, string(t.Status), t.Created,
	)
	if err != nil {
		return fmt.Errorf("insert target %s: %w", t.Name, err)
	}
	return nil
}

// Event retrieves an event and its notice identifiers in arrival order.
func (s *Store) Event(ctx context.Context, key string) (*sentinel.StoredEvent, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Event", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		ev     sentinel.StoredEvent
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT key, source, status, current_notice, strategy, created_at, updated_at
		 FROM events WHERE key = $1`, key,
	).Scan(&ev.Key, &ev.Source, &status, &ev.CurrentNotice, &ev.Strategy, &ev.Created, &ev.Updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan event: %w", err)
	}
	ev.Status = event.Status(status)

	rows, err := s.pool.Query(ctx, `SELECT id FROM notices WHERE event_key = $1 ORDER BY arrival`, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("query notices: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("collect notices: %w", err)
	}
	ev.Notices = ids
	return &ev, true, nil
}

// Targets returns an event's targets in insert order.
func (s *Store) Targets(ctx context.Context, eventKey string) ([]*target.Target, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Targets", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE event_key = $1 ORDER BY created_at, name`, eventKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var out []*target.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return out, nil
}

func scanTarget(row pgx.Row) (*target.Target, error) {
	var (
		t           target.Target
		status      string
		cadenceJSON []byte
		expJSON     []byte
		consJSON    []byte
	)
	err := row.Scan(
		&t.ID, &t.EventKey, &t.NoticeID, &t.Strategy, &t.Name, &t.RA, &t.Dec, &t.ErrorRadius, &t.Tile, &t.TileProb,
		&t.Rank, &t.Start, &t.Stop, &cadenceJSON, &expJSON, &consJSON, &t.Repeat, &t.NextEligible, &status, &t.Created,
	)
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	t.Status = target.Status(status)
	if err := json.Unmarshal(cadenceJSON, &t.Cadence); err != nil {
		return nil, fmt.Errorf("unmarshal cadence %s: %w", t.ID, err)
	}
	if err := json.Unmarshal(expJSON, &t.ExposureSets); err != nil {
		return nil, fmt.Errorf("unmarshal exposure sets %s: %w", t.ID, err)
	}
	if err := json.Unmarshal(consJSON, &t.Constraints); err != nil {
		return nil, fmt.Errorf("unmarshal constraints %s: %w", t.ID, err)
	}
	return &t, nil
}

package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/devflow-ai/devflow/pkg/models"
)

// Postgres stores events durably in PostgreSQL. Version assignment is
// serialized per aggregate with transaction-scoped advisory locks, so
// concurrent writers see the same conflict semantics as the in-memory store.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool. The schema is managed by the
// database package's embedded migrations.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const eventColumns = "id, aggregate_id, aggregate_type, event_type, data, metadata, version, created_at"

func (s *Postgres) Append(ctx context.Context, event *models.Event) error {
	if event == nil {
		return models.E(models.ErrorValidation, "event must not be nil")
	}
	if event.AggregateID == "" {
		return models.E(models.ErrorValidation, "event aggregate id must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.WrapError(models.ErrorInternal, err, "begin append")
	}
	defer func() { _ = tx.Rollback() }()

	latest, err := lockAggregate(ctx, tx, event.AggregateID)
	if err != nil {
		return err
	}
	switch {
	case event.Version == 0:
		event.Version = latest + 1
	case event.Version <= latest:
		return models.Ef(models.ErrorConflict,
			"version %d for aggregate %s is not above latest %d",
			event.Version, event.AggregateID, latest)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return models.WrapError(models.ErrorInternal, err, "commit append")
	}
	return nil
}

func (s *Postgres) AppendBatch(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	aggregates := make([]string, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, evt := range events {
		if evt == nil {
			return models.E(models.ErrorValidation, "event must not be nil")
		}
		if evt.AggregateID == "" {
			return models.E(models.ErrorValidation, "event aggregate id must not be empty")
		}
		if !seen[evt.AggregateID] {
			seen[evt.AggregateID] = true
			aggregates = append(aggregates, evt.AggregateID)
		}
	}
	// Locking aggregates in sorted order keeps concurrent batches from
	// deadlocking on each other.
	sort.Strings(aggregates)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.WrapError(models.ErrorInternal, err, "begin append batch")
	}
	defer func() { _ = tx.Rollback() }()

	latests := make(map[string]int64, len(aggregates))
	for _, agg := range aggregates {
		latest, err := lockAggregate(ctx, tx, agg)
		if err != nil {
			return err
		}
		latests[agg] = latest
	}

	// Dry-run against a copy of the version table so a mid-batch conflict
	// leaves the store and the caller's events untouched.
	shadow := make(map[string]int64, len(latests))
	for k, v := range latests {
		shadow[k] = v
	}
	for _, evt := range events {
		next := evt.Version
		if next == 0 {
			next = shadow[evt.AggregateID] + 1
		} else if next <= shadow[evt.AggregateID] {
			return models.Ef(models.ErrorConflict,
				"version %d for aggregate %s is not above latest %d",
				next, evt.AggregateID, shadow[evt.AggregateID])
		}
		shadow[evt.AggregateID] = next
	}

	for _, evt := range events {
		if evt.Version == 0 {
			evt.Version = latests[evt.AggregateID] + 1
		}
		latests[evt.AggregateID] = evt.Version
		if evt.ID == "" {
			evt.ID = uuid.NewString()
		}
		if evt.Timestamp.IsZero() {
			evt.Timestamp = time.Now().UTC()
		}
		if err := insertEvent(ctx, tx, evt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.WrapError(models.ErrorInternal, err, "commit append batch")
	}
	return nil
}

func (s *Postgres) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE aggregate_id = $1 AND version > $2 ORDER BY version",
		aggregateID, fromVersion)
	if err != nil {
		return nil, models.WrapError(models.ErrorInternal, err, "query aggregate events")
	}
	return collectEvents(rows)
}

func (s *Postgres) Query(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.AggregateID != "" {
		add("aggregate_id = $%d", filter.AggregateID)
	}
	if filter.AggregateType != "" {
		add("aggregate_type = $%d", string(filter.AggregateType))
	}
	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.Since != nil {
		add("created_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("created_at <= $%d", *filter.Until)
	}

	query := "SELECT " + eventColumns + " FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// seq preserves global append order across aggregates.
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.WrapError(models.ErrorInternal, err, "query events")
	}
	return collectEvents(rows)
}

func (s *Postgres) GetLatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	var latest int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`,
		aggregateID).Scan(&latest)
	if err != nil {
		return 0, models.WrapError(models.ErrorInternal, err, "read latest version for "+aggregateID)
	}
	return latest, nil
}

func (s *Postgres) SaveSnapshot(ctx context.Context, snapshot *models.Snapshot) error {
	if snapshot == nil || snapshot.AggregateID == "" {
		return models.E(models.ErrorValidation, "snapshot aggregate id must not be empty")
	}
	ts := snapshot.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (aggregate_id) DO UPDATE
		SET aggregate_type = EXCLUDED.aggregate_type,
		    version = EXCLUDED.version,
		    state = EXCLUDED.state,
		    created_at = EXCLUDED.created_at
		WHERE snapshots.version < EXCLUDED.version`,
		snapshot.AggregateID, string(snapshot.AggregateType), snapshot.Version,
		string(snapshot.State), ts)
	if err != nil {
		return models.WrapError(models.ErrorInternal, err, "save snapshot")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.WrapError(models.ErrorInternal, err, "save snapshot")
	}
	if affected == 0 {
		var stored int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT version FROM snapshots WHERE aggregate_id = $1`,
			snapshot.AggregateID).Scan(&stored); err != nil {
			return models.WrapError(models.ErrorInternal, err, "read stored snapshot version")
		}
		return models.Ef(models.ErrorConflict,
			"snapshot version %d for aggregate %s is not above stored %d",
			snapshot.Version, snapshot.AggregateID, stored)
	}
	return nil
}

func (s *Postgres) GetSnapshot(ctx context.Context, aggregateID string) (*models.Snapshot, error) {
	snap := models.Snapshot{AggregateID: aggregateID}
	err := s.db.QueryRowContext(ctx,
		`SELECT aggregate_type, version, state, created_at FROM snapshots WHERE aggregate_id = $1`,
		aggregateID).
		Scan(&snap.AggregateType, &snap.Version, &snap.State, &snap.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.WrapError(models.ErrorInternal, err, "load snapshot")
	}
	return &snap, nil
}

func (s *Postgres) DeleteAggregate(ctx context.Context, aggregateID string) error {
	if aggregateID == "" {
		return models.E(models.ErrorValidation, "aggregate id must not be empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.WrapError(models.ErrorInternal, err, "begin delete aggregate")
	}
	defer func() { _ = tx.Rollback() }()

	// Take the same advisory lock appenders do so a delete never interleaves
	// with an in-flight append for the aggregate.
	if _, err := lockAggregate(ctx, tx, aggregateID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE aggregate_id = $1`, aggregateID); err != nil {
		return models.WrapError(models.ErrorInternal, err, "delete aggregate events")
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE aggregate_id = $1`, aggregateID); err != nil {
		return models.WrapError(models.ErrorInternal, err, "delete aggregate snapshot")
	}
	if err := tx.Commit(); err != nil {
		return models.WrapError(models.ErrorInternal, err, "commit delete aggregate")
	}
	return nil
}

// lockAggregate serializes writers on one aggregate for the duration of the
// transaction and returns its latest stored version.
func lockAggregate(ctx context.Context, tx *sql.Tx, aggregateID string) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, aggregateID); err != nil {
		return 0, models.WrapError(models.ErrorInternal, err, "lock aggregate "+aggregateID)
	}
	var latest int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`,
		aggregateID).Scan(&latest); err != nil {
		return 0, models.WrapError(models.ErrorInternal, err, "read latest version for "+aggregateID)
	}
	return latest, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event *models.Event) error {
	dataJSON := []byte("{}")
	if event.Data != nil {
		var err error
		dataJSON, err = json.Marshal(event.Data)
		if err != nil {
			return models.WrapError(models.ErrorInternal, err, "encode event data")
		}
	}
	metaJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return models.WrapError(models.ErrorInternal, err, "encode event metadata")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, metadata, version, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8)`,
		event.ID, event.AggregateID, string(event.AggregateType), event.Type,
		string(dataJSON), string(metaJSON), event.Version, event.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Ef(models.ErrorConflict,
				"event %s for aggregate %s already stored", event.ID, event.AggregateID)
		}
		return models.WrapError(models.ErrorInternal, err, "insert event")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func collectEvents(rows *sql.Rows) ([]models.Event, error) {
	defer rows.Close()
	out := []models.Event{}
	for rows.Next() {
		var (
			evt      models.Event
			data     []byte
			metadata []byte
		)
		if err := rows.Scan(&evt.ID, &evt.AggregateID, &evt.AggregateType, &evt.Type,
			&data, &metadata, &evt.Version, &evt.Timestamp); err != nil {
			return nil, models.WrapError(models.ErrorInternal, err, "scan event row")
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &evt.Data); err != nil {
				return nil, models.WrapError(models.ErrorInternal, err, "decode event data")
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
				return nil, models.WrapError(models.ErrorInternal, err, "decode event metadata")
			}
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapError(models.ErrorInternal, err, "iterate event rows")
	}
	return out, nil
}

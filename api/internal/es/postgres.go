package es

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vm-request-platform/shared/dbx"
	"vm-request-platform/shared/events"
	"vm-request-platform/shared/metricsx"
	"vm-request-platform/shared/tenantx"
)

const uniqueViolation = "23505"

// OutboxStager stages a committed-event envelope for asynchronous dispatch
// inside the append transaction, so the event row and its outbox row commit
// or roll back together.
type OutboxStager interface {
	StageInTx(ctx context.Context, tx pgx.Tx, env events.Envelope, topic string) error
}

// PGStore is the production event store. All reads and writes run inside a
// tenant-bound transaction; the row security policies on the events table
// are the backstop if a query ever runs without the binding.
type PGStore struct {
	pool   *pgxpool.Pool
	outbox OutboxStager
	topics map[string]string
}

// NewPGStore builds a store. topics maps aggregate type to the outbox topic
// its events publish on; aggregate types without a mapping are persisted but
// not staged. outbox may be nil to disable staging entirely.
func NewPGStore(pool *pgxpool.Pool, outbox OutboxStager, topics map[string]string) *PGStore {
	return &PGStore{pool: pool, outbox: outbox, topics: topics}
}

func (s *PGStore) Load(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]StoredEvent, error) {
	var stream []StoredEvent
	err := dbx.InTenantScope(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT event_id, tenant_id, aggregate_type, aggregate_id, event_type, payload, metadata, version, created_at
			FROM events
			WHERE aggregate_type = $1 AND aggregate_id = $2
			ORDER BY version ASC
		`, aggregateType, aggregateID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ev      StoredEvent
				rawMeta []byte
			)
			if err := rows.Scan(
				&ev.EventID, &ev.TenantID, &ev.AggregateType, &ev.AggregateID,
				&ev.EventType, &ev.Payload, &rawMeta, &ev.Version, &ev.CreatedAt,
			); err != nil {
				return err
			}
			if err := json.Unmarshal(rawMeta, &ev.Metadata); err != nil {
				return err
			}
			stream = append(stream, ev)
		}
		return rows.Err()
	})
	if err != nil {
		if errors.Is(err, tenantx.ErrNotBound) {
			return nil, err
		}
		return nil, &StorageError{Op: "load " + aggregateType, Err: err}
	}
	return stream, nil
}

func (s *PGStore) Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, newEvents []NewEvent, expectedVersion int64) (int64, error) {
	if len(newEvents) == 0 {
		return expectedVersion, nil
	}

	start := time.Now()
	version, err := s.append(ctx, aggregateType, aggregateID, newEvents, expectedVersion)
	if err == nil || IsConflict(err) {
		metricsx.ObserveAppend(aggregateType, time.Since(start), nil)
	} else {
		metricsx.ObserveAppend(aggregateType, time.Since(start), err)
	}
	return version, err
}

func (s *PGStore) append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, newEvents []NewEvent, expectedVersion int64) (int64, error) {
	tx, err := dbx.BeginTenantTx(ctx, s.pool)
	if err != nil {
		if errors.Is(err, tenantx.ErrNotBound) {
			return 0, err
		}
		return 0, &StorageError{Op: "begin append", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tenant, _ := tenantx.Require(ctx)
	version := expectedVersion

	for _, ne := range newEvents {
		version++
		eventID := uuid.New()
		createdAt := time.Now().UTC()
		meta := ne.Metadata
		if meta.TenantID == uuid.Nil {
			meta.TenantID = tenant.ID
		}
		if meta.Timestamp.IsZero() {
			meta.Timestamp = createdAt
		}
		rawMeta, err := json.Marshal(meta)
		if err != nil {
			return 0, &StorageError{Op: "encode metadata", Err: err}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO events (event_id, tenant_id, aggregate_type, aggregate_id, event_type, payload, metadata, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, eventID, tenant.ID, aggregateType, aggregateID, ne.EventType, ne.Payload, rawMeta, version, createdAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				_ = tx.Rollback(ctx)
				metricsx.IncConcurrencyConflict(aggregateType)
				actual := s.headVersion(ctx, aggregateType, aggregateID)
				return 0, &ConflictError{
					AggregateID:     aggregateID,
					ExpectedVersion: expectedVersion,
					ActualVersion:   actual,
				}
			}
			return 0, &StorageError{Op: "insert event", Err: err}
		}

		if topic, ok := s.topics[aggregateType]; ok && s.outbox != nil {
			env := events.Envelope{
				EventID:       eventID,
				TenantID:      tenant.ID,
				OccurredAt:    createdAt,
				AggregateType: aggregateType,
				AggregateID:   aggregateID,
				EventType:     ne.EventType,
				Version:       version,
				CorrelationID: meta.CorrelationID,
				Payload:       json.RawMessage(ne.Payload),
			}
			if err := s.outbox.StageInTx(ctx, tx, env, topic); err != nil {
				return 0, &StorageError{Op: "stage outbox", Err: err}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			metricsx.IncConcurrencyConflict(aggregateType)
			actual := s.headVersion(ctx, aggregateType, aggregateID)
			return 0, &ConflictError{
				AggregateID:     aggregateID,
				ExpectedVersion: expectedVersion,
				ActualVersion:   actual,
			}
		}
		return 0, &StorageError{Op: "commit append", Err: err}
	}
	return version, nil
}

// headVersion reads the current head for conflict diagnostics. Best effort:
// a read failure here reports 0 rather than masking the conflict itself.
func (s *PGStore) headVersion(ctx context.Context, aggregateType string, aggregateID uuid.UUID) int64 {
	var head int64
	err := dbx.InTenantScope(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(version), 0)
			FROM events
			WHERE aggregate_type = $1 AND aggregate_id = $2
		`, aggregateType, aggregateID).Scan(&head)
	})
	if err != nil {
		return 0
	}
	return head
}

package es

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"vm-request-platform/shared/tenantx"
)

type streamKey struct {
	tenantID      uuid.UUID
	aggregateType string
	aggregateID   uuid.UUID
}

// MemoryStore is an in-process Store with the same contract as PGStore:
// tenant-scoped streams, contiguous versions, conflict on a stale expected
// version. Used by tests and by handlers that need a store without a
// database.
type MemoryStore struct {
	mu      sync.Mutex
	streams map[streamKey][]StoredEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[streamKey][]StoredEvent)}
}

func (s *MemoryStore) Load(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]StoredEvent, error) {
	tenant, err := tenantx.Require(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[streamKey{tenant.ID, aggregateType, aggregateID}]
	out := make([]StoredEvent, len(stream))
	copy(out, stream)
	return out, nil
}

func (s *MemoryStore) Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, newEvents []NewEvent, expectedVersion int64) (int64, error) {
	tenant, err := tenantx.Require(ctx)
	if err != nil {
		return 0, err
	}
	if len(newEvents) == 0 {
		return expectedVersion, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{tenant.ID, aggregateType, aggregateID}
	stream := s.streams[key]
	head := int64(len(stream))
	if head != expectedVersion {
		return 0, &ConflictError{
			AggregateID:     aggregateID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   head,
		}
	}

	version := expectedVersion
	for _, ne := range newEvents {
		version++
		meta := ne.Metadata
		if meta.TenantID == uuid.Nil {
			meta.TenantID = tenant.ID
		}
		createdAt := time.Now().UTC()
		if meta.Timestamp.IsZero() {
			meta.Timestamp = createdAt
		}
		stream = append(stream, StoredEvent{
			EventID:       uuid.New(),
			TenantID:      tenant.ID,
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			EventType:     ne.EventType,
			Payload:       append([]byte(nil), ne.Payload...),
			Metadata:      meta,
			Version:       version,
			CreatedAt:     createdAt,
		})
	}
	s.streams[key] = stream
	return version, nil
}

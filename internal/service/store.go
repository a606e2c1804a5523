package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/campus-tools/canvaswatch/internal/dto"
)

const snapshotKey = "canvaswatch:snapshot:latest"

// Health describes the poll loop's current state as exposed by the health
// endpoint.
type Health struct {
	Degraded            bool       `json:"degraded"`
	LastRefresh         *time.Time `json:"last_refresh"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// SnapshotStore holds the single most recent snapshot. Writes happen from the
// poll loop only; readers receive an immutable copy of the published value.
// When a Redis client is supplied the latest snapshot is also persisted so a
// restart can serve last-known-good data before the first cycle completes.
type SnapshotStore struct {
	mu       sync.RWMutex
	latest   *dto.Snapshot
	health   Health
	redis    *redis.Client
	redisTTL time.Duration
	logger   zerolog.Logger
}

// NewSnapshotStore creates a snapshot store. redisClient may be nil.
func NewSnapshotStore(redisClient *redis.Client, logger zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		redis:  redisClient,
		logger: logger.With().Str("component", "snapshot_store").Logger(),
	}
}

// Publish atomically replaces the published snapshot and clears the failure
// state. Redis persistence failures are logged, never fatal.
func (s *SnapshotStore) Publish(ctx context.Context, snapshot dto.Snapshot) {
	now := snapshot.GeneratedAt

	s.mu.Lock()
	s.latest = &snapshot
	s.health = Health{LastRefresh: &now}
	s.mu.Unlock()

	if s.redis == nil {
		return
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode snapshot for persistence")
		return
	}
	if err := s.redis.Set(ctx, snapshotKey, payload, 0).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist snapshot")
	}
}

// RecordFailure marks the store degraded while keeping the last-known-good
// snapshot in place.
func (s *SnapshotStore) RecordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health.Degraded = true
	s.health.LastError = err.Error()
	s.health.ConsecutiveFailures++
}

// Latest returns the published snapshot, if any cycle has succeeded yet.
func (s *SnapshotStore) Latest() (dto.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return dto.Snapshot{}, false
	}
	return *s.latest, true
}

// Health reports the poll loop state.
func (s *SnapshotStore) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// Restore loads the persisted snapshot from Redis, if present. Used at boot
// so the read surface serves data before the first cycle completes. A restored
// snapshot counts as degraded until a fresh cycle succeeds.
func (s *SnapshotStore) Restore(ctx context.Context) bool {
	if s.redis == nil {
		return false
	}

	payload, err := s.redis.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read persisted snapshot")
		}
		return false
	}

	var snapshot dto.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		s.logger.Warn().Err(err).Msg("discarding undecodable persisted snapshot")
		return false
	}

	s.mu.Lock()
	s.latest = &snapshot
	s.health.Degraded = true
	s.mu.Unlock()

	s.logger.Info().Time("generated_at", snapshot.GeneratedAt).Msg("restored persisted snapshot")
	return true
}

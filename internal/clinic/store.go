package clinic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightline-ai/concierge/pkg/logging"
)

// profileTTL bounds how stale a cached profile may get. Postgres stays the
// source of truth; replicas may serve slightly different snapshots.
const profileTTL = 10 * time.Minute

// Store serves clinic profiles from a Redis cache in front of the
// registry. Cache failures degrade to registry reads; they never fail a
// lookup the registry can answer.
type Store struct {
	redis    *redis.Client
	registry Registry
	logger   *logging.Logger
}

// NewStore creates a cached profile store.
func NewStore(redisClient *redis.Client, registry Registry, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{redis: redisClient, registry: registry, logger: logger}
}

func (s *Store) key(clinicID string) string {
	return fmt.Sprintf("clinic:profile:%s", clinicID)
}

// Get retrieves a clinic profile, preferring the cache.
func (s *Store) Get(ctx context.Context, clinicID string) (*Profile, error) {
	if s.redis != nil {
		data, err := s.redis.Get(ctx, s.key(clinicID)).Bytes()
		switch {
		case err == nil:
			var p Profile
			if jsonErr := json.Unmarshal(data, &p); jsonErr == nil {
				return &p, nil
			}
			// Corrupt entry: refetch and overwrite below.
			s.logger.Warn("clinic profile cache corrupt", "clinic_id", clinicID)
		case err != redis.Nil:
			s.logger.Warn("clinic profile cache read failed", "clinic_id", clinicID, "error", err)
		}
	}

	profile, err := s.registry.ProfileByID(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, profile)
	return profile, nil
}

// Set writes a profile straight to the cache. Used by admin tooling after
// a registry update so replicas converge faster.
func (s *Store) Set(ctx context.Context, p *Profile) error {
	if s.redis == nil || p == nil || p.ClinicID == "" {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("clinic: marshal profile: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(p.ClinicID), data, profileTTL).Err(); err != nil {
		return fmt.Errorf("clinic: set profile: %w", err)
	}
	return nil
}

// Invalidate drops the cached profile so the next read hits the registry.
func (s *Store) Invalidate(ctx context.Context, clinicID string) error {
	if s.redis == nil {
		return nil
	}
	if err := s.redis.Del(ctx, s.key(clinicID)).Err(); err != nil {
		return fmt.Errorf("clinic: invalidate profile: %w", err)
	}
	return nil
}

func (s *Store) cache(ctx context.Context, p *Profile) {
	if s.redis == nil || p == nil || p.ClinicID == "" {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, s.key(p.ClinicID), data, profileTTL).Err(); err != nil {
		s.logger.Warn("clinic profile cache write failed", "clinic_id", p.ClinicID, "error", err)
	}
}

package clinic

import (
	"context"
	"strings"
	"sync"
	"time"
)

// resolverTTL bounds how long a tenant mapping is reused before the
// registry is consulted again.
const resolverTTL = 10 * time.Minute

type resolverEntry struct {
	clinicID string
	expires  time.Time
}

// Resolver maps provider identifiers (organization id, WhatsApp instance
// name) to clinic ids with a per-process cache in front of the registry.
// Entries may diverge briefly across replicas; correctness never depends
// on cross-process agreement.
type Resolver struct {
	registry Registry
	ttl      time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]resolverEntry
}

// NewResolver builds a resolver backed by the given registry.
func NewResolver(registry Registry) *Resolver {
	return &Resolver{
		registry: registry,
		ttl:      resolverTTL,
		now:      time.Now,
		cache:    make(map[string]resolverEntry),
	}
}

// ClinicIDForOrg resolves the clinic owning an organization id.
func (r *Resolver) ClinicIDForOrg(ctx context.Context, orgID string) (string, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return "", ErrOrgNotMapped
	}
	return r.resolve("org:"+orgID, func() (string, error) {
		return r.registry.ClinicIDForOrg(ctx, orgID)
	})
}

// ClinicIDForInstance resolves the clinic owning a WhatsApp instance.
func (r *Resolver) ClinicIDForInstance(ctx context.Context, instance string) (string, error) {
	instance = strings.ToLower(strings.TrimSpace(instance))
	if instance == "" {
		return "", ErrInstanceNotMapped
	}
	return r.resolve("instance:"+instance, func() (string, error) {
		return r.registry.ClinicIDForInstance(ctx, instance)
	})
}

// Invalidate drops every cached mapping. Called when instance events
// reassign tenants.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]resolverEntry)
	r.mu.Unlock()
}

func (r *Resolver) resolve(key string, lookup func() (string, error)) (string, error) {
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expires) {
		return entry.clinicID, nil
	}

	clinicID, err := lookup()
	if err != nil {
		// Misses are not cached: a clinic onboarded moments later should
		// resolve on the next message.
		return "", err
	}

	r.mu.Lock()
	r.cache[key] = resolverEntry{clinicID: clinicID, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return clinicID, nil
}

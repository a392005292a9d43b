package clinic

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrClinicNotFound is returned when no clinic exists for the id.
	ErrClinicNotFound = errors.New("clinic: profile not found")

	// ErrOrgNotMapped is returned when an organization has no clinic.
	ErrOrgNotMapped = errors.New("clinic: no clinic for organization")

	// ErrInstanceNotMapped is returned when a WhatsApp instance has no clinic.
	ErrInstanceNotMapped = errors.New("clinic: no clinic for instance")
)

// Registry is the source of truth for clinic profiles and tenant routing.
type Registry interface {
	ProfileByID(ctx context.Context, clinicID string) (*Profile, error)
	ClinicIDForOrg(ctx context.Context, orgID string) (string, error)
	ClinicIDForInstance(ctx context.Context, instance string) (string, error)
}

// InstanceBinding pairs a WhatsApp instance with its owning organization.
// The egress worker seeds its per-instance consumers from these.
type InstanceBinding struct {
	Instance string
	OrgID    string
}

// StaticRegistry serves profiles from memory. Used in tests and for
// single-tenant deployments configured at startup.
type StaticRegistry struct {
	mu         sync.RWMutex
	byID       map[string]*Profile
	byOrg      map[string]string
	byInstance map[string]string
}

// NewStaticRegistry builds a registry from the given profiles.
func NewStaticRegistry(profiles ...*Profile) *StaticRegistry {
	r := &StaticRegistry{
		byID:       make(map[string]*Profile),
		byOrg:      make(map[string]string),
		byInstance: make(map[string]string),
	}
	for _, p := range profiles {
		r.Add(p)
	}
	return r
}

// Add registers or replaces a profile.
func (r *StaticRegistry) Add(p *Profile) {
	if p == nil || p.ClinicID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ClinicID] = p
	if p.OrgID != "" {
		r.byOrg[p.OrgID] = p.ClinicID
	}
	if p.InstanceName != "" {
		r.byInstance[strings.ToLower(p.InstanceName)] = p.ClinicID
	}
}

// ProfileByID implements Registry.
func (r *StaticRegistry) ProfileByID(ctx context.Context, clinicID string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[clinicID]
	if !ok {
		return nil, ErrClinicNotFound
	}
	return p, nil
}

// ClinicIDForOrg implements Registry.
func (r *StaticRegistry) ClinicIDForOrg(ctx context.Context, orgID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byOrg[orgID]
	if !ok {
		return "", ErrOrgNotMapped
	}
	return id, nil
}

// ClinicIDForInstance implements Registry.
func (r *StaticRegistry) ClinicIDForInstance(ctx context.Context, instance string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byInstance[strings.ToLower(instance)]
	if !ok {
		return "", ErrInstanceNotMapped
	}
	return id, nil
}

// ActiveInstances lists the instance bindings of every registered clinic.
func (r *StaticRegistry) ActiveInstances(ctx context.Context) ([]InstanceBinding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []InstanceBinding
	for _, p := range r.byID {
		if p.InstanceName != "" {
			out = append(out, InstanceBinding{Instance: p.InstanceName, OrgID: p.OrgID})
		}
	}
	return out, nil
}

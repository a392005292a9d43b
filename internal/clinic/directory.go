package clinic

import (
	"context"

	"github.com/brightline-ai/concierge/internal/narrowing"
)

// ProfileSource produces clinic profiles; *Store satisfies it.
type ProfileSource interface {
	Get(ctx context.Context, clinicID string) (*Profile, error)
}

// Directory answers eligible-doctor lookups for the narrowing service
// using cached clinic profiles.
type Directory struct {
	profiles ProfileSource
}

var _ narrowing.DoctorDirectory = (*Directory)(nil)

// NewDirectory adapts a profile source to narrowing.DoctorDirectory.
func NewDirectory(profiles ProfileSource) *Directory {
	return &Directory{profiles: profiles}
}

// EligibleDoctors implements narrowing.DoctorDirectory. The full eligible
// set is returned; callers count it, so no limit is applied.
func (d *Directory) EligibleDoctors(ctx context.Context, clinicID, service string) ([]narrowing.Doctor, error) {
	profile, err := d.profiles.Get(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	eligible := profile.EligibleDoctors(service)
	out := make([]narrowing.Doctor, 0, len(eligible))
	for _, doc := range eligible {
		out = append(out, narrowing.Doctor{ID: doc.ID, Name: doc.Name})
	}
	return out, nil
}

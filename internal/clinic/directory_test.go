package clinic

import (
	"context"
	"errors"
	"testing"
)

type staticSource struct {
	profile *Profile
	err     error
}

func (s *staticSource) Get(ctx context.Context, clinicID string) (*Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.profile, nil
}

func TestDirectoryEligibleDoctors(t *testing.T) {
	dir := NewDirectory(&staticSource{profile: testProfile()})

	docs, err := dir.EligibleDoctors(context.Background(), "clinic-1", "cleaning")
	if err != nil {
		t.Fatalf("EligibleDoctors failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("eligible doctors = %d, want 3", len(docs))
	}
	if docs[0].ID != "doc-a" || docs[0].Name != "Dr. Adams" {
		t.Errorf("first doctor = %+v", docs[0])
	}
}

func TestDirectoryEmptyRosterIsNotAnError(t *testing.T) {
	profile := testProfile()
	profile.Doctors = nil
	dir := NewDirectory(&staticSource{profile: profile})

	docs, err := dir.EligibleDoctors(context.Background(), "clinic-1", "cleaning")
	if err != nil {
		t.Fatalf("EligibleDoctors failed: %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Errorf("want empty non-nil slice, got %v", docs)
	}
}

func TestDirectoryPropagatesLookupFailure(t *testing.T) {
	wantErr := errors.New("profile backend down")
	dir := NewDirectory(&staticSource{err: wantErr})

	if _, err := dir.EligibleDoctors(context.Background(), "clinic-1", "cleaning"); !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
}

package clinic

import (
	"context"
	"errors"
	"testing"
)

func TestStaticRegistry(t *testing.T) {
	reg := NewStaticRegistry(testProfile())
	ctx := context.Background()

	p, err := reg.ProfileByID(ctx, "clinic-1")
	if err != nil {
		t.Fatalf("ProfileByID failed: %v", err)
	}
	if p.Name != "Brightline Dental" {
		t.Errorf("Name = %q, want Brightline Dental", p.Name)
	}

	if _, err := reg.ProfileByID(ctx, "clinic-2"); !errors.Is(err, ErrClinicNotFound) {
		t.Errorf("missing clinic error = %v, want ErrClinicNotFound", err)
	}

	id, err := reg.ClinicIDForOrg(ctx, "org-1")
	if err != nil || id != "clinic-1" {
		t.Errorf("ClinicIDForOrg = %q, %v", id, err)
	}
	if _, err := reg.ClinicIDForOrg(ctx, "org-2"); !errors.Is(err, ErrOrgNotMapped) {
		t.Errorf("unknown org error = %v, want ErrOrgNotMapped", err)
	}

	id, err = reg.ClinicIDForInstance(ctx, "Brightline-MAIN")
	if err != nil || id != "clinic-1" {
		t.Errorf("instance lookup should be case-insensitive, got %q, %v", id, err)
	}
	if _, err := reg.ClinicIDForInstance(ctx, "ghost"); !errors.Is(err, ErrInstanceNotMapped) {
		t.Errorf("unknown instance error = %v, want ErrInstanceNotMapped", err)
	}
}

func TestStaticRegistryAddReplaces(t *testing.T) {
	reg := NewStaticRegistry()
	reg.Add(nil)        // must not panic
	reg.Add(&Profile{}) // no id, ignored

	reg.Add(&Profile{ClinicID: "clinic-9", OrgID: "org-9", Name: "First"})
	reg.Add(&Profile{ClinicID: "clinic-9", OrgID: "org-9", Name: "Second"})

	p, err := reg.ProfileByID(context.Background(), "clinic-9")
	if err != nil {
		t.Fatalf("ProfileByID failed: %v", err)
	}
	if p.Name != "Second" {
		t.Errorf("Add should replace, got %q", p.Name)
	}
}

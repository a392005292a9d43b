package constraints

import (
	"reflect"
	"testing"
	"time"
)

func TestExcludeDoctorDropsMatchingDesire(t *testing.T) {
	c := Constraints{DesiredDoctor: "Dr Lee", DesiredDoctorID: "doc-1"}

	if !c.ExcludeDoctor("dr lee") {
		t.Fatal("ExcludeDoctor() = false, want true")
	}
	if c.DesiredDoctor != "" || c.DesiredDoctorID != "" {
		t.Errorf("desired doctor not cleared: %q / %q", c.DesiredDoctor, c.DesiredDoctorID)
	}
	if !reflect.DeepEqual(c.ExcludedDoctors, []string{"dr lee"}) {
		t.Errorf("ExcludedDoctors = %v, want [dr lee]", c.ExcludedDoctors)
	}
}

func TestExcludeServiceDropsMatchingDesire(t *testing.T) {
	c := Constraints{DesiredService: "Botox", DesiredServiceID: "svc-9"}

	if !c.ExcludeService("BOTOX") {
		t.Fatal("ExcludeService() = false, want true")
	}
	if c.DesiredService != "" || c.DesiredServiceID != "" {
		t.Errorf("desired service not cleared: %q / %q", c.DesiredService, c.DesiredServiceID)
	}
}

func TestExcludeDeduplicatesCaseInsensitive(t *testing.T) {
	var c Constraints

	if !c.ExcludeService("Botox") {
		t.Fatal("first exclusion should change state")
	}
	if c.ExcludeService("botox") {
		t.Error("second exclusion of same name should be a no-op")
	}
	if len(c.ExcludedServices) != 1 {
		t.Errorf("ExcludedServices = %v, want one entry", c.ExcludedServices)
	}

	if c.ExcludeDoctor("  ") {
		t.Error("blank name should not be excluded")
	}
}

func TestSetDesiredLiftsExclusion(t *testing.T) {
	c := Constraints{ExcludedServices: []string{"filler", "Botox"}}

	if !c.SetDesiredService("botox") {
		t.Fatal("SetDesiredService() = false, want true")
	}
	if c.DesiredService != "botox" {
		t.Errorf("DesiredService = %q, want botox", c.DesiredService)
	}
	if !reflect.DeepEqual(c.ExcludedServices, []string{"filler"}) {
		t.Errorf("ExcludedServices = %v, want [filler]", c.ExcludedServices)
	}

	c2 := Constraints{ExcludedDoctors: []string{"Dr Lee"}}
	if !c2.SetDesiredDoctor("Dr Lee") {
		t.Fatal("SetDesiredDoctor() = false, want true")
	}
	if len(c2.ExcludedDoctors) != 0 {
		t.Errorf("ExcludedDoctors = %v, want empty", c2.ExcludedDoctors)
	}
}

func TestSetDesiredSameNameIsNoOp(t *testing.T) {
	c := Constraints{DesiredService: "Botox"}
	if c.SetDesiredService("BOTOX") {
		t.Error("same desired service should not report a change")
	}
	if c.DesiredService != "Botox" {
		t.Errorf("DesiredService = %q, original casing should survive", c.DesiredService)
	}
}

func TestSetDesiredClearsStaleID(t *testing.T) {
	c := Constraints{DesiredService: "Botox", DesiredServiceID: "svc-9"}
	c.SetDesiredService("Filler")
	if c.DesiredServiceID != "" {
		t.Errorf("DesiredServiceID = %q, want cleared on rename", c.DesiredServiceID)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	start := time.Date(2025, time.March, 11, 8, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)
	c := Constraints{
		ExcludedDoctors: []string{"Dr Lee"},
		DesiredService:  "Botox",
	}
	c.SetTimeWindow(start, end, "tomorrow morning")

	snap := c.Clone()
	c.ExcludeDoctor("Dr Chen")
	c.SetTimeWindow(start.AddDate(0, 0, 1), end.AddDate(0, 0, 1), "wednesday")

	if !reflect.DeepEqual(snap.ExcludedDoctors, []string{"Dr Lee"}) {
		t.Errorf("snapshot ExcludedDoctors = %v, want [Dr Lee]", snap.ExcludedDoctors)
	}
	if !snap.TimeWindowStart.Equal(start) || snap.TimeWindowLabel != "tomorrow morning" {
		t.Errorf("snapshot window mutated: %v %q", snap.TimeWindowStart, snap.TimeWindowLabel)
	}
}

func TestClearAndEmpty(t *testing.T) {
	var c Constraints
	if !c.Empty() {
		t.Fatal("zero value should be empty")
	}

	c.ExcludeService("filler")
	c.SetDesiredDoctor("Dr Lee")
	c.SetTimeWindow(time.Now(), time.Now().Add(time.Hour), "today")
	if c.Empty() {
		t.Fatal("populated constraints reported empty")
	}

	c.Clear()
	if !c.Empty() {
		t.Errorf("Clear() left state behind: %+v", c)
	}
}

func TestHasAccessors(t *testing.T) {
	var c Constraints
	if c.HasService() || c.HasDoctor() || c.HasTimeWindow() {
		t.Fatal("zero value should have nothing")
	}

	c.DesiredServiceID = "svc-9"
	if !c.HasService() {
		t.Error("HasService() should see an ID-only desire")
	}

	start := time.Now()
	c.TimeWindowStart = &start
	if c.HasTimeWindow() {
		t.Error("HasTimeWindow() should need both ends")
	}
}

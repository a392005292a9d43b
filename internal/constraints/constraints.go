// Package constraints tracks what a conversation has pinned down or ruled
// out about a booking: the desired service and doctor, exclusions, and a
// time window. Mutations keep the rule that a desired value is never also
// excluded.
package constraints

import (
	"strings"
	"time"
)

// Constraints is the per-session booking state. The conversation store
// persists it as a JSON document.
type Constraints struct {
	ExcludedDoctors  []string `json:"excluded_doctors,omitempty"`
	ExcludedServices []string `json:"excluded_services,omitempty"`

	DesiredService   string `json:"desired_service,omitempty"`
	DesiredServiceID string `json:"desired_service_id,omitempty"`
	DesiredDoctor    string `json:"desired_doctor,omitempty"`
	DesiredDoctorID  string `json:"desired_doctor_id,omitempty"`

	TimeWindowStart *time.Time `json:"time_window_start,omitempty"`
	TimeWindowEnd   *time.Time `json:"time_window_end,omitempty"`
	TimeWindowLabel string     `json:"time_window_label,omitempty"`
}

// Empty reports whether no constraint is set at all.
func (c *Constraints) Empty() bool {
	return len(c.ExcludedDoctors) == 0 &&
		len(c.ExcludedServices) == 0 &&
		c.DesiredService == "" && c.DesiredServiceID == "" &&
		c.DesiredDoctor == "" && c.DesiredDoctorID == "" &&
		c.TimeWindowStart == nil && c.TimeWindowEnd == nil &&
		c.TimeWindowLabel == ""
}

// Clear drops every constraint. Used by the meta-reset command.
func (c *Constraints) Clear() {
	*c = Constraints{}
}

// Clone returns a deep copy; the pipeline snapshots constraints before
// mutating steps run.
func (c *Constraints) Clone() Constraints {
	out := *c
	out.ExcludedDoctors = append([]string(nil), c.ExcludedDoctors...)
	out.ExcludedServices = append([]string(nil), c.ExcludedServices...)
	if c.TimeWindowStart != nil {
		start := *c.TimeWindowStart
		out.TimeWindowStart = &start
	}
	if c.TimeWindowEnd != nil {
		end := *c.TimeWindowEnd
		out.TimeWindowEnd = &end
	}
	return out
}

func (c *Constraints) HasService() bool {
	return c.DesiredService != "" || c.DesiredServiceID != ""
}

func (c *Constraints) HasDoctor() bool {
	return c.DesiredDoctor != "" || c.DesiredDoctorID != ""
}

func (c *Constraints) HasTimeWindow() bool {
	return c.TimeWindowStart != nil && c.TimeWindowEnd != nil
}

// ExcludeDoctor adds name to the excluded doctors. If the name is currently
// the desired doctor, the desire is dropped in the same call.
func (c *Constraints) ExcludeDoctor(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || containsFold(c.ExcludedDoctors, name) {
		return false
	}
	c.ExcludedDoctors = append(c.ExcludedDoctors, name)
	if strings.EqualFold(c.DesiredDoctor, name) {
		c.DesiredDoctor = ""
		c.DesiredDoctorID = ""
	}
	return true
}

// ExcludeService adds name to the excluded services, dropping a matching
// desired service.
func (c *Constraints) ExcludeService(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || containsFold(c.ExcludedServices, name) {
		return false
	}
	c.ExcludedServices = append(c.ExcludedServices, name)
	if strings.EqualFold(c.DesiredService, name) {
		c.DesiredService = ""
		c.DesiredServiceID = ""
	}
	return true
}

// SetDesiredService records the wanted service and lifts any standing
// exclusion on it.
func (c *Constraints) SetDesiredService(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(c.DesiredService, name) {
		return false
	}
	c.DesiredService = name
	c.DesiredServiceID = ""
	c.ExcludedServices = removeFold(c.ExcludedServices, name)
	return true
}

// SetDesiredDoctor records the wanted doctor and lifts any standing
// exclusion on them.
func (c *Constraints) SetDesiredDoctor(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(c.DesiredDoctor, name) {
		return false
	}
	c.DesiredDoctor = name
	c.DesiredDoctorID = ""
	c.ExcludedDoctors = removeFold(c.ExcludedDoctors, name)
	return true
}

// SetTimeWindow records the wanted window.
func (c *Constraints) SetTimeWindow(start, end time.Time, label string) bool {
	if c.TimeWindowStart != nil && c.TimeWindowStart.Equal(start) &&
		c.TimeWindowEnd != nil && c.TimeWindowEnd.Equal(end) &&
		c.TimeWindowLabel == label {
		return false
	}
	c.TimeWindowStart = &start
	c.TimeWindowEnd = &end
	c.TimeWindowLabel = label
	return true
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

func removeFold(list []string, s string) []string {
	out := list[:0]
	for _, item := range list {
		if !strings.EqualFold(item, s) {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

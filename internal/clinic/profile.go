// Package clinic holds per-tenant configuration: who the clinic is, which
// WhatsApp instance its replies leave on, what it offers, and who works
// there. The conversation pipeline hydrates a Profile once per turn.
package clinic

import (
	"strings"
	"time"

	"github.com/brightline-ai/concierge/internal/narrowing"
)

// Service is a bookable treatment in the clinic's catalog.
type Service struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	PriceText   string   `json:"price_text,omitempty"`
	DurationMin int      `json:"duration_min,omitempty"`
}

// Doctor is a provider on the clinic's roster. ServiceIDs lists the
// services the doctor performs; an empty list means the doctor performs
// every service the clinic offers.
type Doctor struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	ServiceIDs []string `json:"service_ids,omitempty"`
}

// FAQ is a question/answer pair surfaced to the LLM as clinic context.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Notifications configures where escalation alerts go.
type Notifications struct {
	OperatorPhones   []string `json:"operator_phones,omitempty"`
	EscalationEmails []string `json:"escalation_emails,omitempty"`
	EmailAlerts      bool     `json:"email_alerts"`
}

// Features holds per-clinic flags.
type Features struct {
	LangGraphEnabled bool     `json:"langgraph_enabled"`
	LangGraphLanes   []string `json:"langgraph_lanes,omitempty"`
}

// Profile carries everything the conversation pipeline needs to know about
// a clinic: identity, locale, the WhatsApp instance replies go out on,
// staffing, catalog, and prompt customization.
type Profile struct {
	ClinicID          string            `json:"clinic_id"`
	OrgID             string            `json:"org_id"`
	Name              string            `json:"name"`
	Timezone          string            `json:"timezone"`
	InstanceName      string            `json:"instance_name"`
	DefaultLanguage   string            `json:"default_language"`
	NarrowingStrategy string            `json:"narrowing_strategy"`
	BookingPolicy     string            `json:"booking_policy,omitempty"`
	Services          []Service         `json:"services,omitempty"`
	Doctors           []Doctor          `json:"doctors,omitempty"`
	FAQs              []FAQ             `json:"faqs,omitempty"`
	Notifications     Notifications     `json:"notifications"`
	Features          Features          `json:"features"`
	PromptOverrides   map[string]string `json:"prompt_overrides,omitempty"`
}

// Location resolves the clinic's IANA timezone, falling back to UTC when
// unset or invalid.
func (p *Profile) Location() *time.Location {
	if p == nil || p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Strategy returns the clinic's narrowing strategy. Anything other than an
// explicit doctor-first setting falls back to service-first.
func (p *Profile) Strategy() narrowing.Strategy {
	if p == nil {
		return narrowing.StrategyServiceFirst
	}
	switch strings.ToLower(strings.TrimSpace(p.NarrowingStrategy)) {
	case "doctor_first", "doctor-first":
		return narrowing.StrategyDoctorFirst
	default:
		return narrowing.StrategyServiceFirst
	}
}

// ResolveServiceName maps free-form patient wording onto the canonical
// catalog name. Exact name and alias matches win; plural forms are retried
// with the trailing 's' removed; otherwise the longest substring match in
// either direction wins (so "lip filler" beats "filler"). Unknown services
// pass through unchanged.
func (p *Profile) ResolveServiceName(text string) string {
	if p == nil || len(p.Services) == 0 {
		return text
	}
	key := normalizeServiceKey(text)
	if key == "" {
		return text
	}

	if svc, ok := p.serviceByKey(key); ok {
		return svc.Name
	}
	if strings.HasSuffix(key, "s") {
		if svc, ok := p.serviceByKey(strings.TrimSuffix(key, "s")); ok {
			return svc.Name
		}
	}

	var best *Service
	bestLen := 0
	for i := range p.Services {
		svc := &p.Services[i]
		for _, cand := range svc.matchKeys() {
			if cand == "" {
				continue
			}
			if strings.Contains(key, cand) || strings.Contains(cand, key) {
				if len(cand) > bestLen {
					best = svc
					bestLen = len(cand)
				}
			}
		}
	}
	if best != nil {
		return best.Name
	}
	return text
}

// FindService resolves free-form text (or a service id) to a catalog entry.
func (p *Profile) FindService(text string) (*Service, bool) {
	if p == nil {
		return nil, false
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}
	for i := range p.Services {
		if strings.EqualFold(p.Services[i].ID, trimmed) {
			return &p.Services[i], true
		}
	}
	key := normalizeServiceKey(p.ResolveServiceName(trimmed))
	if key == "" {
		return nil, false
	}
	for i := range p.Services {
		if normalizeServiceKey(p.Services[i].Name) == key {
			return &p.Services[i], true
		}
	}
	return nil, false
}

// EligibleDoctors returns the doctors able to perform the given service.
// Doctors without explicit service links count for every service. An empty
// service returns the full roster; a service the clinic does not offer
// returns only the unrestricted doctors.
func (p *Profile) EligibleDoctors(service string) []Doctor {
	if p == nil {
		return nil
	}
	if strings.TrimSpace(service) == "" {
		return append([]Doctor(nil), p.Doctors...)
	}

	svc, found := p.FindService(service)
	var out []Doctor
	for _, doc := range p.Doctors {
		if len(doc.ServiceIDs) == 0 {
			out = append(out, doc)
			continue
		}
		if !found {
			continue
		}
		for _, id := range doc.ServiceIDs {
			if strings.EqualFold(id, svc.ID) {
				out = append(out, doc)
				break
			}
		}
	}
	return out
}

// DoctorNames returns the roster names in catalog order.
func (p *Profile) DoctorNames() []string {
	if p == nil || len(p.Doctors) == 0 {
		return nil
	}
	names := make([]string, 0, len(p.Doctors))
	for _, d := range p.Doctors {
		names = append(names, d.Name)
	}
	return names
}

// ServiceNames returns the catalog names in order.
func (p *Profile) ServiceNames() []string {
	if p == nil || len(p.Services) == 0 {
		return nil
	}
	names := make([]string, 0, len(p.Services))
	for _, s := range p.Services {
		names = append(names, s.Name)
	}
	return names
}

// LangGraphEnabledFor reports whether the external orchestrator handles the
// given lane for this clinic. An empty lane list means every lane once the
// flag is on.
func (p *Profile) LangGraphEnabledFor(lane string) bool {
	if p == nil || !p.Features.LangGraphEnabled {
		return false
	}
	if len(p.Features.LangGraphLanes) == 0 {
		return true
	}
	for _, l := range p.Features.LangGraphLanes {
		if strings.EqualFold(l, lane) {
			return true
		}
	}
	return false
}

// PromptOverride returns the clinic's replacement text for a prompt
// section, if one is configured.
func (p *Profile) PromptOverride(section string) (string, bool) {
	if p == nil || len(p.PromptOverrides) == 0 {
		return "", false
	}
	text := strings.TrimSpace(p.PromptOverrides[section])
	if text == "" {
		return "", false
	}
	return text, true
}

func (p *Profile) serviceByKey(key string) (*Service, bool) {
	for i := range p.Services {
		for _, cand := range p.Services[i].matchKeys() {
			if cand == key {
				return &p.Services[i], true
			}
		}
	}
	return nil, false
}

func (s *Service) matchKeys() []string {
	keys := make([]string, 0, len(s.Aliases)+1)
	keys = append(keys, normalizeServiceKey(s.Name))
	for _, a := range s.Aliases {
		keys = append(keys, normalizeServiceKey(a))
	}
	return keys
}

// normalizeServiceKey lowercases and collapses whitespace so catalog
// lookups are insensitive to casing and spacing.
func normalizeServiceKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/brightline-ai/concierge/internal/constraints"
)

// AvailabilityRequest asks the calendar integration for open slots.
type AvailabilityRequest struct {
	ClinicID string
	Service  string
	Doctor   string
	DoctorID string
	Date     string
	Flex     int
}

// AvailabilityResult is what the calendar returned. Slots are preformatted
// display strings; Note carries caveats ("only the waitlist is open").
type AvailabilityResult struct {
	Slots []string
	Note  string
}

// AvailabilityChecker is the pluggable calendar lookup. Deployments
// without a calendar integration leave it nil; the tool then answers with
// a stock explanation the model can work around.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, req AvailabilityRequest) (AvailabilityResult, error)
}

const (
	toolCheckAvailability  = "check_availability"
	toolRememberPreference = "remember_preference"
)

// The model requests a tool with a single line of the form
//
//	TOOL: check_availability {"service": "botox", "date": "2026-08-29"}
//
// The JSON argument object is optional.
var toolLineRE = regexp.MustCompile(`(?m)^\s*TOOL:\s*([a-z_]+)\s*(\{.*\})?\s*$`)

// parseToolCall extracts the first tool invocation from model output.
// rest is the output with the tool line removed.
func parseToolCall(text string) (name string, args map[string]any, rest string, ok bool) {
	loc := toolLineRE.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", nil, text, false
	}
	name = text[loc[2]:loc[3]]
	if loc[4] >= 0 {
		raw := text[loc[4]:loc[5]]
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			args = nil
		}
	}
	rest = strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
	return name, args, rest, true
}

// executeTool dispatches one tool call and returns the result text fed
// back to the model. Unknown tools and integration gaps return explanatory
// text rather than errors so the model can recover in-conversation.
func (p *Pipeline) executeTool(ctx context.Context, tc *TurnContext, name string, args map[string]any) string {
	switch name {
	case toolCheckAvailability:
		return p.checkAvailabilityTool(ctx, tc, args)
	case toolRememberPreference:
		return p.rememberPreferenceTool(tc, args)
	default:
		return fmt.Sprintf("unknown tool %q; answer the patient without it", name)
	}
}

func (p *Pipeline) checkAvailabilityTool(ctx context.Context, tc *TurnContext, args map[string]any) string {
	if p.deps.Availability == nil {
		return "calendar lookup is not connected for this clinic; ask the patient for their preferred day and tell them the clinic will confirm the exact slot"
	}

	req := AvailabilityRequest{
		ClinicID: tc.ClinicID,
		Service:  argString(args, "service"),
		Doctor:   argString(args, "doctor"),
		DoctorID: argString(args, "doctor_id"),
		Date:     argString(args, "date"),
		Flex:     argInt(args, "flex"),
	}
	if req.Service == "" {
		req.Service = tc.Constraints.DesiredService
	}
	if req.Doctor == "" {
		req.Doctor = tc.Constraints.DesiredDoctor
	}

	res, err := p.deps.Availability.CheckAvailability(ctx, req)
	if err != nil {
		p.logger.Warn("availability lookup failed", "clinic_id", tc.ClinicID, "error", err)
		return "availability lookup failed; ask the patient for their preferred day and tell them the clinic will confirm"
	}
	if len(res.Slots) == 0 {
		if res.Note != "" {
			return "no open slots found. " + res.Note
		}
		return "no open slots found for that request; suggest a nearby day instead"
	}
	out := "open slots: " + strings.Join(res.Slots, ", ")
	if res.Note != "" {
		out += ". " + res.Note
	}
	return out
}

func (p *Pipeline) rememberPreferenceTool(tc *TurnContext, args map[string]any) string {
	kind := strings.ToLower(argString(args, "kind"))
	value := strings.TrimSpace(argString(args, "value"))
	if value == "" {
		return "nothing recorded: value was empty"
	}

	changed := false
	switch kind {
	case "service":
		name := tc.Profile.ResolveServiceName(value)
		changed = tc.Constraints.SetDesiredService(name)
	case "doctor":
		changed = tc.Constraints.SetDesiredDoctor(value)
	case "time":
		loc := tc.Profile.Location()
		window := constraints.NormalizeTimeWindow(value, tc.Now.In(loc), loc)
		if window == nil {
			return fmt.Sprintf("could not parse %q as a time preference; ask the patient for a concrete day", value)
		}
		changed = tc.Constraints.SetTimeWindow(window.Start, window.End, window.Label)
	default:
		return fmt.Sprintf("unknown preference kind %q; use service, doctor, or time", kind)
	}

	if changed {
		tc.ConstraintsChanged = true
		return fmt.Sprintf("recorded %s preference: %s", kind, value)
	}
	return fmt.Sprintf("%s preference already recorded", kind)
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if s, ok := args[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func argInt(args map[string]any, key string) int {
	if args == nil {
		return 0
	}
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

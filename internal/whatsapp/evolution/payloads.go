package evolution

import (
	"errors"
	"strings"
)

// SendTextRequest describes an outbound WhatsApp text payload.
type SendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int    `json:"delay,omitempty"`
}

func (r SendTextRequest) validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return errors.New("evolution: number required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("evolution: text required")
	}
	return nil
}

// MessageKey identifies a sent message on the WhatsApp side.
type MessageKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

// SendResponse is the envelope Evolution returns for message sends.
type SendResponse struct {
	Key    MessageKey `json:"key"`
	Status string     `json:"status"`
}

// connectionStateResponse tolerates both the flat and the nested shape the
// gateway has returned across versions.
type connectionStateResponse struct {
	State    string `json:"state"`
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

func (r connectionStateResponse) state() string {
	if r.Instance.State != "" {
		return r.Instance.State
	}
	return r.State
}

// StateOpen is the connection state that allows sends.
const StateOpen = "open"

// PresenceRequest simulates typing or going offline in a chat.
type PresenceRequest struct {
	Number   string `json:"number"`
	Presence string `json:"presence"`
	Delay    int    `json:"delay,omitempty"`
}

const (
	PresenceComposing   = "composing"
	PresenceUnavailable = "unavailable"
)

func (r PresenceRequest) validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return errors.New("evolution: number required")
	}
	if r.Presence != PresenceComposing && r.Presence != PresenceUnavailable {
		return errors.New("evolution: presence must be composing or unavailable")
	}
	return nil
}

// SendLocationRequest shares a pinned location.
type SendLocationRequest struct {
	Number    string  `json:"number"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Delay     int     `json:"delay,omitempty"`
}

func (r SendLocationRequest) validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return errors.New("evolution: number required")
	}
	if r.Latitude == 0 && r.Longitude == 0 {
		return errors.New("evolution: coordinates required")
	}
	return nil
}

// Button is a single tappable reply option.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SendButtonsRequest sends an interactive button message.
type SendButtonsRequest struct {
	Number  string   `json:"number"`
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	Footer  string   `json:"footer,omitempty"`
	Buttons []Button `json:"buttons"`
	Delay   int      `json:"delay,omitempty"`
}

func (r SendButtonsRequest) validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return errors.New("evolution: number required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("evolution: text required")
	}
	if len(r.Buttons) == 0 {
		return errors.New("evolution: at least one button required")
	}
	return nil
}

// SendTemplateRequest sends a pre-approved template message.
type SendTemplateRequest struct {
	Number     string   `json:"number"`
	Name       string   `json:"name"`
	Language   string   `json:"language"`
	Components []string `json:"components,omitempty"`
	Delay      int      `json:"delay,omitempty"`
}

func (r SendTemplateRequest) validate() error {
	if strings.TrimSpace(r.Number) == "" {
		return errors.New("evolution: number required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("evolution: template name required")
	}
	return nil
}

// NormalizeJID converts a phone number to WhatsApp's addressable form.
// Digits already carrying a domain (including @lid) pass through untouched
// apart from separator cleanup.
func NormalizeJID(phone string) string {
	cleaned := strings.TrimSpace(phone)
	cleaned = strings.ReplaceAll(cleaned, "+", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	if cleaned == "" {
		return ""
	}
	if strings.Contains(cleaned, "@") {
		return cleaned
	}
	return cleaned + "@s.whatsapp.net"
}

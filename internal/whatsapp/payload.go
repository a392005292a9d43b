// Package whatsapp implements the outbound WhatsApp delivery queue: a
// Redis Streams consumer group per tenant instance with idempotent enqueue,
// per-instance rate limiting, bounded retries and a dead-letter stream.
package whatsapp

import (
	"encoding/json"
	"fmt"
)

// Consumer group shared by all egress workers.
const DefaultGroup = "wa_workers"

// Pub/sub channels announcing tenant instance lifecycle changes.
const (
	ChannelInstanceAdded   = "wa:instances:added"
	ChannelInstanceRemoved = "wa:instances:removed"
)

// streamField is the single entry field holding the JSON envelope.
const streamField = "payload"

// StreamKey is the per-instance outbound message stream.
func StreamKey(instance string) string {
	return "wa:" + instance + ":stream"
}

// DLQKey is the per-instance dead-letter stream.
func DLQKey(instance string) string {
	return "wa:" + instance + ":dlq"
}

func idempotencyKey(messageID string) string {
	return "wa:msg:" + messageID
}

func bucketKey(instance string) string {
	return "wa:" + instance + ":bucket"
}

func bucketTSKey(instance string) string {
	return "wa:" + instance + ":bucket:ts"
}

// OutboundMessage is the queue envelope for one outbound WhatsApp text.
// Attempts travels inside the payload so a re-appended entry carries its
// delivery history with it. QueuedAt is epoch seconds.
type OutboundMessage struct {
	MessageID string            `json:"message_id"`
	To        string            `json:"to"`
	Text      string            `json:"text"`
	QueuedAt  int64             `json:"queued_at"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (m OutboundMessage) encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("wa: marshal outbound message: %w", err)
	}
	return string(data), nil
}

func decodeOutbound(values map[string]any) (OutboundMessage, string, error) {
	raw, ok := values[streamField].(string)
	if !ok {
		return OutboundMessage{}, fmt.Sprint(values[streamField]), fmt.Errorf("wa: entry missing %s field", streamField)
	}
	var msg OutboundMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return OutboundMessage{}, raw, fmt.Errorf("wa: decode outbound message: %w", err)
	}
	return msg, raw, nil
}

// InstanceEvent is the payload published on the instance lifecycle channels.
type InstanceEvent struct {
	InstanceName   string `json:"instance_name"`
	OrganizationID string `json:"organization_id"`
	Action         string `json:"action"`
}

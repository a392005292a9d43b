package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// queueClient is the transport the ingress worker consumes from. SQS in
// production, MemoryQueue in tests and single-process deployments.
type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// MemoryQueue is an in-process queueClient backed by a buffered channel.
type MemoryQueue struct {
	ch chan queueMessage
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{ch: make(chan queueMessage, capacity)}
}

func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := queueMessage{ID: uuid.NewString(), Body: body}
	msg.ReceiptHandle = msg.ID
	select {
	case q.ch <- msg:
		return nil
	default:
		return fmt.Errorf("conversation: memory queue full")
	}
}

// Receive blocks up to waitSeconds for the first message, then drains
// whatever else is immediately available up to maxMessages.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
	defer timer.Stop()

	var msgs []queueMessage
	select {
	case msg := <-q.ch:
		msgs = append(msgs, msg)
	default:
		// An already-available message must win over an expired timer,
		// otherwise a zero-wait receive randomly drops queued messages.
		select {
		case msg := <-q.ch:
			msgs = append(msgs, msg)
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for len(msgs) < maxMessages {
		select {
		case msg := <-q.ch:
			msgs = append(msgs, msg)
		default:
			return msgs, nil
		}
	}
	return msgs, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}

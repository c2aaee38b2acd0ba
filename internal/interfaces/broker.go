package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/scriba/internal/models"
)

// ErrNoMessage is returned by Receive when the queue is empty.
var ErrNoMessage = errors.New("no messages in queue")

// Delivery is one received ticket plus the broker bookkeeping the
// runtime needs for retry and visibility decisions.
type Delivery struct {
	MessageID string
	Ticket    *models.JobTicket

	// Retries counts explicit requeues by the runtime after Transient
	// failures. Crash redeliveries do not increment it.
	Retries int

	// ReceiveCount counts every delivery, including redeliveries after
	// a visibility timeout expired.
	ReceiveCount int
}

// Broker is the durable at-least-once work queue. A received message
// stays invisible for the visibility timeout; it must be acked (via the
// function returned by Receive) or it will be redelivered.
type Broker interface {
	Enqueue(ctx context.Context, ticket *models.JobTicket) error

	// Requeue re-enqueues a delivery with an incremented retry count,
	// visible after delay. The caller still acks the original message.
	Requeue(ctx context.Context, d *Delivery, delay time.Duration) error

	// Receive returns the next visible message and an ack function.
	// Returns ErrNoMessage when nothing is ready.
	Receive(ctx context.Context) (*Delivery, func() error, error)

	// Extend pushes out the visibility timeout of an in-flight message.
	Extend(ctx context.Context, messageID string, d time.Duration) error

	Len(ctx context.Context) (int, error)
	Close() error
}

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

func openBroker(t *testing.T, visibility time.Duration) *BadgerBroker {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	broker, err := NewBadgerBroker(db, "test_jobs", visibility, common.GetLogger())
	require.NoError(t, err)
	return broker
}

func testTicket() *models.JobTicket {
	return models.NewJobTicket("/tmp/uploads/a.pdf", "a.pdf", "application/pdf")
}

func TestEnqueueReceiveAck(t *testing.T) {
	broker := openBroker(t, time.Minute)
	ctx := context.Background()

	ticket := testTicket()
	require.NoError(t, broker.Enqueue(ctx, ticket))

	count, err := broker.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	delivery, ack, err := broker.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, ticket.JobID, delivery.Ticket.JobID)
	assert.Equal(t, 0, delivery.Retries)
	assert.Equal(t, 1, delivery.ReceiveCount)

	require.NoError(t, ack())

	count, err = broker.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, _, err = broker.Receive(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoMessage)
}

func TestReceiveEmptyQueue(t *testing.T) {
	broker := openBroker(t, time.Minute)

	_, _, err := broker.Receive(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrNoMessage)
}

func TestReceiveHidesInFlightMessage(t *testing.T) {
	broker := openBroker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, testTicket()))

	_, _, err := broker.Receive(ctx)
	require.NoError(t, err)

	// Claimed but unacked: invisible to other receivers.
	_, _, err = broker.Receive(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoMessage)
}

func TestUnackedMessageRedelivers(t *testing.T) {
	broker := openBroker(t, 50*time.Millisecond)
	ctx := context.Background()

	ticket := testTicket()
	require.NoError(t, broker.Enqueue(ctx, ticket))

	first, _, err := broker.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ReceiveCount)

	require.Eventually(t, func() bool {
		second, _, err := broker.Receive(ctx)
		if err != nil {
			return false
		}
		assert.Equal(t, ticket.JobID, second.Ticket.JobID)
		assert.Equal(t, 2, second.ReceiveCount)
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRequeueIncrementsRetries(t *testing.T) {
	broker := openBroker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, testTicket()))
	delivery, ack, err := broker.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, broker.Requeue(ctx, delivery, 0))
	require.NoError(t, ack())

	retried, _, err := broker.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Retries)
	assert.Equal(t, delivery.Ticket.JobID, retried.Ticket.JobID)
	assert.Equal(t, 1, retried.ReceiveCount, "requeued message is a fresh delivery")
}

func TestRequeueDelayHidesMessage(t *testing.T) {
	broker := openBroker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, testTicket()))
	delivery, ack, err := broker.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, broker.Requeue(ctx, delivery, time.Hour))
	require.NoError(t, ack())

	_, _, err = broker.Receive(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoMessage)
}

func TestExtendKeepsMessageInvisible(t *testing.T) {
	broker := openBroker(t, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, testTicket()))
	delivery, _, err := broker.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, broker.Extend(ctx, delivery.MessageID, time.Hour))

	time.Sleep(150 * time.Millisecond)
	_, _, err = broker.Receive(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoMessage, "extended message must stay invisible")
}

func TestReceiveOrdersByVisibility(t *testing.T) {
	broker := openBroker(t, time.Minute)
	ctx := context.Background()

	first := testTicket()
	require.NoError(t, broker.Enqueue(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := testTicket()
	require.NoError(t, broker.Enqueue(ctx, second))

	delivery, ack, err := broker.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, delivery.Ticket.JobID)
	require.NoError(t, ack())

	delivery, ack, err = broker.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.JobID, delivery.Ticket.JobID)
	require.NoError(t, ack())
}

func TestEnqueueInvalidTicket(t *testing.T) {
	broker := openBroker(t, time.Minute)

	err := broker.Enqueue(context.Background(), &models.JobTicket{})
	assert.Error(t, err)
}

func TestAckIsIdempotent(t *testing.T) {
	broker := openBroker(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, testTicket()))
	_, ack, err := broker.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, ack())
	require.NoError(t, ack())
}

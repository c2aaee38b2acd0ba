package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/models"
)

// memResults is an in-memory result store tracking publish order.
type memResults struct {
	mu       sync.Mutex
	statuses map[string]*models.JobStatus
	running  []string
}

func newMemResults() *memResults {
	return &memResults{statuses: make(map[string]*models.JobStatus)}
}

func (m *memResults) MarkRunning(ctx context.Context, jobID string, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.statuses[jobID]; ok && existing.State.Terminal() {
		return nil
	}
	m.running = append(m.running, jobID)
	m.statuses[jobID] = &models.JobStatus{JobID: jobID, State: models.JobStateRunning, Attempt: attempt}
	return nil
}

func (m *memResults) Publish(ctx context.Context, status *models.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.JobID] = status
	return nil
}

func (m *memResults) Get(ctx context.Context, jobID string) (*models.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found")
	}
	return status, nil
}

// scriptedProcessor fails a fixed number of times, then succeeds.
type scriptedProcessor struct {
	mu       sync.Mutex
	failures int
	failWith error
	attempts []int
}

func (p *scriptedProcessor) Process(ctx context.Context, ticket *models.JobTicket, attempt int) (*models.JobStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = append(p.attempts, attempt)
	if len(p.attempts) <= p.failures {
		return nil, p.failWith
	}
	rec := &models.DocumentRecord{ID: ticket.JobID, FileName: ticket.FileName}
	return models.Succeeded(rec, attempt), nil
}

func (p *scriptedProcessor) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.attempts)
}

func runtimeFixture(t *testing.T, processor JobProcessor, tune func(*common.Config)) (*Runtime, *BadgerBroker, *memResults) {
	t.Helper()

	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := common.NewDefaultConfig()
	cfg.Workers.Concurrency = 1
	cfg.Workers.MaxRetries = 2
	cfg.Workers.RetryBackoffBase = "1ms"
	cfg.Workers.RetryBackoffCap = "10ms"
	cfg.Workers.JobDeadline = "5s"
	cfg.Workers.ShutdownGrace = "2s"
	cfg.Broker.VisibilityTimeout = "30s"
	cfg.Broker.MaxReceive = 3
	if tune != nil {
		tune(cfg)
	}

	broker, err := NewBadgerBroker(db, "test_jobs", cfg.Broker.VisibilityTimeoutDuration(), common.GetLogger())
	require.NoError(t, err)

	results := newMemResults()
	runtime := NewRuntime(broker, results, processor, cfg, common.GetLogger())
	return runtime, broker, results
}

func TestRuntimeProcessesJob(t *testing.T) {
	processor := &scriptedProcessor{}
	runtime, broker, results := runtimeFixture(t, processor, nil)

	ticket := testTicket()
	require.NoError(t, broker.Enqueue(context.Background(), ticket))

	require.NoError(t, runtime.Start(context.Background()))
	defer runtime.Stop()

	require.Eventually(t, func() bool {
		status, err := results.Get(context.Background(), ticket.JobID)
		return err == nil && status.State == models.JobStateSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	// Acked after publish: the queue drains.
	require.Eventually(t, func() bool {
		count, err := broker.Len(context.Background())
		return err == nil && count == 0
	}, 5*time.Second, 10*time.Millisecond)

	status, err := results.Get(context.Background(), ticket.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Attempt)
	assert.Contains(t, results.running, ticket.JobID)
}

func TestRuntimeRetriesTransientFailure(t *testing.T) {
	processor := &scriptedProcessor{
		failures: 2,
		failWith: models.Transient(fmt.Errorf("ocr down")),
	}
	runtime, broker, results := runtimeFixture(t, processor, nil)

	ticket := testTicket()
	require.NoError(t, broker.Enqueue(context.Background(), ticket))

	require.NoError(t, runtime.Start(context.Background()))
	defer runtime.Stop()

	require.Eventually(t, func() bool {
		status, err := results.Get(context.Background(), ticket.JobID)
		return err == nil && status.State == models.JobStateSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 3, processor.attemptCount())
	status, _ := results.Get(context.Background(), ticket.JobID)
	assert.Equal(t, 3, status.Attempt)
}

func TestRuntimeExhaustsRetryBudget(t *testing.T) {
	processor := &scriptedProcessor{
		failures: 100,
		failWith: models.Transient(fmt.Errorf("always failing")),
	}
	runtime, broker, results := runtimeFixture(t, processor, nil)

	ticket := testTicket()
	require.NoError(t, broker.Enqueue(context.Background(), ticket))

	require.NoError(t, runtime.Start(context.Background()))
	defer runtime.Stop()

	require.Eventually(t, func() bool {
		status, err := results.Get(context.Background(), ticket.JobID)
		return err == nil && status.State == models.JobStateFailed
	}, 5*time.Second, 10*time.Millisecond)

	// max_retries=2 means attempts 1, 2, 3.
	assert.Equal(t, 3, processor.attemptCount())
	status, _ := results.Get(context.Background(), ticket.JobID)
	require.NotNil(t, status.Failure)
	assert.Equal(t, models.KindTransient, status.Failure.Kind)
}

func TestRuntimePermanentFailureNoRetry(t *testing.T) {
	processor := &scriptedProcessor{
		failures: 100,
		failWith: models.Permanent(fmt.Errorf("corrupt input")),
	}
	runtime, broker, results := runtimeFixture(t, processor, nil)

	ticket := testTicket()
	require.NoError(t, broker.Enqueue(context.Background(), ticket))

	require.NoError(t, runtime.Start(context.Background()))
	defer runtime.Stop()

	require.Eventually(t, func() bool {
		status, err := results.Get(context.Background(), ticket.JobID)
		return err == nil && status.State == models.JobStateFailed
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, processor.attemptCount())
}

// blockingProcessor holds every job until its context expires.
type blockingProcessor struct {
	mu       sync.Mutex
	attempts int
}

func (p *blockingProcessor) Process(ctx context.Context, ticket *models.JobTicket, attempt int) (*models.JobStatus, error) {
	p.mu.Lock()
	p.attempts++
	p.mu.Unlock()
	<-ctx.Done()
	return nil, models.Transient(fmt.Errorf("llm call aborted: %w", ctx.Err()))
}

func TestRuntimeJobDeadlineFailsWithoutRetry(t *testing.T) {
	processor := &blockingProcessor{}
	runtime, broker, results := runtimeFixture(t, processor, func(cfg *common.Config) {
		cfg.Workers.JobDeadline = "50ms"
	})

	ticket := testTicket()
	require.NoError(t, broker.Enqueue(context.Background(), ticket))

	require.NoError(t, runtime.Start(context.Background()))
	defer runtime.Stop()

	require.Eventually(t, func() bool {
		status, err := results.Get(context.Background(), ticket.JobID)
		return err == nil && status.State == models.JobStateFailed
	}, 5*time.Second, 10*time.Millisecond)

	// Deadline overruns are not retried: the next attempt would time
	// out the same way.
	processor.mu.Lock()
	attempts := processor.attempts
	processor.mu.Unlock()
	assert.Equal(t, 1, attempts)

	status, _ := results.Get(context.Background(), ticket.JobID)
	require.NotNil(t, status.Failure)
	assert.Equal(t, models.KindPermanent, status.Failure.Kind)
}

func TestRuntimeReceiveCapFailsPoisonJob(t *testing.T) {
	// Cancelled errors leave the message unacked; a short visibility
	// timeout redelivers until the receive cap trips.
	processor := &scriptedProcessor{
		failures: 100,
		failWith: models.Cancelled(fmt.Errorf("simulated crash")),
	}
	runtime, broker, results := runtimeFixture(t, processor, func(cfg *common.Config) {
		cfg.Broker.VisibilityTimeout = "50ms"
		cfg.Broker.MaxReceive = 2
	})

	ticket := testTicket()
	require.NoError(t, broker.Enqueue(context.Background(), ticket))

	require.NoError(t, runtime.Start(context.Background()))
	defer runtime.Stop()

	require.Eventually(t, func() bool {
		status, err := results.Get(context.Background(), ticket.JobID)
		return err == nil && status.State == models.JobStateFailed
	}, 10*time.Second, 20*time.Millisecond)

	status, _ := results.Get(context.Background(), ticket.JobID)
	require.NotNil(t, status.Failure)
	assert.Equal(t, models.KindPermanent, status.Failure.Kind)
}

func TestRuntimeStopIsIdempotent(t *testing.T) {
	runtime, _, _ := runtimeFixture(t, &scriptedProcessor{}, nil)

	require.NoError(t, runtime.Start(context.Background()))
	runtime.Stop()
	runtime.Stop()
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	runtime, _, _ := runtimeFixture(t, &scriptedProcessor{}, func(cfg *common.Config) {
		cfg.Workers.RetryBackoffBase = "1s"
		cfg.Workers.RetryBackoffCap = "60s"
	})

	assert.Equal(t, time.Second, runtime.backoffFor(0))
	assert.Equal(t, 2*time.Second, runtime.backoffFor(1))
	assert.Equal(t, 4*time.Second, runtime.backoffFor(2))
	assert.Equal(t, 60*time.Second, runtime.backoffFor(10))
}

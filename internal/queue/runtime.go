// -----------------------------------------------------------------------
// Queue Runtime - Worker pool driving tickets through the pipeline
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

const (
	minPollInterval = 100 * time.Millisecond
	maxPollInterval = 5 * time.Second
)

// JobProcessor runs one ticket to completion. A returned status is
// terminal and ready to publish; a returned error means the job did not
// finish and the runtime decides what happens to the delivery.
type JobProcessor interface {
	Process(ctx context.Context, ticket *models.JobTicket, attempt int) (*models.JobStatus, error)
}

// Runtime polls the broker with a pool of workers. The ack ordering is
// the at-least-once boundary: a terminal status is published to the
// result store before its delivery is acked, so a crash between the two
// redelivers the job instead of losing it.
type Runtime struct {
	broker    interfaces.Broker
	results   interfaces.ResultStore
	processor JobProcessor
	logger    arbor.ILogger

	concurrency       int
	maxRetries        int
	maxReceive        int
	backoffBase       time.Duration
	backoffCap        time.Duration
	jobDeadline       time.Duration
	visibilityTimeout time.Duration
	shutdownGrace     time.Duration

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewRuntime creates a worker pool from configuration.
func NewRuntime(
	broker interfaces.Broker,
	results interfaces.ResultStore,
	processor JobProcessor,
	config *common.Config,
	logger arbor.ILogger,
) *Runtime {
	return &Runtime{
		broker:            broker,
		results:           results,
		processor:         processor,
		logger:            logger,
		concurrency:       config.Workers.Concurrency,
		maxRetries:        config.Workers.MaxRetries,
		maxReceive:        config.Broker.MaxReceive,
		backoffBase:       config.Workers.RetryBackoffBaseDuration(),
		backoffCap:        config.Workers.RetryBackoffCapDuration(),
		jobDeadline:       config.Workers.JobDeadlineDuration(),
		visibilityTimeout: config.Broker.VisibilityTimeoutDuration(),
		shutdownGrace:     config.Workers.ShutdownGraceDuration(),
	}
}

// Start launches the worker pool. Safe to call once.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("runtime already started")
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.runWorker(runCtx, i)
	}

	r.logger.Info().
		Int("concurrency", r.concurrency).
		Int("max_retries", r.maxRetries).
		Dur("visibility_timeout", r.visibilityTimeout).
		Msg("Queue runtime started")
	return nil
}

// Stop cancels the workers and waits up to the shutdown grace period
// for in-flight jobs. Jobs still running after the grace period stay
// unacked and resurface via the visibility timeout.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.started || r.cancel == nil {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Msg("Queue runtime stopped")
	case <-time.After(r.shutdownGrace):
		r.logger.Warn().
			Dur("grace", r.shutdownGrace).
			Msg("Shutdown grace expired with jobs in flight, relying on redelivery")
	}
}

func (r *Runtime) runWorker(ctx context.Context, workerID int) {
	defer r.wg.Done()

	pollInterval := minPollInterval
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, ack, err := r.broker.Receive(ctx)
		if err != nil {
			if !errors.Is(err, interfaces.ErrNoMessage) {
				r.logger.Error().
					Int("worker", workerID).
					Err(err).
					Msg("Failed to receive from broker")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			pollInterval *= 2
			if pollInterval > maxPollInterval {
				pollInterval = maxPollInterval
			}
			continue
		}

		pollInterval = minPollInterval
		r.handle(ctx, workerID, delivery, ack)
	}
}

// handle runs one delivery through the processor and settles it.
func (r *Runtime) handle(ctx context.Context, workerID int, d *interfaces.Delivery, ack func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			// No ack: the visibility timeout redelivers, and the
			// receive cap eventually fails a crash-looping job.
			r.logger.Error().
				Int("worker", workerID).
				Str("job_id", d.Ticket.JobID).
				Str("panic", fmt.Sprintf("%v", rec)).
				Msg("Worker panicked processing job")
		}
	}()

	if d.ReceiveCount > r.maxReceive {
		r.logger.Warn().
			Str("job_id", d.Ticket.JobID).
			Int("receive_count", d.ReceiveCount).
			Int("max_receive", r.maxReceive).
			Msg("Job exceeded receive cap, failing")
		failure := models.Permanent(fmt.Errorf("delivered %d times without completing", d.ReceiveCount))
		r.settle(ctx, d, ack, models.Failed(d.Ticket.JobID, failure, d.Retries+1))
		return
	}

	attempt := d.Retries + 1
	if err := r.results.MarkRunning(ctx, d.Ticket.JobID, attempt); err != nil {
		r.logger.Warn().
			Str("job_id", d.Ticket.JobID).
			Err(err).
			Msg("Failed to mark job running")
	}

	jobCtx, cancelJob := context.WithTimeout(ctx, r.jobDeadline)
	defer cancelJob()

	stopHeartbeat := r.startHeartbeat(ctx, d.MessageID)
	status, err := r.processor.Process(jobCtx, d.Ticket, attempt)
	stopHeartbeat()

	if err != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			// Job deadline, not shutdown. Another attempt would time out
			// the same way, so fail now instead of retrying.
			r.logger.Warn().
				Str("job_id", d.Ticket.JobID).
				Dur("deadline", r.jobDeadline).
				Msg("Job deadline exceeded, failing")
			timeout := models.AtStage(models.StageOf(err),
				models.Permanent(fmt.Errorf("job deadline %s exceeded: %w", r.jobDeadline, err)))
			r.settle(ctx, d, ack, models.Failed(d.Ticket.JobID, timeout, attempt))
			return
		}
		r.settleError(ctx, d, ack, err)
		return
	}
	r.settle(ctx, d, ack, status)
}

// settleError decides between requeue, redelivery, and terminal failure
// for a job the processor could not finish.
func (r *Runtime) settleError(ctx context.Context, d *interfaces.Delivery, ack func() error, err error) {
	switch models.KindOf(err) {
	case models.KindCancelled:
		// Shutdown or deadline: leave the delivery unacked so the
		// visibility timeout hands it to another worker.
		r.logger.Info().
			Str("job_id", d.Ticket.JobID).
			Err(err).
			Msg("Job interrupted, leaving for redelivery")
		return

	case models.KindTransient:
		if d.Retries < r.maxRetries {
			delay := r.backoffFor(d.Retries)
			r.logger.Info().
				Str("job_id", d.Ticket.JobID).
				Int("retry", d.Retries+1).
				Dur("delay", delay).
				Err(err).
				Msg("Requeueing job after transient failure")
			if requeueErr := r.broker.Requeue(ctx, d, delay); requeueErr != nil {
				r.logger.Error().
					Str("job_id", d.Ticket.JobID).
					Err(requeueErr).
					Msg("Failed to requeue, leaving for redelivery")
				return
			}
			if ackErr := ack(); ackErr != nil {
				r.logger.Warn().
					Str("job_id", d.Ticket.JobID).
					Err(ackErr).
					Msg("Failed to ack requeued delivery")
			}
			return
		}
		r.logger.Warn().
			Str("job_id", d.Ticket.JobID).
			Int("retries", d.Retries).
			Err(err).
			Msg("Retry budget exhausted, failing job")
		r.settle(ctx, d, ack, models.Failed(d.Ticket.JobID, err, d.Retries+1))

	default:
		r.settle(ctx, d, ack, models.Failed(d.Ticket.JobID, err, d.Retries+1))
	}
}

// settle publishes a terminal status, then acks. Publish failure leaves
// the delivery unacked so the job is re-run rather than lost.
func (r *Runtime) settle(ctx context.Context, d *interfaces.Delivery, ack func() error, status *models.JobStatus) {
	if err := r.results.Publish(ctx, status); err != nil {
		r.logger.Error().
			Str("job_id", status.JobID).
			Err(err).
			Msg("Failed to publish terminal status, leaving for redelivery")
		return
	}
	if err := ack(); err != nil {
		r.logger.Warn().
			Str("job_id", status.JobID).
			Err(err).
			Msg("Failed to ack delivery after publish")
	}
}

// startHeartbeat extends the visibility of an in-flight message at half
// the visibility timeout so long jobs are not redelivered mid-run.
func (r *Runtime) startHeartbeat(ctx context.Context, messageID string) func() {
	interval := r.visibilityTimeout / 2
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.broker.Extend(ctx, messageID, r.visibilityTimeout); err != nil {
					r.logger.Warn().
						Str("message_id", messageID).
						Err(err).
						Msg("Failed to extend visibility")
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// backoffFor doubles the base delay per prior retry, capped.
func (r *Runtime) backoffFor(retries int) time.Duration {
	delay := r.backoffBase
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay >= r.backoffCap {
			return r.backoffCap
		}
	}
	if delay > r.backoffCap {
		return r.backoffCap
	}
	return delay
}

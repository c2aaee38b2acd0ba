package models

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and degradation decisions.
// Adapters assign kinds; the orchestrator and queue runtime only ever
// branch on the kind, never on concrete error types.
type Kind string

const (
	// KindTransient covers timeouts, 5xx responses, and temporary broker
	// failures. Eligible for requeue with backoff.
	KindTransient Kind = "Transient"

	// KindPermanent covers unreadable inputs and malformed payloads.
	// Never retried.
	KindPermanent Kind = "Permanent"

	// KindNotAvailable covers optional dependencies that are absent,
	// such as a classifier with no model loaded. Never retried.
	KindNotAvailable Kind = "NotAvailable"

	// KindCancelled covers shutdown and deadline aborts. The delivery is
	// left to the broker's visibility timeout for redelivery.
	KindCancelled Kind = "Cancelled"
)

// PipelineError carries a failure kind and, once the orchestrator has
// seen it, the stage that raised it.
type PipelineError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("[%s]: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	return &PipelineError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	return &PipelineError{Kind: KindPermanent, Err: err}
}

// NotAvailable wraps err as an absent-dependency failure.
func NotAvailable(err error) error {
	return &PipelineError{Kind: KindNotAvailable, Err: err}
}

// Cancelled wraps err as a shutdown/deadline abort.
func Cancelled(err error) error {
	return &PipelineError{Kind: KindCancelled, Err: err}
}

// AtStage attaches a stage name to err, wrapping plain errors as
// Transient. Classified errors keep their kind.
func AtStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return &PipelineError{Kind: pe.Kind, Stage: stage, Err: pe.Err}
	}
	return &PipelineError{Kind: KindOf(err), Stage: stage, Err: err}
}

// KindOf returns the classification of err. Unclassified errors default
// to Transient: retrying an unknown failure is safe because reindexing
// is idempotent, while dropping a recoverable job is not.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindTransient
}

// StageOf returns the stage recorded on err, or "" for unattributed errors.
func StageOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

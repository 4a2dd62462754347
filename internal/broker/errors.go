// Package broker is the reliability wrapper over the message broker:
// blocking-pop/push against a shared task queue, and a TTL-bounded
// per-job response channel used by submit_job. See SPEC_FULL.md §4.1.
package broker

import "errors"

var (
	// ErrTimeout is returned by SubmitJob when no response arrives
	// within the TTL-derived wait window.
	ErrTimeout = errors.New("broker: response timed out")

	// ErrTransient marks a recoverable broker failure (connection drop,
	// failed ping). Retried internally with capped exponential backoff;
	// only surfaces once retries are exhausted, wrapped into ErrUnavailable.
	ErrTransient = errors.New("broker: transient failure")

	// ErrUnavailable is the fatal error surfaced once retries against
	// ErrTransient are exhausted. Aborts the run.
	ErrUnavailable = errors.New("broker: unavailable")
)

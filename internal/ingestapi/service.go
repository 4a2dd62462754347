// Package ingestapi is the narrow Submission/Fetch surface exposed to a
// front-end: submit_job / fetch_job, per SPEC_FULL.md §4.5. Re-architected
// per Design Note "Dependency-injected service" as a constructor-injected
// interface rather than a pulled-in singleton.
package ingestapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/ingest-dispatch/internal/broker"
	"github.com/WessleyAI/ingest-dispatch/internal/jobspec"
	"github.com/WessleyAI/ingest-dispatch/internal/tracing"
)

// ErrNotReady is returned by FetchJob when the job's result has not yet
// arrived.
var ErrNotReady = errors.New("ingestapi: job not ready")

// Service is the front-end-facing contract.
type Service interface {
	SubmitJob(ctx context.Context, job *jobspec.JobSpec, ttl time.Duration) (jobID string, err error)
	FetchJob(jobID string) (*jobspec.Result, error)
}

// service is the default Service, backed by a broker.Client. SubmitJob
// allocates response_<job_id>, serializes, and delegates to the broker's
// submit_job; it blocks until a result is present or the broker's own
// timeout fires, then caches the result so a subsequent FetchJob call can
// return it without going back to the broker.
type service struct {
	broker   *broker.Client
	exporter *tracing.Exporter // optional OTLP sink; nil is a no-op (§4.4.1)

	mu      sync.Mutex
	results map[string]*jobspec.Result
}

// NewService builds a Service over brokerClient. exporter may be nil, in
// which case completed jobs still get a span tree aggregated but nothing
// is shipped anywhere.
func NewService(brokerClient *broker.Client, exporter *tracing.Exporter) Service {
	return &service{broker: brokerClient, exporter: exporter, results: make(map[string]*jobspec.Result)}
}

func (s *service) SubmitJob(ctx context.Context, job *jobspec.JobSpec, ttl time.Duration) (string, error) {
	envelope, err := job.MarshalEnvelope()
	if err != nil {
		return "", fmt.Errorf("%w: %v", jobspec.ErrInvalidField, err)
	}

	responseChannel := "response_" + job.JobID
	data, err := s.broker.SubmitJob(ctx, "task_queue", envelope, responseChannel, ttl)
	if err != nil {
		return "", err
	}

	var result jobspec.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("ingestapi: malformed response: %w", err)
	}

	s.mu.Lock()
	s.results[job.JobID] = &result
	s.mu.Unlock()

	if len(result.TraceRecords) > 0 {
		tree := tracing.Aggregate(job.JobID, result.TraceRecords, "", slog.Default())
		if s.exporter != nil {
			if err := s.exporter.Export(ctx, tree); err != nil {
				slog.Default().Warn("export spans", "job_id", job.JobID, "err", err)
			}
		}
	}

	return job.JobID, nil
}

func (s *service) FetchJob(jobID string) (*jobspec.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[jobID]
	if !ok {
		return nil, ErrNotReady
	}
	return result, nil
}

// Package orchestrator drives a set of documents through the broker,
// respecting a caller-chosen concurrency limit, timeout, and output
// directory. See SPEC_FULL.md §4.3.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/WessleyAI/ingest-dispatch/internal/broker"
	"github.com/WessleyAI/ingest-dispatch/internal/jobspec"
	"github.com/WessleyAI/ingest-dispatch/internal/tracing"
	"github.com/WessleyAI/ingest-dispatch/pkg/fn"
	"github.com/WessleyAI/ingest-dispatch/pkg/resilience"
)

// jobState is a job's lifecycle stage, per §4.3's state machine:
// Built → Submitted → (Completed | TimedOut | Errored).
type jobState int

const (
	StateBuilt jobState = iota
	StateSubmitted
	StateCompleted
	StateTimedOut
	StateErrored
)

// Document is one input to be pushed through the pipeline.
type Document struct {
	SourceID     string
	SourceName   string
	DocumentType jobspec.DocumentType
	Payload      []byte
}

// Options configures one CreateAndProcessJobs run.
type Options struct {
	ConcurrencyN    int
	BatchSize       int
	OutputDirectory string // empty: outputs held in memory, reported via counters only
	JobTTL          time.Duration
	SubmitRate      float64 // tokens/sec; 0 disables the gate (§4.3.1)
	SubmitBurst     int
	Trace           bool
	Logger          *slog.Logger
	Exporter        *tracing.Exporter // optional OTLP sink; nil is a no-op (§4.4.1)
}

// Stats is the final statistics report described in §7.
type Stats struct {
	Submitted      int
	Completed      int
	TimedOut       int
	Errored        int
	PagesProcessed int
	TraceTimes     map[string][]int64 // stage -> durations (ns), across all completed jobs
}

// Orchestrator is the sole owner of a broker handle and the results
// collector, per Design Note "Cyclic ownership" (§9).
type Orchestrator struct {
	broker  *broker.Client
	opts    Options
	limiter *resilience.Limiter
}

// New builds an Orchestrator. limiter is nil unless opts.SubmitRate > 0.
func New(brokerClient *broker.Client, opts Options) *Orchestrator {
	if opts.ConcurrencyN <= 0 {
		opts.ConcurrencyN = 10
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	o := &Orchestrator{broker: brokerClient, opts: opts}
	if opts.SubmitRate > 0 {
		burst := opts.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		o.limiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.SubmitRate, Burst: burst})
	}
	return o
}

// jobResult is one document's terminal outcome, collected under the shared
// results collector's mutex (§5's "thread-safe results collector").
type jobResult struct {
	sourceID string
	state    jobState
	result   *jobspec.Result
	err      error
}

// CreateAndProcessJobs builds a JobSpec per document, partitions into
// batches of opts.BatchSize, and submits batches through a worker pool of
// fixed size opts.ConcurrencyN. No more than ConcurrencyN jobs are
// in-flight at once; no document is submitted twice (§4.3's guarantees).
func (o *Orchestrator) CreateAndProcessJobs(ctx context.Context, docs []Document, tasks []jobspec.Task) (*Stats, error) {
	stats := &Stats{TraceTimes: make(map[string][]int64)}
	var mu sync.Mutex

	batches := batchDocuments(docs, o.opts.BatchSize)
	for _, batch := range batches {
		results := fn.ParMapResult(batch, o.opts.ConcurrencyN, func(doc Document) fn.Result[jobResult] {
			jr := o.runOne(ctx, doc, tasks)
			if errors.Is(jr.err, broker.ErrUnavailable) {
				return fn.Err[jobResult](jr.err)
			}
			return fn.Ok(jr)
		})

		for _, r := range results {
			jr, err := r.Unwrap()
			if err != nil {
				return stats, fmt.Errorf("broker: %w", err)
			}

			mu.Lock()
			stats.Submitted++
			switch jr.state {
			case StateCompleted:
				stats.Completed++
				if jr.result != nil {
					recordTraceDurations(stats.TraceTimes, jr.result.TraceRecords)
					stats.PagesProcessed += pageCount(jr.result.Payload)
				}
			case StateTimedOut:
				stats.TimedOut++
			case StateErrored:
				stats.Errored++
				o.opts.Logger.Error("job errored", "source_id", jr.sourceID, "err", jr.err)
			}
			mu.Unlock()
		}
	}

	return stats, nil
}

// runOne builds, submits, and awaits a single document's job. A single
// document's failure never aborts the batch — only a broker-level error
// (ErrUnavailable) propagates up, per §4.3's error semantics.
func (o *Orchestrator) runOne(ctx context.Context, doc Document, tasks []jobspec.Task) jobResult {
	job, err := jobspec.New(jobspec.NewJobSpecOptions{
		DocumentType: doc.DocumentType,
		Payload:      doc.Payload,
		SourceID:     doc.SourceID,
		SourceName:   doc.SourceName,
		Tasks:        tasks,
		Tracing:      jobspec.TracingOptions{Trace: o.opts.Trace, TsSend: time.Now().UnixNano()},
	})
	if err != nil {
		return jobResult{sourceID: doc.SourceID, state: StateErrored, err: err}
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return jobResult{sourceID: doc.SourceID, state: StateErrored, err: err}
		}
	}

	envelope, err := job.MarshalEnvelope()
	if err != nil {
		return jobResult{sourceID: doc.SourceID, state: StateErrored, err: err}
	}

	responseChannel := "response_" + job.JobID
	data, err := o.broker.SubmitJob(ctx, "task_queue", envelope, responseChannel, o.opts.JobTTL)
	if err != nil {
		if err == broker.ErrTimeout {
			return jobResult{sourceID: doc.SourceID, state: StateTimedOut}
		}
		return jobResult{sourceID: doc.SourceID, state: StateErrored, err: err}
	}

	var result jobspec.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return jobResult{sourceID: doc.SourceID, state: StateErrored, err: err}
	}
	if result.Status == jobspec.StatusError {
		return jobResult{sourceID: doc.SourceID, state: StateErrored, result: &result, err: fmt.Errorf("job: %s", result.Description)}
	}
	if result.Status == jobspec.StatusTimeout {
		return jobResult{sourceID: doc.SourceID, state: StateTimedOut, result: &result}
	}

	if o.opts.OutputDirectory != "" {
		if err := writeResultAtomic(o.opts.OutputDirectory, doc.SourceID, &result); err != nil {
			return jobResult{sourceID: doc.SourceID, state: StateErrored, result: &result, err: err}
		}
	}

	if len(result.TraceRecords) > 0 {
		tree := tracing.Aggregate(job.JobID, result.TraceRecords, "", o.opts.Logger)
		if o.opts.Exporter != nil {
			if err := o.opts.Exporter.Export(ctx, tree); err != nil {
				o.opts.Logger.Warn("export spans", "job_id", job.JobID, "err", err)
			}
		}
	}

	return jobResult{sourceID: doc.SourceID, state: StateCompleted, result: &result}
}

// pageCount extracts a best-effort page count from a completed job's
// task-specific payload, per §7's "pages processed" report field. Extract
// tasks attach page_count at the top level or under a metadata object;
// absent either, the job contributes 0.
func pageCount(payload json.RawMessage) int {
	if len(payload) == 0 {
		return 0
	}
	var withTop struct {
		PageCount int `json:"page_count"`
		Metadata  struct {
			PageCount int `json:"page_count"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(payload, &withTop); err != nil {
		return 0
	}
	if withTop.PageCount > 0 {
		return withTop.PageCount
	}
	return withTop.Metadata.PageCount
}

func batchDocuments(docs []Document, batchSize int) [][]Document {
	var batches [][]Document
	for i := 0; i < len(docs); i += batchSize {
		end := i + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batches = append(batches, docs[i:end])
	}
	return batches
}

// writeResultAtomic writes result to <dir>/<sourceID>.json via a temp file
// plus rename, so output_dir files are never partially written.
func writeResultAtomic(dir, sourceID string, result *jobspec.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	target := filepath.Join(dir, sourceID+".json")
	tmp, err := os.CreateTemp(dir, ".tmp-"+sourceID+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, target)
}

// recordTraceDurations folds a result's flat trace map into per-stage
// duration samples (exit - entry, clamped at zero), for the final report's
// per-stage mean/median latency.
func recordTraceDurations(out map[string][]int64, trace map[string]int64) {
	const entryPrefix = "trace::entry::"
	const exitPrefix = "trace::exit::"

	stages := map[string]struct{ entry, exit int64 }{}
	for key, ts := range trace {
		switch {
		case len(key) > len(entryPrefix) && key[:len(entryPrefix)] == entryPrefix:
			name := key[len(entryPrefix):]
			s := stages[name]
			s.entry = ts
			stages[name] = s
		case len(key) > len(exitPrefix) && key[:len(exitPrefix)] == exitPrefix:
			name := key[len(exitPrefix):]
			s := stages[name]
			s.exit = ts
			stages[name] = s
		}
	}

	for name, s := range stages {
		if s.exit == 0 && s.entry == 0 {
			continue
		}
		d := s.exit - s.entry
		if d < 0 {
			d = 0
		}
		out[name] = append(out[name], d)
	}
}

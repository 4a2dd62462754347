package jobspec

import "encoding/json"

// Status is the terminal disposition of a submitted job, per §6.
type Status string

const (
	StatusOK      Status = "ok"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Result is the envelope a worker writes to response_<job_id>, and what
// FetchJob returns to the submitter. TraceRecords carries
// "trace::entry::<stage>" / "trace::exit::<stage>" keys in epoch
// nanoseconds, populated only when the originating JobSpec requested
// tracing.
type Result struct {
	JobID        string           `json:"job_id"`
	Status       Status           `json:"status"`
	Description  string           `json:"description,omitempty"`
	TraceRecords map[string]int64 `json:"trace,omitempty"`
	Payload      json.RawMessage  `json:"data,omitempty"`
}

// Timeout builds a Result for a job whose response never arrived within
// its TTL window.
func Timeout(jobID string) *Result {
	return &Result{JobID: jobID, Status: StatusTimeout}
}

// Failed builds a Result describing a worker- or transport-side failure.
func Failed(jobID, description string) *Result {
	return &Result{JobID: jobID, Status: StatusError, Description: description}
}

// Package jobspec defines the wire envelope and task model: a JobSpec
// (one document + tracing options + ordered task pipeline) and the
// validated Task variants that make it up. See component
// design §4.2 of SPEC_FULL.md.
package jobspec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TracingOptions controls whether a worker tags trace::entry/exit
// timestamps into the result, and carries the submission send time.
type TracingOptions struct {
	Trace  bool  `json:"trace"`
	TsSend int64 `json:"ts_send"`
}

// JobSpec is an immutable description of one document-processing request.
// Created by the submitter, consumed once by the worker. The submitter
// exclusively owns a JobSpec until SubmitJob succeeds, per §3 Ownership.
type JobSpec struct {
	JobID           string
	DocumentType    DocumentType
	Payload         []byte // raw document bytes; base64-encoded on the wire
	SourceID        string
	SourceName      string
	Tasks           []Task
	ExtendedOptions map[string]any
	Tracing         TracingOptions
}

// NewJobSpecOptions are the caller-supplied fields for New.
type NewJobSpecOptions struct {
	DocumentType    DocumentType
	Payload         []byte
	SourceID        string
	SourceName      string
	Tasks           []Task
	ExtendedOptions map[string]any
	Tracing         TracingOptions
}

// New allocates a job id and returns a validated JobSpec, or a
// *ValidationError if an extract task's document_type disagrees with the
// JobSpec's own document_type (the invariant in §3).
func New(opts NewJobSpecOptions) (*JobSpec, error) {
	docType := DocumentType(opts.DocumentType)
	if !validDocumentTypes[docType] {
		return nil, NewValidationError("document_type", string(opts.DocumentType), ErrUnsupportedDocType)
	}

	for _, task := range opts.Tasks {
		if et, ok := task.(*ExtractTask); ok {
			if et.DocumentType() != docType {
				return nil, NewValidationError(
					"document_type",
					fmt.Sprintf("job=%s task=%s", docType, et.DocumentType()),
					ErrInvalidField,
				)
			}
		}
	}

	ext := opts.ExtendedOptions
	if ext == nil {
		ext = map[string]any{}
	}

	return &JobSpec{
		JobID:           uuid.NewString(),
		DocumentType:    docType,
		Payload:         opts.Payload,
		SourceID:        opts.SourceID,
		SourceName:      opts.SourceName,
		Tasks:           opts.Tasks,
		ExtendedOptions: ext,
		Tracing:         opts.Tracing,
	}, nil
}

// wireEnvelope is the JSON shape pushed onto task_queue, per §6.
type wireEnvelope struct {
	JobID          string         `json:"job_id"`
	JobPayload     wireJobPayload `json:"job_payload"`
	TracingOptions TracingOptions `json:"tracing_options"`
}

type wireJobPayload struct {
	SourceID     string         `json:"source_id"`
	SourceName   string         `json:"source_name"`
	DocumentType string         `json:"document_type"`
	Content      string         `json:"content"` // base64
	Tasks        []taskEnvelope `json:"tasks"`
}

// MarshalEnvelope renders the JobSpec into the wire envelope JSON, per §6.
func (j *JobSpec) MarshalEnvelope() ([]byte, error) {
	tasks := make([]taskEnvelope, len(j.Tasks))
	for i, t := range j.Tasks {
		tasks[i] = toEnvelope(t)
	}

	env := wireEnvelope{
		JobID: j.JobID,
		JobPayload: wireJobPayload{
			SourceID:     j.SourceID,
			SourceName:   j.SourceName,
			DocumentType: string(j.DocumentType),
			Content:      base64.StdEncoding.EncodeToString(j.Payload),
			Tasks:        tasks,
		},
		TracingOptions: j.Tracing,
	}
	return json.Marshal(env)
}

// UnmarshalEnvelope parses wire envelope JSON (as produced by
// MarshalEnvelope) into a JobSpec, decoding each task via f. Unknown task
// kinds or malformed task_properties surface as *ValidationError.
func UnmarshalEnvelope(data []byte, f *TaskFactory) (*JobSpec, error) {
	var raw struct {
		JobID      string `json:"job_id"`
		JobPayload struct {
			SourceID     string            `json:"source_id"`
			SourceName   string            `json:"source_name"`
			DocumentType string            `json:"document_type"`
			Content      string            `json:"content"`
			Tasks        []json.RawMessage `json:"tasks"`
		} `json:"job_payload"`
		TracingOptions TracingOptions `json:"tracing_options"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewValidationError("job_payload", string(data), fmt.Errorf("%w: %v", ErrInvalidField, err))
	}

	payload, err := base64.StdEncoding.DecodeString(raw.JobPayload.Content)
	if err != nil {
		return nil, NewValidationError("content", raw.JobPayload.Content, fmt.Errorf("%w: %v", ErrInvalidField, err))
	}

	tasks := make([]Task, len(raw.JobPayload.Tasks))
	for i, rt := range raw.JobPayload.Tasks {
		var env struct {
			Type           string          `json:"type"`
			TaskProperties json.RawMessage `json:"task_properties"`
		}
		if err := json.Unmarshal(rt, &env); err != nil {
			return nil, NewValidationError("tasks", string(rt), fmt.Errorf("%w: %v", ErrInvalidField, err))
		}
		task, err := f.BuildTask(env.Type, env.TaskProperties)
		if err != nil {
			return nil, err
		}
		tasks[i] = task
	}

	docType := DocumentType(raw.JobPayload.DocumentType)
	if !validDocumentTypes[docType] {
		return nil, NewValidationError("document_type", raw.JobPayload.DocumentType, ErrUnsupportedDocType)
	}

	for _, task := range tasks {
		if et, ok := task.(*ExtractTask); ok && et.DocumentType() != docType {
			return nil, NewValidationError(
				"document_type",
				fmt.Sprintf("job=%s task=%s", docType, et.DocumentType()),
				ErrInvalidField,
			)
		}
	}

	return &JobSpec{
		JobID:        raw.JobID,
		DocumentType: docType,
		Payload:      payload,
		SourceID:     raw.JobPayload.SourceID,
		SourceName:   raw.JobPayload.SourceName,
		Tasks:        tasks,
		Tracing:      raw.TracingOptions,
	}, nil
}

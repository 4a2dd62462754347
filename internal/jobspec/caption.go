package jobspec

import "fmt"

// CaptionOptions are the caller-supplied properties for a caption task.
type CaptionOptions struct {
	BatchSize   int
	HasBatch    bool
	ModelName   string
	EndpointURL string
}

const defaultCaptionBatchSize = 8

// CaptionTask generates image captions for extracted figures.
type CaptionTask struct {
	batchSize   int
	modelName   string
	endpointURL string
}

// Caption validates opts and returns a CaptionTask, or a *ValidationError.
// batch_size, if given, must be > 0; it defaults to 8, matching
// original_source's ImageCaptionExtractionSchema.
func (f *TaskFactory) Caption(opts CaptionOptions) (Task, error) {
	batch := defaultCaptionBatchSize
	if opts.HasBatch {
		if opts.BatchSize <= 0 {
			return nil, NewValidationError("batch_size", fmt.Sprint(opts.BatchSize), ErrInvalidField)
		}
		batch = opts.BatchSize
	}
	return &CaptionTask{
		batchSize:   batch,
		modelName:   opts.ModelName,
		endpointURL: opts.EndpointURL,
	}, nil
}

func (t *CaptionTask) Kind() TaskKind { return KindCaption }

func (t *CaptionTask) Properties() map[string]any {
	p := map[string]any{"batch_size": t.batchSize}
	if t.modelName != "" {
		p["model_name"] = t.modelName
	}
	if t.endpointURL != "" {
		p["endpoint_url"] = t.endpointURL
	}
	return p
}

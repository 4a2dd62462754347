package jobspec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BuildTask parses raw JSON task_properties for the named kind and
// constructs a validated Task through f. Unknown properties are rejected
// at this boundary (json.Decoder.DisallowUnknownFields), matching the
// spec's "extra properties beyond the declared set are rejected at
// construction" rule — Go's typed structs have no "extra field" problem on
// their own, so the rejection has to happen at the JSON→struct boundary,
// which is exactly where the CLI and the HTTP front-end both sit.
func (f *TaskFactory) BuildTask(kind string, raw json.RawMessage) (Task, error) {
	switch TaskKind(kind) {
	case KindExtract:
		var p struct {
			DocumentType  string          `json:"document_type"`
			Method        string          `json:"method"`
			ExtractText   bool            `json:"extract_text"`
			ExtractImages bool            `json:"extract_images"`
			ExtractTables bool            `json:"extract_tables"`
			TextDepth     string          `json:"text_depth"`
			Params        json.RawMessage `json:"params"`
		}
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		// The wire form (ExtractTask.Properties) nests the flags under
		// "params"; its side parameters are re-baked by f and ignored here.
		if len(p.Params) > 0 {
			if err := json.Unmarshal(p.Params, &p); err != nil {
				return nil, NewValidationError("params", string(p.Params), fmt.Errorf("%w: %v", ErrInvalidField, err))
			}
		}
		return f.Extract(ExtractOptions{
			DocumentType:  DocumentType(p.DocumentType),
			Method:        p.Method,
			ExtractText:   p.ExtractText,
			ExtractImages: p.ExtractImages,
			ExtractTables: p.ExtractTables,
			TextDepth:     p.TextDepth,
		})

	case KindSplit:
		var p struct {
			SplitBy            string `json:"split_by"`
			SplitLength        int    `json:"split_length"`
			SplitOverlap       *int   `json:"split_overlap"`
			MaxCharacterLength *int   `json:"max_character_length"`
			SentenceWindowSize *int   `json:"sentence_window_size"`
		}
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		opts := SplitOptions{SplitBy: p.SplitBy, SplitLength: p.SplitLength}
		if p.SplitOverlap != nil {
			opts.HasOverlap = true
			opts.SplitOverlap = *p.SplitOverlap
		}
		if p.MaxCharacterLength != nil {
			opts.HasMaxCharacterLen = true
			opts.MaxCharacterLength = *p.MaxCharacterLength
		}
		if p.SentenceWindowSize != nil {
			opts.HasSentenceWindow = true
			opts.SentenceWindowSize = *p.SentenceWindowSize
		}
		return f.Split(opts)

	case KindStore:
		var p struct {
			Destination string            `json:"destination"`
			Params      map[string]string `json:"params"`
		}
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return f.Store(StoreOptions{Destination: p.Destination, Params: p.Params})

	case KindEmbed:
		var p struct {
			Model    string `json:"model"`
			Endpoint string `json:"endpoint"`
		}
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return f.Embed(EmbedOptions{Model: p.Model, Endpoint: p.Endpoint})

	case KindVdbUpload:
		var p struct {
			FilterErrors bool `json:"filter_errors"`
		}
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		return f.VdbUpload(VdbUploadOptions{FilterErrors: p.FilterErrors})

	case KindCaption:
		var p struct {
			BatchSize   *int   `json:"batch_size"`
			ModelName   string `json:"model_name"`
			EndpointURL string `json:"endpoint_url"`
		}
		if err := decodeStrict(raw, &p); err != nil {
			return nil, err
		}
		opts := CaptionOptions{ModelName: p.ModelName, EndpointURL: p.EndpointURL}
		if p.BatchSize != nil {
			opts.HasBatch = true
			opts.BatchSize = *p.BatchSize
		}
		return f.Caption(opts)

	default:
		return nil, NewValidationError("type", kind, ErrUnknownTaskKind)
	}
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return NewValidationError("task_properties", string(raw), fmt.Errorf("%w: %v", ErrUnknownProperty, err))
	}
	return nil
}

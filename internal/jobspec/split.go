package jobspec

import "fmt"

// SplitOptions are the caller-supplied properties for a split task.
type SplitOptions struct {
	SplitBy             string // word | sentence | passage | page | size
	SplitLength          int
	SplitOverlap         int
	MaxCharacterLength   int
	SentenceWindowSize   int
	HasOverlap           bool
	HasMaxCharacterLen   bool
	HasSentenceWindow    bool
}

var validSplitBy = set("word", "sentence", "passage", "page", "size")

// SplitTask divides a document according to split_by/split_length.
type SplitTask struct {
	splitBy            string
	splitLength        int
	splitOverlap       int
	hasOverlap         bool
	maxCharacterLength int
	hasMaxCharLen      bool
	sentenceWindowSize int
	hasSentenceWindow  bool
}

// Split validates opts and returns a SplitTask, or a *ValidationError.
//
// split_by must be one of the five supported strategies; split_length must
// be > 0. sentence_window_size > 0 requires split_by == "sentence" (Open
// Question 3 in the spec: when both are omitted, the task carries no
// windowing at all — hasSentenceWindow stays false).
func (f *TaskFactory) Split(opts SplitOptions) (Task, error) {
	if !validSplitBy[opts.SplitBy] {
		return nil, NewValidationError("split_by", opts.SplitBy, ErrInvalidField)
	}
	if opts.SplitLength <= 0 {
		return nil, NewValidationError("split_length", fmt.Sprint(opts.SplitLength), ErrInvalidField)
	}
	if opts.HasOverlap && opts.SplitOverlap < 0 {
		return nil, NewValidationError("split_overlap", fmt.Sprint(opts.SplitOverlap), ErrInvalidField)
	}
	if opts.HasMaxCharacterLen && opts.MaxCharacterLength <= 0 {
		return nil, NewValidationError("max_character_length", fmt.Sprint(opts.MaxCharacterLength), ErrInvalidField)
	}
	if opts.HasSentenceWindow {
		if opts.SentenceWindowSize < 0 {
			return nil, NewValidationError("sentence_window_size", fmt.Sprint(opts.SentenceWindowSize), ErrInvalidField)
		}
		if opts.SentenceWindowSize > 0 && opts.SplitBy != "sentence" {
			return nil, NewValidationError("sentence_window_size", fmt.Sprint(opts.SentenceWindowSize), ErrInvalidField)
		}
	}

	return &SplitTask{
		splitBy:            opts.SplitBy,
		splitLength:        opts.SplitLength,
		splitOverlap:       opts.SplitOverlap,
		hasOverlap:         opts.HasOverlap,
		maxCharacterLength: opts.MaxCharacterLength,
		hasMaxCharLen:      opts.HasMaxCharacterLen,
		sentenceWindowSize: opts.SentenceWindowSize,
		hasSentenceWindow:  opts.HasSentenceWindow,
	}, nil
}

func (t *SplitTask) Kind() TaskKind { return KindSplit }

func (t *SplitTask) Properties() map[string]any {
	p := map[string]any{
		"split_by":     t.splitBy,
		"split_length": t.splitLength,
	}
	if t.hasOverlap {
		p["split_overlap"] = t.splitOverlap
	}
	if t.hasMaxCharLen {
		p["max_character_length"] = t.maxCharacterLength
	}
	if t.hasSentenceWindow {
		p["sentence_window_size"] = t.sentenceWindowSize
	}
	return p
}

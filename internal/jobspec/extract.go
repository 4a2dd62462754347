package jobspec

import "strings"

// ExtractOptions are the caller-supplied properties for an extract task.
// Method may be empty, in which case the factory fills it from
// defaultExtractMethod keyed by DocumentType.
type ExtractOptions struct {
	DocumentType  DocumentType
	Method        string
	ExtractText   bool
	ExtractImages bool
	ExtractTables bool
	TextDepth     string // "document" | "page" | "block"
}

var validTextDepths = set("document", "page", "block")

// ExtractTask extracts content from a document of a given type and method.
type ExtractTask struct {
	documentType  DocumentType
	method        string
	extractText   bool
	extractImages bool
	extractTables bool
	textDepth     string

	// Side parameters baked in by the owning TaskFactory at construction.
	unstructuredAPIKey string
	unstructuredURL    string
	eclairTritonHost   string
	eclairTritonPort   string
	eclairBatchSize    string
}

// Extract validates opts and returns an ExtractTask, or a *ValidationError.
//
// document_type must be supported; an empty method is filled from
// defaultExtractMethod, and the resulting method must be in the per-type
// allow-list or it is rejected. text_depth defaults to "document" when unset.
func (f *TaskFactory) Extract(opts ExtractOptions) (Task, error) {
	docType := DocumentType(strings.ToLower(string(opts.DocumentType)))
	if !validDocumentTypes[docType] {
		return nil, NewValidationError("document_type", string(opts.DocumentType), ErrUnsupportedDocType)
	}

	method := opts.Method
	if method == "" {
		method = defaultExtractMethod[docType]
	}
	if !extractMethodAllowList[docType][method] {
		return nil, NewValidationError("method", method, ErrUnknownMethod)
	}

	depth := opts.TextDepth
	if depth == "" {
		depth = "document"
	}
	if !validTextDepths[depth] {
		return nil, NewValidationError("text_depth", depth, ErrInvalidField)
	}

	t := &ExtractTask{
		documentType:  docType,
		method:        method,
		extractText:   opts.ExtractText,
		extractImages: opts.ExtractImages,
		extractTables: opts.ExtractTables,
		textDepth:     depth,
	}

	switch method {
	case "unstructured_local":
		t.unstructuredAPIKey = f.env.unstructuredAPIKey
		t.unstructuredURL = f.env.unstructuredURL
	case "eclair":
		t.eclairTritonHost = f.env.eclairTritonHost
		t.eclairTritonPort = f.env.eclairTritonPort
		t.eclairBatchSize = f.env.eclairBatchSize
	}

	return t, nil
}

func (t *ExtractTask) Kind() TaskKind { return KindExtract }

func (t *ExtractTask) Properties() map[string]any {
	params := map[string]any{
		"extract_text":   t.extractText,
		"extract_images": t.extractImages,
		"extract_tables": t.extractTables,
		"text_depth":     t.textDepth,
	}

	switch t.method {
	case "unstructured_local":
		params["api_key"] = t.unstructuredAPIKey
		params["unstructured_url"] = t.unstructuredURL
	case "eclair":
		params["eclair_triton_host"] = t.eclairTritonHost
		params["eclair_triton_port"] = t.eclairTritonPort
		params["eclair_batch_size"] = t.eclairBatchSize
	}

	return map[string]any{
		"method":        t.method,
		"document_type": string(t.documentType),
		"params":        params,
	}
}

// DocumentType returns the task's configured document type — used by
// JobSpec construction to check the invariant that a JobSpec carrying an
// extract task must have its own document_type match the task's.
func (t *ExtractTask) DocumentType() DocumentType { return t.documentType }

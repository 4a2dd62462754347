package jobspec

// TaskKind discriminates the tagged Task variant. Re-architected per the
// spec's Design Note 1 as an explicit tagged union rather than a class
// hierarchy with a shared to_dict method.
type TaskKind string

const (
	KindExtract    TaskKind = "extract"
	KindSplit      TaskKind = "split"
	KindStore      TaskKind = "store"
	KindEmbed      TaskKind = "embed"
	KindVdbUpload  TaskKind = "vdb_upload"
	KindCaption    TaskKind = "caption"
)

// DocumentType enumerates the document payload formats a JobSpec may carry.
type DocumentType string

const (
	DocPDF     DocumentType = "pdf"
	DocDOCX    DocumentType = "docx"
	DocPPTX    DocumentType = "pptx"
	DocHTML    DocumentType = "html"
	DocXML     DocumentType = "xml"
	DocExcel   DocumentType = "excel"
	DocCSV     DocumentType = "csv"
	DocParquet DocumentType = "parquet"
)

// validDocumentTypes is the full set of supported document_type values.
var validDocumentTypes = map[DocumentType]bool{
	DocPDF: true, DocDOCX: true, DocPPTX: true, DocHTML: true,
	DocXML: true, DocExcel: true, DocCSV: true, DocParquet: true,
}

// defaultExtractMethod picks a method when one isn't specified, keyed by
// document_type — mirrors original_source's _DEFAULT_EXTRACTOR_MAP.
var defaultExtractMethod = map[DocumentType]string{
	DocPDF:     "pymupdf",
	DocDOCX:    "python_docx",
	DocPPTX:    "python_pptx",
	DocHTML:    "beautifulsoup",
	DocXML:     "lxml",
	DocExcel:   "openpyxl",
	DocCSV:     "pandas",
	DocParquet: "pandas",
}

// extractMethodAllowList is the per-document_type method allow-list.
var extractMethodAllowList = map[DocumentType]map[string]bool{
	DocPDF: set("pymupdf", "eclair", "haystack", "tika", "unstructured_local", "unstructured_service", "llama_parse"),
	DocDOCX: set("python_docx", "haystack", "unstructured_local", "unstructured_service"),
	DocPPTX: set("python_pptx", "haystack", "unstructured_local", "unstructured_service"),
	DocHTML: set("beautifulsoup", "haystack", "unstructured_local", "unstructured_service"),
	DocXML:  set("lxml", "unstructured_local", "unstructured_service"),
	DocExcel: set("openpyxl", "pandas", "unstructured_local"),
	DocCSV:   set("pandas", "unstructured_local"),
	DocParquet: set("pandas", "unstructured_local"),
}

func set(vals ...string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

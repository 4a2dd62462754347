package jobspec

// VdbUploadOptions are the caller-supplied properties for a vdb_upload task.
type VdbUploadOptions struct {
	FilterErrors bool
}

// VdbUploadTask uploads embedded chunks to the vector database. It carries
// no required properties — grounded in original_source's VdbUploadTask,
// whose only field (filter_errors) defaults to false.
type VdbUploadTask struct {
	filterErrors bool
}

// VdbUpload returns a VdbUploadTask. It never fails validation.
func (f *TaskFactory) VdbUpload(opts VdbUploadOptions) (Task, error) {
	return &VdbUploadTask{filterErrors: opts.FilterErrors}, nil
}

func (t *VdbUploadTask) Kind() TaskKind { return KindVdbUpload }

func (t *VdbUploadTask) Properties() map[string]any {
	return map[string]any{"filter_errors": t.filterErrors}
}

package ingestapi

import (
	"errors"
	"testing"

	"github.com/WessleyAI/ingest-dispatch/internal/jobspec"
)

func TestFetchJobNotReady(t *testing.T) {
	svc := &service{results: make(map[string]*jobspec.Result)}
	_, err := svc.FetchJob("unknown-job")
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestFetchJobReturnsCachedResult(t *testing.T) {
	svc := &service{results: make(map[string]*jobspec.Result)}
	want := &jobspec.Result{JobID: "job-1", Status: jobspec.StatusOK}
	svc.results["job-1"] = want

	got, err := svc.FetchJob("job-1")
	if err != nil {
		t.Fatalf("FetchJob: %v", err)
	}
	if got.JobID != want.JobID {
		t.Errorf("unexpected result: %+v", got)
	}
}

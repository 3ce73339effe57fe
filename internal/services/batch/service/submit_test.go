package service

import (
	"context"
	"errors"
	"testing"
	"time"

	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/services/batch/domain"
)

var staged = domain.StagedInput{URI: "gs://proj-anki-batch-processing/batch_inputs/batch_input_x.jsonl", Count: 2}

func TestSubmitJob_Sync(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SyncCreate = true })
	job, err := f.svc.SubmitJob(context.Background(), staged, refs("a.png"), "20261017_120000")
	if err != nil {
		t.Fatal(err)
	}
	if job.ID != "projects/p/locations/l/batchPredictionJobs/123" || job.Status != domain.StatusSubmitted {
		t.Fatalf("job = %+v", job)
	}
	if len(f.clock.slept) != 0 {
		t.Fatalf("sync create must not wait: %v", f.clock.slept)
	}
	spec := f.jobs.specs[0]
	if spec.DisplayName != "anki-batch-job-20261017_120000" ||
		spec.OutputPrefix != "gs://proj-anki-batch-processing/batch_outputs/20261017_120000/" ||
		spec.InputURI != staged.URI || spec.Model != "gemini-2.5-pro" {
		t.Fatalf("spec = %+v", spec)
	}
	if job.OutputPrefix != spec.OutputPrefix {
		t.Fatalf("job prefix = %s", job.OutputPrefix)
	}
}

func TestSubmitJob_SyncUnreadable(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SyncCreate = true })
	f.jobs.handle = &fakeHandle{}
	_, err := f.svc.SubmitJob(context.Background(), staged, nil, "ts")
	if !perr.IsCode(err, perr.ErrorCodeSubmission) {
		t.Fatalf("err = %v", err)
	}
}

func TestSubmitJob_AsyncResolvesAfterRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.jobs.handle = &fakeHandle{readyAfter: 3}
	job, err := f.svc.SubmitJob(context.Background(), staged, nil, "ts")
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == "" {
		t.Fatalf("empty id")
	}
	want := []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}
	if len(f.clock.slept) != len(want) {
		t.Fatalf("slept = %v, want settle + 2 backoffs", f.clock.slept)
	}
	for i := range want {
		if f.clock.slept[i] != want[i] {
			t.Fatalf("slept = %v", f.clock.slept)
		}
	}
}

func TestSubmitJob_AsyncFallsBackToResourceName(t *testing.T) {
	f := newFixture(t, nil)
	f.jobs.handle = &fakeHandle{resource: "projects/p/locations/l/batchPredictionJobs/777"}
	job, err := f.svc.SubmitJob(context.Background(), staged, nil, "ts")
	if err != nil {
		t.Fatal(err)
	}
	if job.ID != "projects/p/locations/l/batchPredictionJobs/777" {
		t.Fatalf("id = %s", job.ID)
	}
	if f.jobs.handle.calls != 5 {
		t.Fatalf("Name calls = %d, want 5", f.jobs.handle.calls)
	}
	if len(f.clock.slept) != 5 {
		t.Fatalf("slept = %v, want settle + 4 backoffs", f.clock.slept)
	}
}

func TestSubmitJob_CreateFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.jobs.handle = &fakeHandle{}
	_, err := f.svc.SubmitJob(context.Background(), staged, nil, "ts")
	if !perr.IsCode(err, perr.ErrorCodeSubmission) {
		t.Fatalf("err = %v, want submission", err)
	}

	f2 := newFixture(t, nil)
	boom := errors.New("quota exceeded")
	f2.jobs.createErr = boom
	_, err = f2.svc.SubmitJob(context.Background(), staged, nil, "ts")
	if !perr.IsCode(err, perr.ErrorCodeSubmission) || !errors.Is(err, boom) {
		t.Fatalf("create err = %v", err)
	}
}

package domain

import (
	"context"
	"io"
)

// ObjectStore is the blob store boundary; URIs are gs://bucket/key
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket, location string) error
	Put(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error)
	PutFile(ctx context.Context, bucket, key, path, contentType string) (string, error)
	Get(ctx context.Context, uri string) ([]byte, error)
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
}

// JobHandle resolves the identifier of a job whose creation was accepted
type JobHandle interface {
	// Name reads the primary identifier; may fail while the job is not yet addressable
	Name(ctx context.Context) (string, error)
	// ResourceName reads the alternate identifier used after Name keeps failing
	ResourceName(ctx context.Context) (string, error)
}

// JobAPI is the asynchronous inference service
type JobAPI interface {
	Create(ctx context.Context, spec JobSpec) (JobHandle, error)
	Get(ctx context.Context, jobID string) (JobInfo, error)
}

// StatusReader is the secondary, out-of-band status path
type StatusReader interface {
	Describe(ctx context.Context, jobID string) (JobInfo, error)
}

// Registry is the durable list of in-flight jobs.
// The ListPending -> Replace cycle must run inside WithLock
type Registry interface {
	Append(ctx context.Context, job Job) error
	ListPending(ctx context.Context) ([]Job, error)
	Replace(ctx context.Context, jobs []Job) error
	WithLock(ctx context.Context, fn func(ctx context.Context) error) error
}

// Assembler turns cards into a deck and returns its location
type Assembler interface {
	Assemble(ctx context.Context, name string, cards []Card) (string, error)
}

// RunnerPort is what the CLI drives
type RunnerPort interface {
	Submit(ctx context.Context, images []ImageRef) (Submission, error)
	Resume(ctx context.Context) (ResumeReport, error)
	Recover(ctx context.Context, outputURI string, images []ImageRef) (Report, error)
}

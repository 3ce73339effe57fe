// Package repo persists the in-flight batch job registry
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	perr "cardbatch/internal/platform/errors"
	"cardbatch/internal/platform/logger"
	"cardbatch/internal/services/batch/domain"

	"github.com/gofrs/flock"
)

// record is the persisted shape; legacy snake_case keys are read but never written
type record struct {
	JobID               string   `json:"jobId"`
	SubmissionTimestamp string   `json:"submissionTimestamp"`
	ImageFilePaths      []string `json:"imageFilePaths"`
	Status              string   `json:"status"`
	OutputPrefix        string   `json:"outputPrefix,omitempty"`

	LegacyJobID     string   `json:"job_id,omitempty"`
	LegacyTimestamp string   `json:"timestamp,omitempty"`
	LegacyImages    []string `json:"image_files,omitempty"`
}

var legacyTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"}

func (r record) job() domain.Job {
	id := firstNonEmpty(r.JobID, r.LegacyJobID)
	ts := firstNonEmpty(r.SubmissionTimestamp, r.LegacyTimestamp)
	paths := r.ImageFilePaths
	if len(paths) == 0 {
		paths = r.LegacyImages
	}
	var at time.Time
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, ts, time.Local); err == nil {
			at = t
			break
		}
	}
	imgs := make([]domain.ImageRef, 0, len(paths))
	for _, p := range paths {
		imgs = append(imgs, domain.NewImageRef(p))
	}
	return domain.Job{
		ID:           id,
		SubmittedAt:  at,
		OutputPrefix: r.OutputPrefix,
		Images:       imgs,
		Status:       domain.NormalizeStatus(r.Status),
	}
}

func toRecord(j domain.Job) record {
	paths := make([]string, 0, len(j.Images))
	for _, im := range j.Images {
		paths = append(paths, im.Path)
	}
	st := j.Status
	if st == "" {
		st = domain.StatusSubmitted
	}
	return record{
		JobID:               j.ID,
		SubmissionTimestamp: j.SubmittedAt.Format(time.RFC3339),
		ImageFilePaths:      paths,
		Status:              string(st),
		OutputPrefix:        j.OutputPrefix,
	}
}

func firstNonEmpty(xs ...string) string {
	for _, x := range xs {
		if strings.TrimSpace(x) != "" {
			return x
		}
	}
	return ""
}

// File is a JSON document registry. Writes go through a temp file and rename
type File struct {
	path string
	log  logger.Logger

	mu sync.Mutex
}

var _ domain.Registry = (*File)(nil)

// NewFile builds a file registry at path
func NewFile(path string) *File {
	return &File{path: path, log: *logger.Named("registry")}
}

// Path returns the document location
func (f *File) Path() string { return f.path }

// Append adds one job, creating the document when absent
func (f *File) Append(_ context.Context, job domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs, err := f.read()
	if err != nil {
		return err
	}
	recs = append(recs, toRecord(job))
	if err := f.write(recs); err != nil {
		return err
	}
	f.log.Info().Str("job_id", job.ID).Int("images", len(job.Images)).Int("pending", len(recs)).Msg("job registered")
	return nil
}

// ListPending returns every persisted job in insertion order
func (f *File) ListPending(_ context.Context) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs, err := f.read()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Job, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.job())
	}
	return out, nil
}

// Replace overwrites the document with jobs; an empty list writes []
func (f *File) Replace(_ context.Context, jobs []domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := make([]record, 0, len(jobs))
	for _, j := range jobs {
		recs = append(recs, toRecord(j))
	}
	return f.write(recs)
}

// WithLock runs fn while holding an advisory lock on <path>.lock.
// The OS drops the lock when its holder exits; a lock held by another pass yields ErrorCodeBusy.
// The lock file itself is left in place
func (f *File) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	lock := f.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lock), 0o755); err != nil {
		return perr.Wrap(err, perr.ErrorCodeStorage, "create registry dir")
	}
	fl := flock.New(lock)
	ok, err := fl.TryLock()
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeStorage, "lock registry")
	}
	if !ok {
		return perr.WithField(perr.Busyf("registry %s is locked by another pass", f.path), lock)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			f.log.Error().Err(err).Str("lock", lock).Msg("release registry lock failed")
		}
	}()
	return fn(ctx)
}

func (f *File) read() ([]record, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []record{}, nil
	}
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "read registry %s", f.path)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return []record{}, nil
	}
	var recs []record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "registry %s is not a valid job list", f.path)
	}
	if recs == nil {
		recs = []record{}
	}
	return recs, nil
}

func (f *File) write(recs []record) error {
	if recs == nil {
		recs = []record{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode registry")
	}
	b = append(b, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return perr.Wrap(err, perr.ErrorCodeStorage, "create registry dir")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeStorage, "create registry temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return perr.Wrap(err, perr.ErrorCodeStorage, "write registry")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return perr.Wrap(err, perr.ErrorCodeStorage, "sync registry")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return perr.Wrap(err, perr.ErrorCodeStorage, "close registry")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return perr.Wrap(err, perr.ErrorCodeStorage, "replace registry")
	}
	return nil
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"cardbatch/internal/adapters/objectstore"
	"cardbatch/internal/services/batch/domain"
	"cardbatch/internal/services/batch/repo"
)

// memStore is an in-memory domain.ObjectStore
type memStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	failPut map[string]bool // by base filename
	ensured int
	listErr error
}

func newMemStore() *memStore {
	return &memStore{blobs: map[string][]byte{}, failPut: map[string]bool{}}
}

func (m *memStore) EnsureBucket(context.Context, string, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured++
	return nil
}

func (m *memStore) Put(_ context.Context, bucket, key, _ string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	uri := objectstore.URI(bucket, key)
	m.blobs[uri] = b
	return uri, nil
}

func (m *memStore) PutFile(ctx context.Context, bucket, key, path, ct string) (string, error) {
	m.mu.Lock()
	fail := m.failPut[filepath.Base(path)]
	m.mu.Unlock()
	if fail {
		return "", errors.New("upload refused")
	}
	return m.Put(ctx, bucket, key, ct, strings.NewReader("img:"+path))
}

func (m *memStore) Get(_ context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[uri]
	if !ok {
		return nil, fmt.Errorf("no blob %s", uri)
	}
	return b, nil
}

func (m *memStore) List(_ context.Context, bucket, prefix string) ([]domain.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Object
	for uri, b := range m.blobs {
		bk, key, _ := objectstore.ParseURI(uri)
		if bk == bucket && strings.HasPrefix(key, prefix) {
			out = append(out, domain.Object{Bucket: bk, Name: key, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for uri := range m.blobs {
		if strings.Contains(uri, prefix) {
			out = append(out, uri)
		}
	}
	sort.Strings(out)
	return out
}

// writeResults stores record lines as one output file under prefix
func (m *memStore) writeResults(t *testing.T, prefixURI, file string, lines ...any) {
	t.Helper()
	var buf bytes.Buffer
	for _, l := range lines {
		switch v := l.(type) {
		case string:
			buf.WriteString(v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				t.Fatal(err)
			}
			buf.Write(b)
		}
		buf.WriteByte('\n')
	}
	bucket, key, err := objectstore.ParseURI(prefixURI)
	if err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	m.blobs[objectstore.URI(bucket, key+file)] = buf.Bytes()
	m.mu.Unlock()
}

// okLine is a successful output line
func okLine(customID, text string) map[string]any {
	return map[string]any{
		"customId": customID,
		"status":   "",
		"response": map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
			}},
		},
	}
}

// fakeHandle scripts identifier resolution
type fakeHandle struct {
	readyAfter int // Name succeeds on this call number; 0 = never
	resource   string
	calls      int
}

func (h *fakeHandle) Name(context.Context) (string, error) {
	h.calls++
	if h.readyAfter > 0 && h.calls >= h.readyAfter {
		return "projects/p/locations/l/batchPredictionJobs/123", nil
	}
	return "", errors.New("job not found")
}

func (h *fakeHandle) ResourceName(context.Context) (string, error) {
	if h.resource == "" {
		return "", errors.New("no job with that display name")
	}
	return h.resource, nil
}

// fakeJobs is a scripted domain.JobAPI
type fakeJobs struct {
	mu        sync.Mutex
	handle    *fakeHandle
	createErr error
	specs     []domain.JobSpec
	states    map[string][]domain.JobInfo // consumed per Get; last repeats
	getErr    error
	gets      int
}

func (f *fakeJobs) Create(_ context.Context, spec domain.JobSpec) (domain.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.handle == nil {
		f.handle = &fakeHandle{readyAfter: 1}
	}
	return f.handle, nil
}

func (f *fakeJobs) Get(_ context.Context, jobID string) (domain.JobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return domain.JobInfo{}, f.getErr
	}
	seq := f.states[jobID]
	if len(seq) == 0 {
		return domain.JobInfo{}, errors.New("unknown job")
	}
	info := seq[0]
	if len(seq) > 1 {
		f.states[jobID] = seq[1:]
	}
	info.Name = jobID
	return info, nil
}

type fakeStatus struct {
	info  domain.JobInfo
	err   error
	calls int
}

func (f *fakeStatus) Describe(context.Context, string) (domain.JobInfo, error) {
	f.calls++
	return f.info, f.err
}

type fakeDeck struct {
	cards []domain.Card
	err   error
	calls int
}

func (d *fakeDeck) Assemble(_ context.Context, name string, cards []domain.Card) (string, error) {
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	d.cards = append(d.cards, cards...)
	return "/out/" + name, nil
}

// fakeClock drives now and sleep deterministically
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
	onNow time.Duration // added on every now() call
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.onNow)
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return nil
}

// flakyRegistry fails selected writes of a file registry
type flakyRegistry struct {
	*repo.File
	appendErr  error
	replaceErr error
	failAt     int // fail only this Replace call; 0 = every call
	replaces   int
}

func (r *flakyRegistry) Append(ctx context.Context, job domain.Job) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	return r.File.Append(ctx, job)
}

func (r *flakyRegistry) Replace(ctx context.Context, jobs []domain.Job) error {
	r.replaces++
	if r.replaceErr != nil && (r.failAt == 0 || r.failAt == r.replaces) {
		return r.replaceErr
	}
	return r.File.Replace(ctx, jobs)
}

type fixture struct {
	svc   *Service
	store *memStore
	jobs  *fakeJobs
	stat  *fakeStatus
	deck  *fakeDeck
	reg   *repo.File
	clock *fakeClock
}

func newFixture(t *testing.T, mut func(*Config)) *fixture {
	t.Helper()
	cfg := Config{
		Bucket:        "proj-anki-batch-processing",
		Location:      "asia-northeast1",
		Model:         "gemini-2.5-pro",
		UploadWorkers: 3,
	}
	if mut != nil {
		mut(&cfg)
	}
	f := &fixture{
		store: newMemStore(),
		jobs:  &fakeJobs{states: map[string][]domain.JobInfo{}},
		stat:  &fakeStatus{},
		deck:  &fakeDeck{},
		reg:   repo.NewFile(filepath.Join(t.TempDir(), "batch_jobs.json")),
		clock: &fakeClock{t: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)},
	}
	f.svc = New(f.store, f.jobs, f.stat, f.reg, f.deck, domain.Capabilities{Batch: true}, cfg)
	f.svc.now = f.clock.now
	f.svc.sleep = f.clock.sleep
	n := 0
	var mu sync.Mutex
	f.svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id%d", n)
	}
	return f
}

func refs(names ...string) []domain.ImageRef {
	out := make([]domain.ImageRef, 0, len(names))
	for _, n := range names {
		out = append(out, domain.NewImageRef("/img/"+n))
	}
	return out
}

func filenames(pairs []domain.MatchedPair) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Image.Filename)
	}
	return out
}

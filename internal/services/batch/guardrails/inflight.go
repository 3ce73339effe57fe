package guardrails

import "sync"

// Inflight tracks job ids with an active wait so two pollers never run for the same job
// within one process. Cross process exclusion is the registry lock's job
type Inflight struct {
	mu   sync.Mutex
	jobs map[string]struct{}
}

// NewInflight returns an empty tracker
func NewInflight() *Inflight { return &Inflight{jobs: map[string]struct{}{}} }

// Acquire claims jobID. ok=false means it is already claimed; release is nil then
func (f *Inflight) Acquire(jobID string) (release func(), ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.jobs[jobID]; held {
		return nil, false
	}
	f.jobs[jobID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.jobs, jobID)
			f.mu.Unlock()
		})
	}, true
}

// Held reports whether jobID is currently claimed
func (f *Inflight) Held(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[jobID]
	return ok
}

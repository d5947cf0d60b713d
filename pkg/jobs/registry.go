package jobs

import (
	"sync"
	"time"
)

// Status enumerates tracked job states.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusRetrying  Status = "RETRYING"
	StatusFinished  Status = "FINISHED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Record is a point-in-time view of a tracked job.
type Record struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Status    Status      `json:"status"`
	Attempts  int         `json:"attempts"`
	Done      int         `json:"done"`
	Total     int         `json:"total"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type entry struct {
	Record
	cancelRequested bool
}

// Registry tracks job progress and cooperative cancellation across queues.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry), now: func() time.Time { return time.Now().UTC() }}
}

// Track registers a job as queued. Existing records are left untouched.
func (r *Registry) Track(id, jobType string) {
	if r == nil || id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return
	}
	now := r.now()
	r.entries[id] = &entry{Record: Record{ID: id, Type: jobType, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}}
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	if r == nil {
		return Record{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Record{}, false
	}
	return e.Record, true
}

// Cancel flags a job for cancellation. Running handlers observe it through
// Cancelled between iterations. Returns false when the job is unknown or done.
func (r *Registry) Cancel(id string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	switch e.Status {
	case StatusFinished, StatusFailed, StatusCancelled:
		return false
	}
	e.cancelRequested = true
	e.UpdatedAt = r.now()
	return true
}

// Cancelled reports whether cancellation was requested for id.
func (r *Registry) Cancelled(id string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.cancelRequested
}

// Progress records how many items of a batch have been processed.
func (r *Registry) Progress(id string, done, total int) {
	r.update(id, func(e *entry) {
		e.Done = done
		e.Total = total
	})
}

// SetResult attaches the handler output to the record.
func (r *Registry) SetResult(id string, result interface{}) {
	r.update(id, func(e *entry) {
		e.Result = result
	})
}

// Prune drops finished, failed and cancelled records older than maxAge.
func (r *Registry) Prune(maxAge time.Duration) int {
	if r == nil {
		return 0
	}
	cutoff := r.now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.entries {
		switch e.Status {
		case StatusFinished, StatusFailed, StatusCancelled:
			if e.UpdatedAt.Before(cutoff) {
				delete(r.entries, id)
				removed++
			}
		}
	}
	return removed
}

func (r *Registry) markRunning(id string, attempt int) {
	r.update(id, func(e *entry) {
		e.Status = StatusRunning
		e.Attempts = attempt
	})
}

func (r *Registry) markRetrying(id string, err error) {
	r.update(id, func(e *entry) {
		e.Status = StatusRetrying
		e.Error = err.Error()
	})
}

func (r *Registry) markFinished(id string) {
	r.update(id, func(e *entry) {
		if e.cancelRequested {
			e.Status = StatusCancelled
		} else {
			e.Status = StatusFinished
		}
		e.Error = ""
	})
}

func (r *Registry) markFailed(id string, err error) {
	r.update(id, func(e *entry) {
		e.Status = StatusFailed
		e.Error = err.Error()
	})
}

func (r *Registry) markCancelled(id string) {
	r.update(id, func(e *entry) {
		e.Status = StatusCancelled
	})
}

func (r *Registry) update(id string, fn func(e *entry)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	fn(e)
	e.UpdatedAt = r.now()
}

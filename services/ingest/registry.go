package ingest

import (
	"sort"
	"sync"
	"time"

	"github.com/gf2influx/gf2influx/models"
)

// TaskHandle describes one running pipeline.
type TaskHandle struct {
	BatchID uint64
	Lines   int
	Started time.Time
}

// Registry tracks the running pipelines.
type Registry struct {
	mu      sync.Mutex
	running map[uint64]TaskHandle
}

func NewRegistry() *Registry {
	return &Registry{running: make(map[uint64]TaskHandle)}
}

func (r *Registry) Start(b models.Batch, now time.Time) TaskHandle {
	h := TaskHandle{BatchID: b.ID, Lines: b.Len(), Started: now}
	r.mu.Lock()
	r.running[h.BatchID] = h
	r.mu.Unlock()
	return h
}

func (r *Registry) Finish(h TaskHandle) {
	r.mu.Lock()
	delete(r.running, h.BatchID)
	r.mu.Unlock()
}

// Running returns the running pipelines ordered by batch id.
func (r *Registry) Running() []TaskHandle {
	r.mu.Lock()
	handles := make([]TaskHandle, 0, len(r.running))
	for _, h := range r.running {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i].BatchID < handles[j].BatchID })
	return handles
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

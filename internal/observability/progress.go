package observability

import (
	"sort"
	"sync"
)

// WorkerProgress is the live state of one worker as served on /progress.
type WorkerProgress struct {
	Thread     int    `json:"thread"`
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	Iterations int    `json:"iterations"`
	Records    int    `json:"records"`
	Failures   int    `json:"failures"`
	Retries    int    `json:"retries"`
	Error      string `json:"error,omitempty"`
}

// Progress tracks every worker of the current run.
type Progress struct {
	mu      sync.RWMutex
	workers map[int]*WorkerProgress
}

// NewProgress returns an empty table.
func NewProgress() *Progress {
	return &Progress{workers: make(map[int]*WorkerProgress)}
}

// Snapshot returns a copy of the table ordered by thread.
func (p *Progress) Snapshot() []WorkerProgress {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]WorkerProgress, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Thread < out[j].Thread })
	return out
}

func (p *Progress) start(thread int, runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[thread] = &WorkerProgress{Thread: thread, RunID: runID, State: "running"}
}

func (p *Progress) iteration(thread int, stats IterationStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[thread]
	if !ok {
		w = &WorkerProgress{Thread: thread, State: "running"}
		p.workers[thread] = w
	}
	w.Iterations++
	w.Records += stats.Records
	w.Failures += stats.Failures
	w.Retries += stats.Retries
}

func (p *Progress) finish(thread int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[thread]
	if !ok {
		w = &WorkerProgress{Thread: thread}
		p.workers[thread] = w
	}
	w.State = "done"
	if err != nil {
		w.State = "failed"
		w.Error = err.Error()
	}
}

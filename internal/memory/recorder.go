package memory

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the writer's health.
type Snapshot struct {
	QueueSize   int           `json:"queue_size"`
	Processed   int64         `json:"processed"`
	Dropped     int64         `json:"dropped"`
	AvgLatency  time.Duration `json:"avg_latency"`
	LastLatency time.Duration `json:"last_latency"`
	Breaches    int64         `json:"breaches"`
}

// Recorder accumulates writer statistics for the admin status endpoint.
// Prometheus covers dashboards; this answers "what is the writer doing
// right now" without scraping. All methods are nil-safe.
type Recorder struct {
	mu           sync.Mutex
	queueSize    int
	processed    int64
	dropped      int64
	totalLatency time.Duration
	lastLatency  time.Duration
	breaches     int64
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Observe records one completed job.
func (r *Recorder) Observe(d time.Duration, breached bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed++
	r.totalLatency += d
	r.lastLatency = d
	if breached {
		r.breaches++
	}
}

// ObserveDrop records a job rejected because the queue was full.
func (r *Recorder) ObserveDrop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

// SetQueueSize records the current queue depth.
func (r *Recorder) SetQueueSize(n int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueSize = n
}

// Snapshot returns the current counters.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		QueueSize:   r.queueSize,
		Processed:   r.processed,
		Dropped:     r.dropped,
		LastLatency: r.lastLatency,
		Breaches:    r.breaches,
	}
	if r.processed > 0 {
		snap.AvgLatency = r.totalLatency / time.Duration(r.processed)
	}
	return snap
}

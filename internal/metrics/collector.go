// Package metrics provides in-memory runtime statistics for the back-end chain.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// BackendMetrics holds aggregated attempts for one back end.
type BackendMetrics struct {
	Attempts  int64
	Successes int64
	Failures  map[string]int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// BackendSnapshot provides computed stats from raw metrics.
type BackendSnapshot struct {
	Name        string           `json:"name"`
	Attempts    int64            `json:"attempts"`
	Successes   int64            `json:"successes"`
	Failures    map[string]int64 `json:"failures"`
	TotalTimeMs int64            `json:"total_time_ms"`
	AvgTimeMs   float64          `json:"avg_time_ms"`
	MinTimeMs   int64            `json:"min_time_ms"`
	MaxTimeMs   int64            `json:"max_time_ms"`
}

// Snapshot represents the full statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64           `json:"uptime_seconds"`
	Exhausted     int64             `json:"exhausted"`
	Backends      []BackendSnapshot `json:"backends"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	backends  map[string]*BackendMetrics
	exhausted int64
}

func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		backends:  make(map[string]*BackendMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for a back end.
// Caller must hold write lock.
func (c *Collector) getOrCreate(name string) *BackendMetrics {
	m, ok := c.backends[name]
	if !ok {
		m = &BackendMetrics{
			Failures: make(map[string]int64),
			MinTime:  time.Duration(math.MaxInt64),
		}
		c.backends[name] = m
	}
	return m
}

// RecordAttempt records one attempt against a back end. An empty class
// counts as a success; anything else is tallied under that failure class.
func (c *Collector) RecordAttempt(backend string, duration time.Duration, class string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(backend)
	m.Attempts++
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	if class == "" {
		m.Successes++
		return
	}
	m.Failures[class]++
}

// RecordExhausted counts a turn answered with the fallback text.
func (c *Collector) RecordExhausted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exhausted++
}

func snapshotBackend(name string, m *BackendMetrics) BackendSnapshot {
	failures := make(map[string]int64, len(m.Failures))
	for class, n := range m.Failures {
		failures[class] = n
	}
	snap := BackendSnapshot{
		Name:        name,
		Attempts:    m.Attempts,
		Successes:   m.Successes,
		Failures:    failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
	if m.Attempts > 0 {
		snap.AvgTimeMs = float64(m.TotalTime.Milliseconds()) / float64(m.Attempts)
		snap.MinTimeMs = m.MinTime.Milliseconds()
	}
	return snap
}

// Snapshot returns a point-in-time snapshot, back ends sorted by name.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	backends := make([]BackendSnapshot, 0, len(c.backends))
	for name, m := range c.backends {
		backends = append(backends, snapshotBackend(name, m))
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i].Name < backends[j].Name })

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Exhausted:     c.exhausted,
		Backends:      backends,
	}
}

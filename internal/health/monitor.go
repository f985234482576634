package health

import (
	"sync"
	"time"
)

// Metrics holds the running health counters for a single agent.
type Metrics struct {
	TotalRequests       int64         `json:"total_requests"`
	SuccessfulRequests  int64         `json:"successful_requests"`
	FailedRequests      int64         `json:"failed_requests"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	LastError           string        `json:"last_error,omitempty"`
	LastCheck           time.Time     `json:"last_check"`
}

// SuccessRate returns the fraction of successful requests, in [0, 1].
// A monitor that has seen no requests reports 0.
func (m Metrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

// Monitor accumulates per-agent health metrics. It keeps a running average
// of response times: avg' = (avg*(n-1) + sample) / n.
type Monitor struct {
	mu      sync.Mutex
	metrics Metrics
}

// NewMonitor creates a monitor with zeroed counters.
func NewMonitor() *Monitor {
	return &Monitor{
		metrics: Metrics{LastCheck: time.Now().UTC()},
	}
}

// RecordRequest records the outcome of one provider call.
func (m *Monitor) RecordRequest(success bool, elapsed time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.TotalRequests++
	if success {
		m.metrics.SuccessfulRequests++
	} else {
		m.metrics.FailedRequests++
		if err != nil {
			m.metrics.LastError = err.Error()
		}
	}

	n := m.metrics.TotalRequests
	prev := m.metrics.AverageResponseTime
	m.metrics.AverageResponseTime = time.Duration((int64(prev)*(n-1) + int64(elapsed)) / n)
	m.metrics.LastCheck = time.Now().UTC()
}

// Snapshot returns a copy of the current metrics.
func (m *Monitor) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Reset zeroes all counters.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = Metrics{LastCheck: time.Now().UTC()}
}

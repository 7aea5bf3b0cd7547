package jobs

import (
	"sync"
	"time"
)

// Metrics tracks job processing statistics per job type
type Metrics struct {
	mu    sync.RWMutex
	stats map[string]*JobStats
}

// JobStats holds statistics for a specific job type
type JobStats struct {
	JobType       string        `json:"job_type"`
	Processed     int64         `json:"processed"`
	Succeeded     int64         `json:"succeeded"`
	Failed        int64         `json:"failed"`
	Retried       int64         `json:"retried"`
	Rescheduled   int64         `json:"rescheduled"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
}

// AvgDuration is the mean handler duration over processed jobs
func (s JobStats) AvgDuration() time.Duration {
	if s.Processed == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Processed)
}

// SuccessRate returns the success rate as a percentage
func (s JobStats) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Processed) * 100
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{stats: make(map[string]*JobStats)}
}

func (m *Metrics) entry(jobType string) *JobStats {
	s, ok := m.stats[jobType]
	if !ok {
		s = &JobStats{JobType: jobType}
		m.stats[jobType] = s
	}
	return s
}

func (s *JobStats) observe(d time.Duration) {
	s.Processed++
	s.TotalDuration += d
	if s.MinDuration == 0 || d < s.MinDuration {
		s.MinDuration = d
	}
	if d > s.MaxDuration {
		s.MaxDuration = d
	}
}

// RecordSuccess records a successful job execution
func (m *Metrics) RecordSuccess(jobType string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.entry(jobType)
	s.Succeeded++
	s.observe(d)
}

// RecordFailure records a job that failed for good
func (m *Metrics) RecordFailure(jobType string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.entry(jobType)
	s.Failed++
	s.observe(d)
}

// RecordRetry records a failed attempt that will be retried
func (m *Metrics) RecordRetry(jobType string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.entry(jobType)
	s.Retried++
	s.observe(d)
}

// RecordRescheduled records a job deferred without consuming an attempt
func (m *Metrics) RecordRescheduled(jobType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(jobType).Rescheduled++
}

// Get returns statistics for a job type
func (m *Metrics) Get(jobType string) JobStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.stats[jobType]; ok {
		return *s
	}
	return JobStats{JobType: jobType}
}

// All returns statistics for all job types
func (m *Metrics) All() map[string]JobStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]JobStats, len(m.stats))
	for k, s := range m.stats {
		out[k] = *s
	}
	return out
}

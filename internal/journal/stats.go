package journal

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Summary is a snapshot of a run's journal statistics.
type Summary struct {
	Counts map[Outcome]int64
	Total  int64

	// Apply latency quantiles of applied changes. Zero when nothing was
	// applied.
	P50 time.Duration
	P90 time.Duration
	P99 time.Duration
	Max time.Duration
}

// Stats maintains outcome counts and apply-latency quantiles.
type Stats struct {
	mu     sync.Mutex
	counts map[Outcome]int64
	total  int64
	max    time.Duration

	// DDSketch of applied durations in microseconds (nil if unavailable)
	sketch *ddsketch.DDSketch
}

// NewStats creates statistics with the given relative quantile accuracy.
func NewStats(accuracy float64) *Stats {
	s := &Stats{counts: make(map[Outcome]int64)}
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = 0.01
	}
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		s.sketch = sketch
	}
	return s
}

// Add records one entry.
func (s *Stats) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[e.Outcome]++
	s.total++

	if e.Outcome != OutcomeApplied {
		return
	}
	if e.Duration > s.max {
		s.max = e.Duration
	}
	if s.sketch != nil {
		_ = s.sketch.Add(float64(e.Duration.Microseconds()))
	}
}

// Count returns how many entries had outcome.
func (s *Stats) Count(outcome Outcome) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[outcome]
}

// Summary returns the current statistics.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{
		Counts: make(map[Outcome]int64, len(s.counts)),
		Total:  s.total,
		Max:    s.max,
	}
	for k, v := range s.counts {
		out.Counts[k] = v
	}

	if s.sketch != nil && s.counts[OutcomeApplied] > 0 {
		p50, _ := s.sketch.GetValueAtQuantile(0.50)
		p90, _ := s.sketch.GetValueAtQuantile(0.90)
		p99, _ := s.sketch.GetValueAtQuantile(0.99)
		out.P50 = micros(p50)
		out.P90 = micros(p90)
		out.P99 = micros(p99)
	}
	return out
}

func micros(v float64) time.Duration {
	return time.Duration(v * float64(time.Microsecond))
}

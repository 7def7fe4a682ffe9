// Package observability tracks per-tag event frequency and anchoring latency
// for capacity planning and batch-size tuning.
package observability

import (
	"sort"
	"sync"
	"time"
)

// PipelineStats tracks event frequency per tag and anchoring latencies.
type PipelineStats struct {
	mu      sync.RWMutex
	tagFreq map[string]*TagStats
	window  time.Duration

	anchorAttempts  int64
	anchorFailures  int64
	anchorLatencies []time.Duration
}

// TagStats holds event statistics for one tag.
type TagStats struct {
	TagName   string
	Frequency int64
	LastSeen  time.Time
	ByType    map[string]int // event type -> count
}

// maxLatencySamples bounds the latency ring so long-running processes don't
// grow without limit.
const maxLatencySamples = 1024

// NewPipelineStats creates a tracker.
// window: time duration for pruning idle tags (e.g., 1 hour)
func NewPipelineStats(window time.Duration) *PipelineStats {
	return &PipelineStats{
		tagFreq: make(map[string]*TagStats),
		window:  window,
	}
}

// RecordEvent records one emitted event against its tag.
// This method is O(1) and thread-safe.
func (p *PipelineStats) RecordEvent(tagName, eventType string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats, exists := p.tagFreq[tagName]
	if !exists {
		stats = &TagStats{
			TagName: tagName,
			ByType:  make(map[string]int),
		}
		p.tagFreq[tagName] = stats
	}

	stats.Frequency++
	stats.LastSeen = time.Now()
	stats.ByType[eventType]++
}

// RecordAnchor records the outcome and latency of one ledger submission.
func (p *PipelineStats) RecordAnchor(latency time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.anchorAttempts++
	if !ok {
		p.anchorFailures++
		return
	}
	if len(p.anchorLatencies) >= maxLatencySamples {
		p.anchorLatencies = p.anchorLatencies[1:]
	}
	p.anchorLatencies = append(p.anchorLatencies, latency)
}

// AnchorSummary summarizes submission outcomes.
type AnchorSummary struct {
	Attempts   int64         `json:"attempts"`
	Failures   int64         `json:"failures"`
	LatencyP50 time.Duration `json:"latency_p50"`
	LatencyP99 time.Duration `json:"latency_p99"`
}

// Anchors returns a summary of recorded submissions.
func (p *PipelineStats) Anchors() AnchorSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := AnchorSummary{
		Attempts: p.anchorAttempts,
		Failures: p.anchorFailures,
	}
	if len(p.anchorLatencies) == 0 {
		return s
	}

	sorted := make([]time.Duration, len(p.anchorLatencies))
	copy(sorted, p.anchorLatencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s.LatencyP50 = sorted[len(sorted)/2]
	s.LatencyP99 = sorted[len(sorted)*99/100]
	return s
}

// TopTags returns the top N tags by event frequency.
// Returns a copy of the stats sorted by frequency (descending).
func (p *PipelineStats) TopTags(n int) []TagStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if n <= 0 || len(p.tagFreq) == 0 {
		return []TagStats{}
	}

	stats := make([]TagStats, 0, len(p.tagFreq))
	for _, s := range p.tagFreq {
		statsCopy := TagStats{
			TagName:   s.TagName,
			Frequency: s.Frequency,
			LastSeen:  s.LastSeen,
			ByType:    make(map[string]int),
		}
		for t, count := range s.ByType {
			statsCopy.ByType[t] = count
		}
		stats = append(stats, statsCopy)
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Frequency > stats[j].Frequency
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// StartPruning runs Prune on the given cadence until the returned stop
// function is called. Stop is idempotent.
func (p *PipelineStats) StartPruning(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Prune()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

// Prune removes tags where time.Since(LastSeen) > window.
func (p *PipelineStats) Prune() {
	p.mu.Lock()
	defer p.mu.Unlock()

	threshold := time.Now().Add(-p.window)
	for tag, stats := range p.tagFreq {
		if stats.LastSeen.Before(threshold) {
			delete(p.tagFreq, tag)
		}
	}
}

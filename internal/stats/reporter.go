// Package stats implements the throughput window used for periodic
// frame-rate reports. It only observes: nothing in the frame path waits on
// or branches on a report.
package stats

import (
	"sync"
	"time"
)

// DefaultInterval is the reporting window used by display modules.
const DefaultInterval = 5 * time.Second

// Clock returns the current time. Tests substitute a simulated clock.
type Clock func() time.Time

// Sample is one throughput report covering a closed window.
type Sample struct {
	At         time.Time     `json:"at"`
	Frames     int64         `json:"frames"`
	Elapsed    time.Duration `json:"elapsed"`
	FPS        float64       `json:"fps"`
	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`
}

// Reporter counts frames in a rolling window and closes the window once
// it is at least Interval long.
type Reporter struct {
	mu       sync.Mutex
	interval time.Duration
	now      Clock

	windowStart time.Time
	frames      int64
	latencySum  time.Duration
	latencyN    int64
	latencyMax  time.Duration

	last    Sample
	hasLast bool
	samples int64
}

// NewReporter starts a window at the current clock reading. A nil clock
// means time.Now; a non-positive interval means DefaultInterval.
func NewReporter(interval time.Duration, now Clock) *Reporter {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		interval:    interval,
		now:         now,
		windowStart: now(),
	}
}

// Interval returns the window length.
func (r *Reporter) Interval() time.Duration {
	return r.interval
}

// ObserveLatency records how long one submission took, successful or not.
func (r *Reporter) ObserveLatency(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.latencySum += d
	r.latencyN++
	if d > r.latencyMax {
		r.latencyMax = d
	}
}

// Frame counts one frame. When the window has reached the interval it
// returns the closed window's sample and true, and starts a new window.
func (r *Reporter) Frame() (Sample, bool) {
	return r.Add(1)
}

// Add counts n frames at once.
func (r *Reporter) Add(n int64) (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames += n
	now := r.now()
	elapsed := now.Sub(r.windowStart)
	if elapsed < r.interval {
		return Sample{}, false
	}

	s := Sample{
		At:         now,
		Frames:     r.frames,
		Elapsed:    elapsed,
		FPS:        float64(r.frames) / elapsed.Seconds(),
		MaxLatency: r.latencyMax,
	}
	if r.latencyN > 0 {
		s.AvgLatency = r.latencySum / time.Duration(r.latencyN)
	}

	r.last = s
	r.hasLast = true
	r.samples++

	r.windowStart = now
	r.frames = 0
	r.latencySum = 0
	r.latencyN = 0
	r.latencyMax = 0

	return s, true
}

// Last returns the most recent sample, if any window has closed.
func (r *Reporter) Last() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

// Samples returns how many windows have closed.
func (r *Reporter) Samples() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

package monitoring

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Standard counter names.
const (
	CounterMessages      = "messages"
	CounterErrors        = "errors"
	CounterPublishErrors = "publish_errors"
)

const (
	DefaultMaxSamples       = 10000
	DefaultMaxEvents        = 100000
	DefaultCounterRetention = time.Hour
)

// Aggregate is the percentile summary of one metric.
type Aggregate struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// Snapshot is the payload served by the monitoring endpoint.
type Snapshot struct {
	Ts         time.Time            `json:"ts"`
	Counters   map[string]int       `json:"counters"`
	Histograms map[string]Aggregate `json:"histograms"`
}

type Options struct {
	// MaxSamples bounds each histogram; the oldest samples are overwritten.
	MaxSamples int
	// MaxEvents bounds each counter's timestamp list.
	MaxEvents int
	// CounterRetention evicts counter events older than this on every append.
	CounterRetention time.Duration
	Now              func() time.Time
}

// Registry holds process-wide latency samples and event counters. It is safe
// for concurrent use; construct one per process and pass it explicitly.
type Registry struct {
	mu       sync.RWMutex
	opts     Options
	samples  map[string]*ring
	counters map[string][]time.Time
}

func NewRegistry(opts Options) *Registry {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultMaxSamples
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}
	if opts.CounterRetention <= 0 {
		opts.CounterRetention = DefaultCounterRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:     opts,
		samples:  make(map[string]*ring),
		counters: make(map[string][]time.Time),
	}
}

// RecordDuration appends a sample. Negative and non-finite values are dropped.
func (r *Registry) RecordDuration(name string, durationMs float64) {
	if durationMs < 0 || math.IsNaN(durationMs) || math.IsInf(durationMs, 0) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rg, ok := r.samples[name]
	if !ok {
		rg = newRing(r.opts.MaxSamples)
		r.samples[name] = rg
	}
	rg.push(durationMs)
}

// Hist computes count/p50/p90/p99 from the retained samples by nearest rank.
func (r *Registry) Hist(name string) Aggregate {
	r.mu.RLock()
	rg, ok := r.samples[name]
	var values []float64
	if ok {
		values = rg.values()
	}
	r.mu.RUnlock()

	return aggregate(values)
}

func (r *Registry) AllHists() map[string]Aggregate {
	r.mu.RLock()
	copies := make(map[string][]float64, len(r.samples))
	for name, rg := range r.samples {
		copies[name] = rg.values()
	}
	r.mu.RUnlock()

	out := make(map[string]Aggregate, len(copies))
	for name, values := range copies {
		out[name] = aggregate(values)
	}
	return out
}

func (r *Registry) Incr(name string) {
	r.IncrAt(name, r.opts.Now())
}

// IncrAt records an event at t. Events are kept in append order.
func (r *Registry) IncrAt(name string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := append(r.counters[name], t)
	events = evictBefore(events, r.opts.Now().Add(-r.opts.CounterRetention))
	if over := len(events) - r.opts.MaxEvents; over > 0 {
		events = events[over:]
	}
	r.counters[name] = events
}

// CountSince counts events of name newer than now-window.
func (r *Registry) CountSince(name string, window time.Duration) int {
	cutoff := r.opts.Now().Add(-window)

	r.mu.RLock()
	defer r.mu.RUnlock()

	return countAfter(r.counters[name], cutoff)
}

// Snapshot reports every counter over window plus every histogram.
func (r *Registry) Snapshot(window time.Duration) Snapshot {
	now := r.opts.Now()
	cutoff := now.Add(-window)

	r.mu.RLock()
	counters := make(map[string]int, len(r.counters))
	for name, events := range r.counters {
		counters[name] = countAfter(events, cutoff)
	}
	r.mu.RUnlock()

	return Snapshot{
		Ts:         now.UTC(),
		Counters:   counters,
		Histograms: r.AllHists(),
	}
}

// Reset drops all samples and counters.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = make(map[string]*ring)
	r.counters = make(map[string][]time.Time)
}

func aggregate(values []float64) Aggregate {
	if len(values) == 0 {
		return Aggregate{}
	}
	sort.Float64s(values)
	return Aggregate{
		Count: len(values),
		P50:   nearestRank(values, 0.50),
		P90:   nearestRank(values, 0.90),
		P99:   nearestRank(values, 0.99),
	}
}

// nearestRank expects sorted input: index = ceil(p*n)-1 clamped to [0, n-1].
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

func countAfter(events []time.Time, cutoff time.Time) int {
	// events are appended in order, but IncrAt allows callers to pass older
	// timestamps, so scan rather than binary search.
	n := 0
	for _, t := range events {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func evictBefore(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	kept := make([]time.Time, len(events)-i)
	copy(kept, events[i:])
	return kept
}

type ring struct {
	buf  []float64
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]float64, 0, size)}
}

func (r *ring) push(v float64) {
	if !r.full && len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, v)
		if len(r.buf) == cap(r.buf) {
			r.full = true
		}
		return
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
}

// values returns a copy in insertion order, oldest first.
func (r *ring) values() []float64 {
	out := make([]float64, 0, len(r.buf))
	if !r.full {
		return append(out, r.buf...)
	}
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

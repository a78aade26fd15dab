package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// maxLatencySamples bounds the decision latency window.
const maxLatencySamples = 10000

// Collector aggregates controller statistics. Recording is lock-free so concurrent dispatch
// workers never serialize on it; read a consistent copy with Snapshot.
type Collector struct {
	// Counters come first to keep them 64-bit aligned for atomic access.
	FramesReceived uint64
	FramesFiltered uint64
	FramesDropped  uint64
	FastPathHits   uint64
	ParseErrors    uint64
	ControlFrames  uint64

	Installs           uint64
	InstallFailures    uint64
	Transmits          uint64
	TransmitFailures   uint64
	SideEffectsDropped uint64

	decided uint64
	samples uint64

	StartTime time.Time
	EndTime   time.Time

	// Routes, Decisions and DecisionTimes are only populated on snapshots.
	Routes        map[string]uint64
	Decisions     map[string]uint64
	DecisionTimes []time.Duration

	routes    sync.Map // string -> *uint64
	decisions sync.Map // string -> *uint64
	ring      []int64

	mu sync.Mutex
}

// NewCollector creates a new statistics collector.
func NewCollector() *Collector {
	return &Collector{
		StartTime: time.Now(),
		ring:      make([]int64, maxLatencySamples),
	}
}

// RecordReceived records a frame delivered by the packet source.
func (c *Collector) RecordReceived() {
	atomic.AddUint64(&c.FramesReceived, 1)
}

// RecordFiltered records a frame rejected by the platform filter.
func (c *Collector) RecordFiltered() {
	atomic.AddUint64(&c.FramesFiltered, 1)
}

// RecordDropped records a frame dropped because the dispatch queue was full.
func (c *Collector) RecordDropped() {
	atomic.AddUint64(&c.FramesDropped, 1)
}

// RecordFastPath records a frame forwarded by an installed flow rule.
func (c *Collector) RecordFastPath() {
	atomic.AddUint64(&c.FastPathHits, 1)
}

// RecordParseError records a frame that failed to decode.
func (c *Collector) RecordParseError() {
	atomic.AddUint64(&c.ParseErrors, 1)
}

// RecordControlFrame records an ignored discovery-protocol frame.
func (c *Collector) RecordControlFrame() {
	atomic.AddUint64(&c.ControlFrames, 1)
}

func count(m *sync.Map, key string) {
	v, ok := m.Load(key)
	if !ok {
		v, _ = m.LoadOrStore(key, new(uint64))
	}
	atomic.AddUint64(v.(*uint64), 1)
}

func counts(m *sync.Map) map[string]uint64 {
	out := make(map[string]uint64)
	m.Range(func(k, v interface{}) bool {
		out[k.(string)] = atomic.LoadUint64(v.(*uint64))
		return true
	})
	return out
}

func copyCounts(m map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RecordDecision records the route and decision of a dispatched frame and how long it took.
func (c *Collector) RecordDecision(route, kind string, elapsed time.Duration) {
	count(&c.routes, route)
	count(&c.decisions, kind)
	atomic.AddUint64(&c.decided, 1)

	n := atomic.AddUint64(&c.samples, 1) - 1
	atomic.StoreInt64(&c.ring[n%maxLatencySamples], int64(elapsed))
}

// RecordInstall records the outcome of a flow rule installation.
func (c *Collector) RecordInstall(err error) {
	if err != nil {
		atomic.AddUint64(&c.InstallFailures, 1)
		return
	}
	atomic.AddUint64(&c.Installs, 1)
}

// RecordTransmit records the outcome of a packet-out.
func (c *Collector) RecordTransmit(err error) {
	if err != nil {
		atomic.AddUint64(&c.TransmitFailures, 1)
		return
	}
	atomic.AddUint64(&c.Transmits, 1)
}

// RecordSideEffectDropped records a decision whose side effects were dropped on a full queue.
func (c *Collector) RecordSideEffectDropped() {
	atomic.AddUint64(&c.SideEffectsDropped, 1)
}

// Finish marks the end of the collection period.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
}

// Duration returns the elapsed time.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// TotalDecisions returns the number of dispatched frames.
func (c *Collector) TotalDecisions() uint64 {
	return atomic.LoadUint64(&c.decided)
}

func (c *Collector) latencies() []time.Duration {
	if c.ring == nil {
		return c.DecisionTimes
	}
	n := atomic.LoadUint64(&c.samples)
	if n > maxLatencySamples {
		n = maxLatencySamples
	}
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = time.Duration(atomic.LoadInt64(&c.ring[i]))
	}
	return out
}

// DecisionTimeStats returns min, avg, max, and p99 decision latency.
func (c *Collector) DecisionTimeStats() (min, avg, max, p99 time.Duration) {
	sorted := c.latencies()
	if len(sorted) == 0 {
		return 0, 0, 0, 0
	}
	sorted = append([]time.Duration(nil), sorted...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	avg = total / time.Duration(len(sorted))

	p99Idx := int(float64(len(sorted)) * 0.99)
	if p99Idx >= len(sorted) {
		p99Idx = len(sorted) - 1
	}
	p99 = sorted[p99Idx]

	return
}

// Snapshot returns a copy of the current statistics. Counters are read individually, so a
// snapshot taken while frames are flowing may be off by the frames in flight.
func (c *Collector) Snapshot() *Collector {
	c.mu.Lock()
	start, end := c.StartTime, c.EndTime
	c.mu.Unlock()

	routes, decisions := counts(&c.routes), counts(&c.decisions)
	if c.ring == nil {
		routes, decisions = copyCounts(c.Routes), copyCounts(c.Decisions)
	}

	return &Collector{
		FramesReceived:     atomic.LoadUint64(&c.FramesReceived),
		FramesFiltered:     atomic.LoadUint64(&c.FramesFiltered),
		FramesDropped:      atomic.LoadUint64(&c.FramesDropped),
		FastPathHits:       atomic.LoadUint64(&c.FastPathHits),
		ParseErrors:        atomic.LoadUint64(&c.ParseErrors),
		ControlFrames:      atomic.LoadUint64(&c.ControlFrames),
		Installs:           atomic.LoadUint64(&c.Installs),
		InstallFailures:    atomic.LoadUint64(&c.InstallFailures),
		Transmits:          atomic.LoadUint64(&c.Transmits),
		TransmitFailures:   atomic.LoadUint64(&c.TransmitFailures),
		SideEffectsDropped: atomic.LoadUint64(&c.SideEffectsDropped),
		decided:            atomic.LoadUint64(&c.decided),
		StartTime:          start,
		EndTime:            end,
		Routes:             routes,
		Decisions:          decisions,
		DecisionTimes:      c.latencies(),
	}
}

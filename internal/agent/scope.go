package agent

import (
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Scope is the agent's self-observability surface: a handful of
// named counters and gauges the prober and publisher bump as they
// work. Nothing is shipped anywhere; the collected values exist so a
// --debug run can dump them on exit and answer "did the agent
// actually probe and send" without packet captures.
type Scope struct {
	mu       sync.Mutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

// NewScope returns an empty Scope.
func NewScope() *Scope {
	return &Scope{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

// Counter returns the counter registered under name, creating it on
// first use.
func (s *Scope) Counter(name string) *Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = &Counter{}
		s.counters[name] = c
	}
	return c
}

// Gauge returns the gauge registered under name, creating it on
// first use.
func (s *Scope) Gauge(name string) *Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gauges[name]
	if !ok {
		g = &Gauge{}
		s.gauges[name] = g
	}
	return g
}

// LogSnapshot writes every counter and gauge to the standard logger,
// sorted by name. Called once from the agent's exit path when --debug
// is set.
func (s *Scope) LogSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.counters))
	for name := range s.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Printf("agent: counter %s = %d", name, s.counters[name].Value())
	}

	names = names[:0]
	for name := range s.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Printf("agent: gauge %s = %g", name, s.gauges[name].Value())
	}
}

// Counter accumulates a monotonically increasing count.
type Counter struct {
	v int64
}

// Inc adds delta to the counter.
func (c *Counter) Inc(delta int64) {
	atomic.AddInt64(&c.v, delta)
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.v)
}

// Gauge tracks a single instantaneous value.
type Gauge struct {
	bits uint64
}

// Update sets the gauge's current value.
func (g *Gauge) Update(value float64) {
	atomic.StoreUint64(&g.bits, math.Float64bits(value))
}

// Value returns the gauge's current value.
func (g *Gauge) Value() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.bits))
}

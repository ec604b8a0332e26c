package helio

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Profiler collects per-frame stage timings and counters. Scopes keep
// insertion order so the stats string reads in pipeline order; counters
// sort alphabetically. Safe for concurrent use: the overlay may format
// stats while a frame is in flight.
type Profiler struct {
	mu         sync.Mutex
	scopes     map[string]time.Duration
	startTimes map[string]time.Time
	counts     map[string]int
	order      []string
}

func NewProfiler() *Profiler {
	return &Profiler{
		scopes:     make(map[string]time.Duration),
		startTimes: make(map[string]time.Time),
		counts:     make(map[string]int),
		order:      make([]string, 0),
	}
}

func (p *Profiler) BeginScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTimes[name] = time.Now()
	for _, n := range p.order {
		if n == name {
			return
		}
	}
	p.order = append(p.order, name)
}

func (p *Profiler) EndScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if start, ok := p.startTimes[name]; ok {
		p.scopes[name] = time.Since(start)
	}
}

func (p *Profiler) SetCount(name string, count int) {
	p.mu.Lock()
	p.counts[name] = count
	p.mu.Unlock()
}

func (p *Profiler) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[name]
}

// Reset zeroes scope timings for the next frame. Order is kept so the
// display stays stable across frames.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.scopes {
		p.scopes[k] = 0
	}
}

func (p *Profiler) GetStatsString() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder

	sb.WriteString("Timings (CPU):\n")
	for _, name := range p.order {
		dur := p.scopes[name]
		ms := float64(dur.Microseconds()) / 1000.0
		sb.WriteString(fmt.Sprintf("  %-15s: %.2f ms\n", name, ms))
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.counts))
	for k := range p.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-15s: %d\n", k, p.counts[k]))
	}

	return sb.String()
}

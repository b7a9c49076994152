package rpc

import (
	"sync"
	"time"
)

// Stats collects per-routing-key call statistics in memory.
type Stats struct {
	mu      sync.RWMutex
	methods map[string]*methodStats
}

type methodStats struct {
	calls   int64
	errors  int64
	totalMs int64
	minMs   int64
	maxMs   int64
}

// MethodStats is a point-in-time view of one routing key's counters.
type MethodStats struct {
	Calls  int64
	Errors int64
	AvgMs  int64
	MinMs  int64
	MaxMs  int64
}

// StatsSnapshot maps routing keys to their statistics.
type StatsSnapshot map[string]MethodStats

func newStats() *Stats {
	return &Stats{
		methods: make(map[string]*methodStats),
	}
}

func (s *Stats) observe(routingKey string, duration time.Duration, failed bool) {
	ms := duration.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.methods[routingKey]
	if !ok {
		m = &methodStats{minMs: ms, maxMs: ms}
		s.methods[routingKey] = m
	}

	m.calls++
	if failed {
		m.errors++
	}
	m.totalMs += ms
	if ms < m.minMs {
		m.minMs = ms
	}
	if ms > m.maxMs {
		m.maxMs = ms
	}
}

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(StatsSnapshot, len(s.methods))
	for key, m := range s.methods {
		ms := MethodStats{
			Calls:  m.calls,
			Errors: m.errors,
			MinMs:  m.minMs,
			MaxMs:  m.maxMs,
		}
		if m.calls > 0 {
			ms.AvgMs = m.totalMs / m.calls
		}
		out[key] = ms
	}
	return out
}

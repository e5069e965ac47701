package sniffer

import (
	"sync/atomic"
	"time"
)

// Stats tracks what a capture session saw.
type Stats struct {
	startTime  time.Time
	captured   atomic.Uint64
	forwarded  atomic.Uint64
	skipped    atomic.Uint64
	bytes      atomic.Uint64
	lastPacket atomic.Int64
}

func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

func (s *Stats) IncrementCaptured(size int) {
	s.captured.Add(1)
	s.bytes.Add(uint64(size))
	s.lastPacket.Store(time.Now().UnixNano())
}

func (s *Stats) IncrementForwarded() { s.forwarded.Add(1) }

func (s *Stats) IncrementSkipped() { s.skipped.Add(1) }

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Uptime     time.Duration
	Captured   uint64
	Forwarded  uint64
	Skipped    uint64
	Bytes      uint64
	LastPacket time.Time
}

func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Uptime:    time.Since(s.startTime),
		Captured:  s.captured.Load(),
		Forwarded: s.forwarded.Load(),
		Skipped:   s.skipped.Load(),
		Bytes:     s.bytes.Load(),
	}
	if ns := s.lastPacket.Load(); ns != 0 {
		snap.LastPacket = time.Unix(0, ns)
	}
	return snap
}

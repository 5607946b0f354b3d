package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of the server counters and of the process footprint.
type Snapshot struct {
	ActivePeers       int64
	PeersJoined       uint64
	PeersLeft         uint64
	MessagesBroadcast uint64
	BytesReceived     uint64
	DeliveriesOK      uint64
	DeliveriesFailed  uint64
	EventsDropped     uint64
	RSSBytes          uint64
	CPUPercent        float64
	NumThreads        int32
	SampledAt         time.Time
}

// Stats aggregates server counters. It is safe for concurrent use.
type Stats struct {
	activePeers       int64
	peersJoined       uint64
	peersLeft         uint64
	messagesBroadcast uint64
	bytesReceived     uint64
	deliveriesOK      uint64
	deliveriesFailed  uint64
	eventsDropped     uint64

	mu         sync.RWMutex
	rss        uint64
	cpuPercent float64
	numThreads int32
	sampledAt  time.Time
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) PeerJoined() {
	atomic.AddInt64(&s.activePeers, 1)
	atomic.AddUint64(&s.peersJoined, 1)
}

func (s *Stats) PeerLeft() {
	atomic.AddInt64(&s.activePeers, -1)
	atomic.AddUint64(&s.peersLeft, 1)
}

// MessageBroadcast records one received chunk and the outcome of its fan-out.
func (s *Stats) MessageBroadcast(size, delivered, failed int) {
	atomic.AddUint64(&s.messagesBroadcast, 1)
	atomic.AddUint64(&s.bytesReceived, uint64(size))
	atomic.AddUint64(&s.deliveriesOK, uint64(delivered))
	atomic.AddUint64(&s.deliveriesFailed, uint64(failed))
}

func (s *Stats) EventDropped() {
	atomic.AddUint64(&s.eventsDropped, 1)
}

// RecordProcess stores the last process sample.
func (s *Stats) RecordProcess(rss uint64, cpuPercent float64, numThreads int32, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rss = rss
	s.cpuPercent = cpuPercent
	s.numThreads = numThreads
	s.sampledAt = at
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ActivePeers:       atomic.LoadInt64(&s.activePeers),
		PeersJoined:       atomic.LoadUint64(&s.peersJoined),
		PeersLeft:         atomic.LoadUint64(&s.peersLeft),
		MessagesBroadcast: atomic.LoadUint64(&s.messagesBroadcast),
		BytesReceived:     atomic.LoadUint64(&s.bytesReceived),
		DeliveriesOK:      atomic.LoadUint64(&s.deliveriesOK),
		DeliveriesFailed:  atomic.LoadUint64(&s.deliveriesFailed),
		EventsDropped:     atomic.LoadUint64(&s.eventsDropped),
		RSSBytes:          s.rss,
		CPUPercent:        s.cpuPercent,
		NumThreads:        s.numThreads,
		SampledAt:         s.sampledAt,
	}
}

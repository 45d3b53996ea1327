// Package progress defines the read-only snapshot published by the
// orchestrator roughly every 250 ms and consumed by the UI.
package progress

import (
	"sync"
	"time"
)

// Status is the download's overall lifecycle state, per spec.md §6.
type Status int

// Recognized statuses.
const (
	NoTorrent Status = iota
	Loading
	Connecting
	Downloading
	Paused
	Completed
	Error
	Stopped
)

func (s Status) String() string {
	switch s {
	case NoTorrent:
		return "NoTorrent"
	case Loading:
		return "Loading"
	case Connecting:
		return "Connecting"
	case Downloading:
		return "Downloading"
	case Paused:
		return "Paused"
	case Completed:
		return "Completed"
	case Error:
		return "Error"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Snapshot is a point-in-time view of a download, safe to copy by value.
type Snapshot struct {
	Name   string
	Status Status

	TotalBytes      int64
	DownloadedBytes int64

	TotalPieces   int
	SavedPieces   int
	MissingPieces []int

	ConnectedPeers int
	TotalPeers     int

	StartedAt   time.Time
	LastUpdate  time.Time
	ErrorDetail string
}

// Percentage returns the fraction of total bytes downloaded, in [0, 100].
func (s Snapshot) Percentage() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return 100 * float64(s.DownloadedBytes) / float64(s.TotalBytes)
}

// Publisher holds the current Snapshot behind a mutex, published by the
// orchestrator and read by the UI from a different goroutine.
type Publisher struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// NewPublisher returns a Publisher seeded with name and totals.
func NewPublisher(name string, totalBytes int64, totalPieces int) *Publisher {
	now := time.Now()
	return &Publisher{
		snapshot: Snapshot{
			Name:        name,
			Status:      NoTorrent,
			TotalBytes:  totalBytes,
			TotalPieces: totalPieces,
			StartedAt:   now,
			LastUpdate:  now,
		},
	}
}

// Publish replaces the current snapshot with next, carrying forward
// StartedAt (fixed at creation) and stamping LastUpdate. A zero-value
// next.TotalPeers is treated as "caller didn't set it" and carries the
// previous value forward, so callers that only update a subset of fields
// don't need to re-thread every field through every call site.
func (p *Publisher) Publish(next Snapshot) {
	next.LastUpdate = time.Now()
	p.mu.Lock()
	next.StartedAt = p.snapshot.StartedAt
	if next.TotalPeers == 0 {
		next.TotalPeers = p.snapshot.TotalPeers
	}
	p.snapshot = next
	p.mu.Unlock()
}

// Snapshot returns a copy of the most recently published snapshot.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Package tracker implements the HTTP (BEP-3) and UDP (BEP-15) tracker
// clients and the fan-out/dedup logic that aggregates peers across
// multiple trackers.
package tracker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrTrackerFailure wraps a tracker's own reported failure or a
// transport/protocol error while talking to it.
var ErrTrackerFailure = errors.New("tracker: request failed")

// Peer is a deduplicated (ip, port) pair returned by a tracker.
type Peer struct {
	IP   net.IP
	Port uint16
}

// String renders the peer as a dialable "host:port" address.
func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Key returns a value suitable for deduplicating peers by (ip, port).
func (p Peer) Key() string {
	return p.IP.String() + ":" + strconv.Itoa(int(p.Port))
}

const compactPeerSize = 6 // 4 bytes IPv4 + 2 bytes port

// parseCompactPeers decodes the 6-bytes-per-peer compact form: 4 bytes
// IPv4, 2 big-endian bytes port.
func parseCompactPeers(data []byte) ([]Peer, error) {
	if len(data)%compactPeerSize != 0 {
		return nil, fmt.Errorf("%w: compact peers length %d not a multiple of %d", ErrTrackerFailure, len(data), compactPeerSize)
	}
	n := len(data) / compactPeerSize
	peers := make([]Peer, n)
	for i := 0; i < n; i++ {
		off := i * compactPeerSize
		ip := make(net.IP, 4)
		copy(ip, data[off:off+4])
		peers[i] = Peer{
			IP:   ip,
			Port: binary.BigEndian.Uint16(data[off+4 : off+6]),
		}
	}
	return peers, nil
}

// Dedup removes duplicate (ip, port) pairs, preserving first-seen order.
func Dedup(peers []Peer) []Peer {
	seen := make(map[string]bool, len(peers))
	out := make([]Peer, 0, len(peers))
	for _, p := range peers {
		k := p.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	return out
}

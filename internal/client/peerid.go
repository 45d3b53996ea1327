package client

import (
	"strings"

	"github.com/google/uuid"
)

// peerIDLength is the fixed wire size of a BitTorrent peer id.
const peerIDLength = 20

// NewPeerID builds a 20-byte peer id from prefix (conventionally a
// client identifier like "-LE0001-") padded with a random suffix derived
// from a UUID. prefix longer than peerIDLength is truncated.
func NewPeerID(prefix string) [20]byte {
	var id [20]byte
	n := copy(id[:], prefix)

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	for i := n; i < peerIDLength && i-n < len(suffix); i++ {
		id[i] = suffix[i-n]
	}
	return id
}

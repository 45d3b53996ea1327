package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ProtocolString is the fixed protocol identifier sent in every handshake.
const ProtocolString = "BitTorrent protocol"

// HandshakeSize is the fixed length of a serialized handshake:
// 1 (pstrlen) + 19 (pstr) + 8 (reserved) + 20 (info hash) + 20 (peer id).
const HandshakeSize = 1 + len(ProtocolString) + 8 + 20 + 20

// ErrHandshakeMismatch is returned when a received handshake's info hash
// does not match the expected one.
var ErrHandshakeMismatch = errors.New("wire: handshake info hash mismatch")

// Handshake is the fixed 68-byte message exchanged before any framed
// message.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a Handshake with the standard protocol string.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{InfoHash: infoHash, PeerID: peerID}
}

// Serialize encodes h into its fixed 68-byte wire form.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, HandshakeSize)
	buf[0] = byte(len(ProtocolString))
	cur := 1
	cur += copy(buf[cur:], ProtocolString)
	cur += copy(buf[cur:], make([]byte, 8))
	cur += copy(buf[cur:], h.InfoHash[:])
	copy(buf[cur:], h.PeerID[:])
	return buf
}

// ReadHandshake parses a handshake from r and verifies it against
// expectedInfoHash, returning ErrHandshakeMismatch on a mismatch.
func ReadHandshake(r io.Reader, expectedInfoHash [20]byte) (*Handshake, error) {
	buf := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read handshake: %w", err)
	}
	return ParseHandshake(buf, expectedInfoHash)
}

// ParseHandshake validates an already-read, fixed-size buffer (as produced
// by a transport's ReadExact) against expectedInfoHash.
func ParseHandshake(buf []byte, expectedInfoHash [20]byte) (*Handshake, error) {
	if len(buf) != HandshakeSize {
		return nil, fmt.Errorf("wire: handshake length %d != %d", len(buf), HandshakeSize)
	}

	pstrlen := int(buf[0])
	if 1+pstrlen+8+20+20 != HandshakeSize {
		return nil, fmt.Errorf("wire: unexpected pstrlen %d", pstrlen)
	}

	var infoHash, peerID [20]byte
	copy(infoHash[:], buf[1+pstrlen+8:1+pstrlen+8+20])
	copy(peerID[:], buf[1+pstrlen+8+20:])

	if !bytes.Equal(infoHash[:], expectedInfoHash[:]) {
		return nil, fmt.Errorf("%w: expected %x, got %x", ErrHandshakeMismatch, expectedInfoHash, infoHash)
	}

	return &Handshake{InfoHash: infoHash, PeerID: peerID}, nil
}

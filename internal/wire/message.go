// Package wire implements the length-prefixed BitTorrent peer message
// frame and the initial handshake.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/torrentleech/leech/internal/byteconv"
)

// ID identifies a peer message's wire type.
type ID uint8

// Recognized message ids, per spec.md §4.2.
const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	BitfieldMsg   ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
	Port          ID = 9
)

// MaxFrameSize is the hard cap on a single frame's payload. Larger frames
// are treated as malicious and rejected with ErrFrameTooLarge.
const MaxFrameSize = 100 * 1024

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame too large")

// Message is a single decoded peer message. A nil *Message represents a
// zero-length keep-alive frame.
type Message struct {
	ID      ID
	Payload []byte
}

func (m *Message) String() string {
	if m == nil {
		return "KeepAlive"
	}
	return fmt.Sprintf("%s[%d]", idName(m.ID), len(m.Payload))
}

func idName(id ID) string {
	switch id {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case BitfieldMsg:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	case Port:
		return "Port"
	default:
		return fmt.Sprintf("Unknown#%d", id)
	}
}

// NewRequest builds a Request message for the given piece index, byte
// offset, and length.
func NewRequest(index, offset, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(offset))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: Request, Payload: payload}
}

// NewHave builds a Have message announcing index.
func NewHave(index int) *Message {
	return &Message{ID: Have, Payload: byteconv.Uint32ToBytes(uint32(index))}
}

// NewBitfield builds a Bitfield message carrying bf's raw bytes.
func NewBitfield(bf []byte) *Message {
	return &Message{ID: BitfieldMsg, Payload: bf}
}

// ParsePiece decodes a Piece message's payload into (index, offset, data).
func ParsePiece(m *Message) (index, offset int, data []byte, err error) {
	if m.ID != Piece {
		return 0, 0, nil, fmt.Errorf("wire: expected Piece (id %d), got id %d", Piece, m.ID)
	}
	if len(m.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("wire: piece payload too short: %d < 8", len(m.Payload))
	}
	index = int(byteconv.BytesToUint32(m.Payload[0:4]))
	offset = int(byteconv.BytesToUint32(m.Payload[4:8]))
	return index, offset, m.Payload[8:], nil
}

// ParseHave decodes a Have message's payload into a piece index.
func ParseHave(m *Message) (int, error) {
	if m.ID != Have {
		return 0, fmt.Errorf("wire: expected Have (id %d), got id %d", Have, m.ID)
	}
	if len(m.Payload) != 4 {
		return 0, fmt.Errorf("wire: have payload length %d != 4", len(m.Payload))
	}
	return int(byteconv.BytesToUint32(m.Payload)), nil
}

// Serialize encodes m into the <length><id><payload> wire frame. A nil
// receiver serializes to a zero-length keep-alive frame.
func (m *Message) Serialize() []byte {
	if m == nil {
		return []byte{0, 0, 0, 0}
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage parses one frame from r. It returns (nil, nil) on a
// keep-alive frame, and ErrFrameTooLarge if the declared length exceeds
// MaxFrameSize.
func ReadMessage(r io.Reader) (*Message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := byteconv.BytesToUint32(lenBuf)
	if length == 0 {
		return nil, nil
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared length %d", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &Message{ID: ID(body[0]), Payload: body[1:]}, nil
}

// TryParseFrame attempts to decode one frame from the front of buf without
// blocking: it reports ok=false (no error) when buf doesn't yet hold a
// complete frame, so a caller accumulating bytes across several non-blocking
// reads can keep appending and retrying without ever discarding or
// re-interpreting bytes it has already buffered. consumed is the number of
// leading bytes of buf belonging to the returned frame (0 when !ok).
func TryParseFrame(buf []byte) (msg *Message, consumed int, ok bool, err error) {
	if len(buf) < 4 {
		return nil, 0, false, nil
	}
	length := byteconv.BytesToUint32(buf[:4])
	if length == 0 {
		return nil, 4, true, nil
	}
	if length > MaxFrameSize {
		return nil, 0, false, fmt.Errorf("%w: declared length %d", ErrFrameTooLarge, length)
	}
	total := 4 + int(length)
	if len(buf) < total {
		return nil, 0, false, nil
	}
	body := buf[4:total]
	return &Message{ID: ID(body[0]), Payload: body[1:]}, total, true, nil
}

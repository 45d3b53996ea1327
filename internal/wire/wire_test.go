package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torrentleech/leech/internal/byteconv"
)

func TestMessageSerializeRead(t *testing.T) {
	msg := NewRequest(1, 16384, 16384)
	buf := bytes.NewReader(msg.Serialize())

	got, err := ReadMessage(buf)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, Request, got.ID)

	pieceMsg := &Message{ID: Piece, Payload: append(append(
		byteconv.Uint32ToBytes(1), byteconv.Uint32ToBytes(0)...), []byte("data")...)}
	index, offset, data, err := ParsePiece(pieceMsg)
	require.NoError(t, err)
	assert.Equal(t, 1, index)
	assert.Equal(t, 0, offset)
	assert.Equal(t, []byte("data"), data)
}

func TestKeepAlive(t *testing.T) {
	var nilMsg *Message
	buf := bytes.NewReader(nilMsg.Serialize())
	got, err := ReadMessage(buf)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFrameTooLarge(t *testing.T) {
	lenBuf := []byte{0, 2, 0, 0} // 0x00020000 > 100KiB cap
	_, err := ReadMessage(bytes.NewReader(lenBuf))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestHandshakeRoundTrip(t *testing.T) {
	infoHash := [20]byte{1, 2, 3}
	peerID := [20]byte{4, 5, 6}
	h := NewHandshake(infoHash, peerID)

	got, err := ReadHandshake(bytes.NewReader(h.Serialize()), infoHash)
	require.NoError(t, err)
	assert.Equal(t, peerID, got.PeerID)
}

func TestHandshakeMismatch(t *testing.T) {
	infoHash := [20]byte{1, 2, 3}
	peerID := [20]byte{4, 5, 6}
	h := NewHandshake(infoHash, peerID)

	other := [20]byte{9, 9, 9}
	_, err := ReadHandshake(bytes.NewReader(h.Serialize()), other)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeMismatch)
}


package session

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/torrentleech/leech/internal/bitfield"
	"github.com/torrentleech/leech/internal/metainfo"
	"github.com/torrentleech/leech/internal/sha1sum"
	"github.com/torrentleech/leech/internal/storage"
	"github.com/torrentleech/leech/internal/tracker"
	"github.com/torrentleech/leech/internal/wire"
)

func testMeta(t *testing.T, data []byte, pieceLength int) *metainfo.TorrentMeta {
	t.Helper()
	var hashes [][20]byte
	for off := 0; off < len(data); off += pieceLength {
		end := off + pieceLength
		if end > len(data) {
			end = len(data)
		}
		hashes = append(hashes, sha1sum.Sum(data[off:end]))
	}
	return &metainfo.TorrentMeta{
		Name:        "out.bin",
		TotalLength: int64(len(data)),
		PieceLength: int64(pieceLength),
		PieceHashes: hashes,
	}
}

// fakePeer serves a single TCP connection: it performs the handshake, sends
// a full bitfield and Unchoke, then serves Requests with the matching slice
// of data until the connection closes.
func fakePeer(t *testing.T, data []byte, pieceLength int, infoHash [20]byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, wire.HandshakeSize)
		if _, err := readFull(conn, buf); err != nil {
			return
		}
		peerID := [20]byte{1}
		conn.Write(wire.NewHandshake(infoHash, peerID).Serialize())

		nPieces := (len(data) + pieceLength - 1) / pieceLength
		bf := make([]byte, (nPieces+7)/8)
		for i := range bf {
			bf[i] = 0xFF
		}
		conn.Write((&wire.Message{ID: wire.BitfieldMsg, Payload: bf}).Serialize())
		conn.Write((&wire.Message{ID: wire.Unchoke}).Serialize())

		for {
			msg, err := wire.ReadMessage(conn)
			if err != nil {
				return
			}
			if msg == nil {
				continue
			}
			if msg.ID != wire.Request {
				continue
			}
			index := int(be32(msg.Payload[0:4]))
			offset := int(be32(msg.Payload[4:8]))
			length := int(be32(msg.Payload[8:12]))

			start := index*pieceLength + offset
			block := data[start : start+length]
			payload := make([]byte, 0, 8+len(block))
			payload = append(payload, be32bytes(uint32(index))...)
			payload = append(payload, be32bytes(uint32(offset))...)
			payload = append(payload, block...)
			conn.Write((&wire.Message{ID: wire.Piece, Payload: payload}).Serialize())
		}
	}()

	return ln.Addr().String()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be32bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func TestSessionDownloadsFromFakePeer(t *testing.T) {
	pieceLength := 32 * 1024
	data := make([]byte, pieceLength*2+100)
	for i := range data {
		data[i] = byte(i)
	}

	meta := testMeta(t, data, pieceLength)
	dir := t.TempDir()
	st, err := storage.Open(meta, dir)
	require.NoError(t, err)
	defer st.Close()

	var infoHash [20]byte
	addr := fakePeer(t, data, pieceLength, infoHash)

	p := tracker.Peer{IP: net.ParseIP("127.0.0.1"), Port: mustPort(t, addr)}

	var peerID [20]byte
	sess := New(p, infoHash, peerID, st, zap.NewNop())

	done := make(chan struct{})
	go func() {
		sess.Run()
		close(done)
	}()

	require.Eventually(t, func() bool {
		return st.IsComplete()
	}, 5*time.Second, 10*time.Millisecond)

	sess.Terminate()
	<-done
}

func TestAcquirePieceStopsImmediatelyWhenTerminated(t *testing.T) {
	meta := testMeta(t, make([]byte, 32*1024*15), 32*1024)
	st, err := storage.Open(meta, t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	sess := &PeerSession{storage: st}
	sess.terminated.Store(true)

	p, ok := sess.acquirePiece()
	assert.False(t, ok)
	assert.Nil(t, p)
}

// With every piece missing from the peer's bitfield and not in endgame
// (more pieces outstanding than endgameThreshold), acquirePiece must give
// up after one lap of the queue rather than spin, and must not drop any
// piece along the way.
func TestAcquirePieceGivesUpAfterOneLapWithNothingServable(t *testing.T) {
	meta := testMeta(t, make([]byte, 32*1024*15), 32*1024)
	st, err := storage.Open(meta, t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	sess := &PeerSession{storage: st, remoteBitfield: bitfield.New(st.TotalPieces())}

	p, ok := sess.acquirePiece()
	assert.False(t, ok)
	assert.Nil(t, p)
	assert.Len(t, st.MissingPieces(), 15)
}

func TestHandlePieceMessageClosesSessionOnUnknownOffset(t *testing.T) {
	meta := testMeta(t, make([]byte, 32*1024), 32*1024)
	st, err := storage.Open(meta, t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	p, ok := st.Next()
	require.True(t, ok)

	sess := &PeerSession{storage: st, log: zap.NewNop(), pieceInProgress: p}

	payload := make([]byte, 8)
	msg := &wire.Message{ID: wire.Piece, Payload: payload}
	// index 0 matches the piece in progress; offset 999999 matches none of
	// its blocks, so SaveBlock fails with ErrUnknownOffset.
	be32put(msg.Payload[4:8], uint32(999999))

	done := sess.handlePieceMessage(msg)
	assert.True(t, done)
	assert.Nil(t, sess.pieceInProgress)

	requeued, ok := st.Next()
	require.True(t, ok, "piece must have been returned to the queue, not dropped")
	assert.Equal(t, 0, requeued.Index())
}

func be32put(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func mustPort(t *testing.T, addr string) uint16 {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return uint16(port)
}

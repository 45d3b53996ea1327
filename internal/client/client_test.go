package client

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/torrentleech/leech/internal/metainfo"
	"github.com/torrentleech/leech/internal/progress"
	"github.com/torrentleech/leech/internal/session"
	"github.com/torrentleech/leech/internal/tracker"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	meta := &metainfo.TorrentMeta{
		Name:        "movie.mkv",
		TotalLength: 100,
		PieceLength: 50,
		PieceHashes: make([][20]byte, 2),
	}
	var peerID [20]byte
	return New(meta, peerID, t.TempDir(), zap.NewNop())
}

func TestNewSeedsNoTorrentSnapshot(t *testing.T) {
	c := testClient(t)
	snap := c.Progress().Snapshot()
	assert.Equal(t, progress.NoTorrent, snap.Status)
	assert.Equal(t, int64(100), snap.TotalBytes)
	assert.Equal(t, 2, snap.TotalPieces)
}

func TestPauseResumeToggles(t *testing.T) {
	c := testClient(t)
	require.False(t, c.paused.Load())
	c.Pause()
	assert.True(t, c.paused.Load())
	c.Resume()
	assert.False(t, c.paused.Load())
}

func newClosedSession(t *testing.T) *session.PeerSession {
	t.Helper()
	p := tracker.Peer{IP: net.ParseIP("127.0.0.1"), Port: 1}
	var infoHash, peerID [20]byte
	sess := session.New(p, infoHash, peerID, nil, zap.NewNop())
	sess.Terminate() // already-terminated, so Run returns immediately, closed
	sess.Run()
	return sess
}

func TestAllSessionsClosedRequiresEveryOneClosed(t *testing.T) {
	closedOnly := []*session.PeerSession{newClosedSession(t), newClosedSession(t)}
	assert.True(t, allSessionsClosed(closedOnly))

	p := tracker.Peer{IP: net.ParseIP("127.0.0.1"), Port: 1}
	var infoHash, peerID [20]byte
	stillRunning := session.New(p, infoHash, peerID, nil, zap.NewNop())
	mixed := []*session.PeerSession{newClosedSession(t), stillRunning}
	assert.False(t, allSessionsClosed(mixed))
}

func TestStopIsIdempotentAndClosesStopCh(t *testing.T) {
	c := testClient(t)
	c.Stop()
	c.Stop() // must not panic on double close
	select {
	case <-c.stopCh:
	default:
		t.Fatal("expected stopCh to be closed after Stop")
	}
}

func TestPublishCarriesTotalPeersAcrossCallsWithoutAStorage(t *testing.T) {
	c := testClient(t)
	c.setTotalPeers(4)
	c.publish(progress.Connecting, nil)
	assert.Equal(t, 4, c.Progress().Snapshot().TotalPeers)

	// A later publish (e.g. publishError) that doesn't know the peer count
	// must not reset it to zero.
	c.publishError(assert.AnError)
	assert.Equal(t, 4, c.Progress().Snapshot().TotalPeers)
}

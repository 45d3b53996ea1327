// Package client implements the orchestrator: it loads metainfo, opens
// storage, fans out to trackers, spawns one PeerSession per discovered
// peer, publishes progress, and drives endgame requeue and shutdown.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torrentleech/leech/internal/metainfo"
	"github.com/torrentleech/leech/internal/progress"
	"github.com/torrentleech/leech/internal/session"
	"github.com/torrentleech/leech/internal/storage"
	"github.com/torrentleech/leech/internal/tracker"
)

// Tuning constants, per spec.md §4.10.
const (
	progressInterval      = 250 * time.Millisecond
	endgameThreshold      = 10
	forceRequeueCooldown  = 10 * time.Second
	trackerRetryPause     = 30 * time.Second
	incompleteRetryBudget = 10
)

// ErrIncompleteDownload is surfaced when the queue drains and endgame
// cannot make progress after incompleteRetryBudget force-requeue cycles.
var ErrIncompleteDownload = errors.New("client: incomplete download")

// Client is the download orchestrator for one torrent.
type Client struct {
	meta      *metainfo.TorrentMeta
	peerID    [20]byte
	outputDir string
	log       *zap.Logger
	publisher *progress.Publisher

	terminated atomic.Bool
	giveUp     atomic.Bool
	paused     atomic.Bool
	stopCh     chan struct{}
	stopOnce   sync.Once

	mu         sync.Mutex
	sessions   []*session.PeerSession
	totalPeers int
}

// New constructs a Client for meta, writing the output under outputDir.
func New(meta *metainfo.TorrentMeta, peerID [20]byte, outputDir string, log *zap.Logger) *Client {
	return &Client{
		meta:      meta,
		peerID:    peerID,
		outputDir: outputDir,
		log:       log,
		publisher: progress.NewPublisher(meta.Name, meta.TotalLength, len(meta.PieceHashes)),
		stopCh:    make(chan struct{}),
	}
}

// Progress returns the live progress publisher for the UI to poll.
func (c *Client) Progress() *progress.Publisher {
	return c.publisher
}

// Pause stops the orchestrator from spawning new work and polling storage;
// connected sessions remain but idle. Resume restores normal operation.
func (c *Client) Pause()  { c.paused.Store(true) }
func (c *Client) Resume() { c.paused.Store(false) }

// Run loads metainfo-backed storage, discovers peers, spawns one session
// per peer, and blocks until the download completes, is stopped, or the
// endgame retry budget is exhausted.
func (c *Client) Run() error {
	c.publish(progress.Connecting, nil)

	st, err := storage.Open(c.meta, c.outputDir)
	if err != nil {
		c.publishError(err)
		return fmt.Errorf("client: open storage: %w", err)
	}
	defer st.Close()

	startedAt := time.Now()

	for !c.terminated.Load() && !st.IsComplete() {
		peers, annErr := tracker.FanOut(c.meta.AnnounceURL, c.meta.InfoHash, c.peerID, 0, c.meta.TotalLength)
		if annErr != nil {
			c.log.Debug("tracker fan-out reported errors", zap.Error(annErr))
		}
		if len(peers) == 0 {
			c.log.Info("no peers this cycle, waiting before retry", zap.Duration("wait", trackerRetryPause))
			if !c.sleepInterruptible(trackerRetryPause) {
				break
			}
			continue
		}

		if err := c.runCycle(st, peers); err != nil {
			c.publishError(err)
			return err
		}
	}

	c.setTerminated()
	c.joinSessions()

	if st.IsComplete() {
		c.publish(progress.Completed, st)
		c.log.Info("download complete", zap.Duration("elapsed", time.Since(startedAt)))
		return nil
	}
	if c.giveUp.Load() {
		diag := st.Diagnose()
		c.publish(progress.Error, st)
		return fmt.Errorf("%w: %d/%d pieces missing", ErrIncompleteDownload, len(diag.Missing), diag.Total)
	}

	c.publish(progress.Stopped, st)
	return nil
}

// runCycle spawns one session per peer and runs the progress/endgame loop
// until every session of the cycle has closed, storage completes, or
// termination is requested. It always returns nil: when the endgame retry
// budget is exhausted it sets giveUp and terminates, and Run then reports
// ErrIncompleteDownload.
func (c *Client) runCycle(st *storage.Storage, peers []tracker.Peer) error {
	c.setTotalPeers(len(peers))

	group := &errgroup.Group{}
	cycleSessions := make([]*session.PeerSession, 0, len(peers))

	for _, p := range peers {
		sess := session.New(p, c.meta.InfoHash, c.peerID, st, c.log)
		c.addSession(sess)
		cycleSessions = append(cycleSessions, sess)
		group.Go(func() error {
			sess.Run()
			return nil
		})
	}

	c.publish(progress.Downloading, st)

	var lastForceRequeue time.Time
	retriesExhausted := 0
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for !c.terminated.Load() && !st.IsComplete() {
		<-ticker.C

		if c.paused.Load() {
			continue
		}

		c.publish(progress.Downloading, st)

		missing := st.MissingPieces()
		if len(missing) <= endgameThreshold && st.QueueIsEmpty() && !st.IsComplete() {
			if time.Since(lastForceRequeue) >= forceRequeueCooldown {
				st.ForceRequeueMissing()
				lastForceRequeue = time.Now()
				retriesExhausted++
				if retriesExhausted > incompleteRetryBudget {
					c.giveUp.Store(true)
					c.setTerminated()
					break
				}
			}
		}

		// Every session in this cycle has exhausted its reconnect budget or
		// otherwise wound down: nothing will drain the queue further with
		// this peer set. Stop spinning and let Run re-announce for fresh
		// peers instead of publishing progress forever.
		if allSessionsClosed(cycleSessions) {
			c.log.Info("all sessions ended this cycle, re-announcing",
				zap.Int("missing", len(missing)))
			break
		}
	}

	for _, sess := range cycleSessions {
		sess.Terminate()
	}
	_ = group.Wait()

	return nil
}

// allSessionsClosed reports whether every session spawned this cycle has
// returned from Run (connection lost for good, or reconnect budget
// exhausted).
func allSessionsClosed(sessions []*session.PeerSession) bool {
	for _, s := range sessions {
		if s.State() != session.StateClosed {
			return false
		}
	}
	return true
}

func (c *Client) addSession(s *session.PeerSession) {
	c.mu.Lock()
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()
}

func (c *Client) setTotalPeers(n int) {
	c.mu.Lock()
	c.totalPeers = n
	c.mu.Unlock()
}

func (c *Client) getTotalPeers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalPeers
}

func (c *Client) connectedPeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sessions {
		if s.State() != session.StateClosed {
			n++
		}
	}
	return n
}

// Stop requests a cooperative shutdown: Run returns once in-flight
// sessions finish draining their in-progress pieces back to storage.
func (c *Client) Stop() {
	c.setTerminated()
}

func (c *Client) setTerminated() {
	if c.terminated.Swap(true) {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Client) joinSessions() {
	c.mu.Lock()
	sessions := append([]*session.PeerSession(nil), c.sessions...)
	c.mu.Unlock()
	for _, s := range sessions {
		s.Terminate()
	}
}

func (c *Client) sleepInterruptible(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stopCh:
		return false
	}
}

func (c *Client) publish(status progress.Status, st *storage.Storage) {
	snap := progress.Snapshot{
		Name:           c.meta.Name,
		Status:         status,
		TotalBytes:     c.meta.TotalLength,
		TotalPieces:    len(c.meta.PieceHashes),
		ConnectedPeers: c.connectedPeerCount(),
		TotalPeers:     c.getTotalPeers(),
	}
	if st != nil {
		diag := st.Diagnose()
		snap.SavedPieces = diag.Saved
		snap.MissingPieces = diag.Missing
		snap.DownloadedBytes = int64(diag.Saved) * c.meta.PieceLength
		if snap.DownloadedBytes > c.meta.TotalLength {
			snap.DownloadedBytes = c.meta.TotalLength
		}
	}
	c.publisher.Publish(snap)
}

func (c *Client) publishError(err error) {
	snap := progress.Snapshot{
		Name:        c.meta.Name,
		Status:      progress.Error,
		TotalBytes:  c.meta.TotalLength,
		TotalPieces: len(c.meta.PieceHashes),
		ErrorDetail: err.Error(),
	}
	c.publisher.Publish(snap)
}

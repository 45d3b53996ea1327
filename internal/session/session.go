// Package session implements PeerSession: the single-peer state machine
// that establishes a connection, pipelines block requests for one piece
// at a time, and hands verified pieces back to storage.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/torrentleech/leech/internal/bitfield"
	"github.com/torrentleech/leech/internal/piece"
	"github.com/torrentleech/leech/internal/storage"
	"github.com/torrentleech/leech/internal/tracker"
	"github.com/torrentleech/leech/internal/transport"
	"github.com/torrentleech/leech/internal/wire"
)

// Tuning constants, per spec.md §4.9.
const (
	MaxInflight = 16

	connectTimeout     = 5 * time.Second
	frameReadTimeout   = 2 * time.Second // transport poll granularity, not the inactivity timeout below
	inactivityTimeout  = 30 * time.Second
	blockTimeout       = 15 * time.Second
	endgameThreshold   = 10
	maxConsecutiveFail = 10
	idleQueuePause     = 100 * time.Millisecond
)

// State is one of the PeerSession lifecycle states.
type State int

// Lifecycle states, per spec.md §4.9.
const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateAwaitingBitfield
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateAwaitingBitfield:
		return "AwaitingBitfield"
	case StateActive:
		return "Active"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type inflightRequest struct {
	offset      int
	requestedAt time.Time
}

// PeerSession owns one peer's TCP connection and the single piece it may be
// working on at a time. Run drives it to completion or termination; all
// other exported methods are safe to call from a different goroutine.
type PeerSession struct {
	peer     tracker.Peer
	infoHash [20]byte
	peerID   [20]byte
	storage  *storage.Storage
	log      *zap.Logger

	terminated atomic.Bool
	failed     atomic.Bool
	stopCh     chan struct{}
	stopOnce   sync.Once

	stateMu sync.Mutex
	state   State

	connMu sync.Mutex
	conn   *transport.TCP

	remoteBitfield  bitfield.Bitfield
	choked          bool
	pieceInProgress *piece.Piece
	inflight        []inflightRequest
}

// New creates a PeerSession targeting peer for the torrent identified by
// infoHash, pulling work from st.
func New(p tracker.Peer, infoHash, peerID [20]byte, st *storage.Storage, log *zap.Logger) *PeerSession {
	return &PeerSession{
		peer:     p,
		infoHash: infoHash,
		peerID:   peerID,
		storage:  st,
		log:      log.With(zap.String("peer", p.String())),
		stopCh:   make(chan struct{}),
		choked:   true,
	}
}

// State returns the session's current lifecycle state.
func (s *PeerSession) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *PeerSession) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Failed reports whether the session exhausted its reconnect budget.
func (s *PeerSession) Failed() bool {
	return s.failed.Load()
}

// Terminate requests a cooperative shutdown: it wakes any blocked read,
// interrupts a pending reconnect sleep, and causes Run to return after
// returning any in-progress piece to storage. Idempotent.
func (s *PeerSession) Terminate() {
	if s.terminated.Swap(true) {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Run is the outer driver: while not terminated and under the consecutive
// failure budget, it establishes a connection and runs the inner message
// loop, using a bounded exponential backoff between attempts. It returns
// once terminated or once the failure budget is exhausted.
func (s *PeerSession) Run() {
	defer s.setState(StateClosed)
	defer s.releaseInProgress()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0
	retrier := backoff.WithMaxRetries(bo, maxConsecutiveFail)

	for !s.terminated.Load() {
		if err := s.establish(); err != nil {
			s.log.Debug("establish failed", zap.Error(err))
			if !s.backoffSleep(retrier) {
				return
			}
			continue
		}

		retrier.Reset()
		s.runInnerLoop()
		s.closeConn()

		if s.terminated.Load() {
			return
		}
		if !s.backoffSleep(retrier) {
			return
		}
	}
}

// backoffSleep advances retrier and sleeps the returned interval,
// returning false if the budget is exhausted or termination interrupts it.
func (s *PeerSession) backoffSleep(retrier backoff.BackOff) bool {
	d := retrier.NextBackOff()
	if d == backoff.Stop {
		s.log.Info("giving up after repeated failures")
		s.failed.Store(true)
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stopCh:
		return false
	}
}

func (s *PeerSession) setConn(c *transport.TCP) {
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
}

func (s *PeerSession) closeConn() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// establish runs the Connecting -> Handshaking -> AwaitingBitfield sequence
// and sends Interested, per spec.md §4.9.
func (s *PeerSession) establish() error {
	s.choked = true
	s.remoteBitfield = nil

	s.setState(StateConnecting)
	conn, err := transport.DialTCP(s.peer.String(), connectTimeout, frameReadTimeout)
	if err != nil {
		return fmt.Errorf("session: dial: %w", err)
	}
	s.setConn(conn)

	s.setState(StateHandshaking)
	if err := conn.Write(wire.NewHandshake(s.infoHash, s.peerID).Serialize()); err != nil {
		return fmt.Errorf("session: send handshake: %w", err)
	}
	buf, err := conn.ReadExact(wire.HandshakeSize)
	if err != nil {
		return fmt.Errorf("session: read handshake: %w", err)
	}
	if _, err := wire.ParseHandshake(buf, s.infoHash); err != nil {
		return err
	}

	s.setState(StateAwaitingBitfield)
	first, err := s.readFrameBlocking(conn, inactivityTimeout)
	if err != nil {
		return fmt.Errorf("session: read first frame: %w", err)
	}
	if first != nil && first.ID == wire.BitfieldMsg {
		s.remoteBitfield = append(bitfield.Bitfield(nil), first.Payload...)
	}
	// Any other first frame is tolerated; the peer may send Have/Choke/
	// Unchoke before ever sending a Bitfield, or omit it entirely.

	if err := conn.Write((&wire.Message{ID: wire.Interested}).Serialize()); err != nil {
		return fmt.Errorf("session: send interested: %w", err)
	}

	s.setState(StateActive)
	return nil
}

// readFrameBlocking polls conn.ReadFrame, tolerating its short poll-sized
// read timeouts until overallTimeout elapses with no frame.
func (s *PeerSession) readFrameBlocking(conn *transport.TCP, overallTimeout time.Duration) (*wire.Message, error) {
	deadline := time.Now().Add(overallTimeout)
	for {
		msg, err := conn.ReadFrame()
		if err == nil {
			return msg, nil
		}
		if errors.Is(err, transport.ErrReadTimeout) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("session: %w", transport.ErrReadTimeout)
			}
			continue
		}
		return nil, err
	}
}

// runInnerLoop is the cooperative single-threaded loop: pick a piece,
// pipeline requests up to MaxInflight, process one inbound frame per
// iteration, and enforce the inactivity and per-block timeouts. It returns
// when the session fails, is terminated, or the peer's piece runs out.
func (s *PeerSession) runInnerLoop() {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	lastActivity := time.Now()

	for !s.terminated.Load() {
		if time.Since(lastActivity) > inactivityTimeout {
			s.log.Debug("inactivity timeout")
			return
		}

		if len(s.inflight) > 0 && time.Since(s.inflight[0].requestedAt) > blockTimeout {
			s.log.Debug("block request timeout", zap.Int("offset", s.inflight[0].offset))
			s.abandonPiece()
			continue
		}

		if s.pieceInProgress == nil {
			p, ok := s.acquirePiece()
			if !ok {
				if s.storage.QueueIsEmpty() {
					return
				}
				time.Sleep(idleQueuePause)
				continue
			}
			s.pieceInProgress = p
		}

		if !s.choked {
			if err := s.fillPipeline(conn); err != nil {
				s.log.Debug("request send failed", zap.Error(err))
				return
			}
		}

		msg, err := s.readFrameBlocking(conn, inactivityTimeout)
		if err != nil {
			s.log.Debug("read failed", zap.Error(err))
			return
		}
		if msg == nil {
			lastActivity = time.Now()
			continue
		}

		lastActivity = time.Now()
		if done := s.handleMessage(conn, msg); done {
			return
		}
	}
}

// acquirePiece pulls pieces from storage, skipping (by re-enqueuing) any
// the peer's bitfield says it doesn't have, unless the download is in
// endgame (missing pieces <= endgameThreshold), in which case availability
// is ignored so the last few pieces can be requested from every peer. It
// gives up after one full lap of the queue with nothing servable, or if
// termination is requested, rather than spinning the queue indefinitely.
func (s *PeerSession) acquirePiece() (*piece.Piece, bool) {
	firstSeen := -1
	for {
		if s.terminated.Load() {
			return nil, false
		}

		p, ok := s.storage.Next()
		if !ok {
			return nil, false
		}

		endgame := len(s.storage.MissingPieces()) <= endgameThreshold
		if endgame || s.peerHasPiece(p.Index()) {
			return p, true
		}

		if firstSeen == -1 {
			firstSeen = p.Index()
		} else if p.Index() == firstSeen {
			s.storage.Enqueue(p)
			return nil, false
		}
		s.storage.Enqueue(p)
	}
}

func (s *PeerSession) peerHasPiece(index int) bool {
	if s.remoteBitfield == nil {
		return true // no bitfield received yet: optimistically try
	}
	return s.remoteBitfield.HasPiece(index)
}

// fillPipeline sends Requests for Missing blocks until MaxInflight
// requests are outstanding or the piece has no more Missing blocks.
func (s *PeerSession) fillPipeline(conn *transport.TCP) error {
	for len(s.inflight) < MaxInflight {
		block, ok := s.pieceInProgress.TakeNextMissingBlock()
		if !ok {
			return nil
		}
		req := wire.NewRequest(block.PieceIndex, block.Offset, block.Length)
		if err := conn.Write(req.Serialize()); err != nil {
			return err
		}
		s.inflight = append(s.inflight, inflightRequest{offset: block.Offset, requestedAt: time.Now()})
	}
	return nil
}

// handleMessage applies one inbound frame to session state. It returns
// true when the session must stop (fatal condition already logged by the
// caller's read path; this only covers in-loop termination cases).
func (s *PeerSession) handleMessage(conn *transport.TCP, msg *wire.Message) bool {
	switch msg.ID {
	case wire.Choke:
		s.choked = true
		s.abandonPiece()
	case wire.Unchoke:
		s.choked = false
	case wire.Have:
		if idx, err := wire.ParseHave(msg); err == nil {
			s.ensureBitfield()
			s.remoteBitfield.SetPiece(idx)
		}
	case wire.BitfieldMsg:
		s.remoteBitfield = append(bitfield.Bitfield(nil), msg.Payload...)
	case wire.Piece:
		return s.handlePieceMessage(msg)
	default:
		// Interested, NotInterested, Cancel, Port: no client-side action.
	}
	return false
}

func (s *PeerSession) ensureBitfield() {
	if s.remoteBitfield == nil {
		s.remoteBitfield = bitfield.New(s.storage.TotalPieces())
	}
}

// handlePieceMessage applies an inbound Piece frame to the piece in
// progress. A block that fails to save (ErrUnexpectedBlock/ErrUnknownOffset,
// per spec.md §7) means the peer is misbehaving: the piece is returned to
// storage and the session is closed rather than left to spin on a peer that
// will keep sending bad data.
func (s *PeerSession) handlePieceMessage(msg *wire.Message) bool {
	index, offset, data, err := wire.ParsePiece(msg)
	if err != nil || s.pieceInProgress == nil || s.pieceInProgress.Index() != index {
		return false
	}

	if err := s.pieceInProgress.SaveBlock(offset, data); err != nil {
		s.log.Debug("save block failed, closing session", zap.Error(err))
		s.abandonPiece()
		return true
	}
	s.removeInflight(offset)

	if !s.pieceInProgress.AllRetrieved() {
		return false
	}

	p := s.pieceInProgress
	s.pieceInProgress = nil
	s.inflight = nil
	if err := s.storage.PieceProcessed(p); err != nil {
		s.log.Warn("piece processing failed", zap.Int("index", p.Index()), zap.Error(err))
	}
	return false
}

func (s *PeerSession) removeInflight(offset int) {
	for i, r := range s.inflight {
		if r.offset == offset {
			s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
			return
		}
	}
}

// abandonPiece resets and returns the in-progress piece to storage, per
// the choke/timeout/error failure semantics of spec.md §4.9.
func (s *PeerSession) abandonPiece() {
	if s.pieceInProgress == nil {
		return
	}
	s.pieceInProgress.Reset()
	s.storage.Enqueue(s.pieceInProgress)
	s.pieceInProgress = nil
	s.inflight = nil
}

// releaseInProgress is the Terminate()/fatal-error-path guarantee that the
// in-progress piece is never dropped without being returned to storage.
func (s *PeerSession) releaseInProgress() {
	s.abandonPiece()
}

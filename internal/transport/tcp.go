// Package transport implements the blocking TCP and UDP transports the
// wire codec and tracker clients run over: connect with an explicit
// timeout, length-prefixed frame reads, and a cooperative, thread-safe
// close.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/atomic"

	"github.com/torrentleech/leech/internal/wire"
)

// Sentinel errors surfaced by TCP transport operations.
var (
	ErrConnectTimeout  = errors.New("transport: connect timeout")
	ErrReadTimeout     = errors.New("transport: read timeout")
	ErrConnectionClosed = errors.New("transport: connection closed")
)

// TCP is a blocking TCP connection with explicit connect and read
// timeouts. Close is safe to call from any goroutine while a read is in
// progress: it shuts the socket down in both directions so the blocked
// read returns immediately.
type TCP struct {
	conn        net.Conn
	readTimeout time.Duration
	terminated  atomic.Bool

	// frameBuf accumulates bytes read for the frame currently in progress,
	// across however many ReadFrame calls it takes for the peer to finish
	// sending it. It is never discarded on a timeout: only a fully decoded
	// frame advances it.
	frameBuf []byte
}

// DialTCP connects to addr within connectTimeout and returns a TCP
// transport that applies readTimeout to every subsequent read.
func DialTCP(addr string, connectTimeout, readTimeout time.Duration) (*TCP, error) {
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &TCP{conn: conn, readTimeout: readTimeout}, nil
}

// Write sends data on the connection.
func (t *TCP) Write(data []byte) error {
	if t.terminated.Load() {
		return ErrConnectionClosed
	}
	_, err := t.conn.Write(data)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// ReadExact reads exactly n bytes, bounded by the transport's read
// timeout. Used for the fixed-size handshake.
func (t *TCP) ReadExact(n int) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return nil, fmt.Errorf("transport: set deadline: %w", err)
	}
	buf := make([]byte, n)
	if _, err := readFull(t.conn, buf); err != nil {
		return nil, t.classifyReadErr(err)
	}
	return buf, nil
}

// ReadFrame reads one length-prefixed peer wire frame, bounded by the
// transport's read timeout and wire.MaxFrameSize. A frame whose body
// hasn't fully arrived within one read timeout is NOT abandoned mid-stream:
// ReadFrame returns ErrReadTimeout and retains whatever bytes it has
// buffered so far, and the next call picks up exactly where this one left
// off. Callers that poll ReadFrame in a retry loop (see
// session.readFrameBlocking) therefore never resync onto a mid-frame
// offset.
func (t *TCP) ReadFrame() (*wire.Message, error) {
	if msg, consumed, ok, err := wire.TryParseFrame(t.frameBuf); err != nil {
		return nil, err
	} else if ok {
		t.frameBuf = t.frameBuf[consumed:]
		return msg, nil
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return nil, fmt.Errorf("transport: set deadline: %w", err)
	}
	buf := make([]byte, 4096)
	n, err := t.conn.Read(buf)
	if n > 0 {
		t.frameBuf = append(t.frameBuf, buf[:n]...)
	}
	if err != nil {
		return nil, t.classifyReadErr(err)
	}

	msg, consumed, ok, perr := wire.TryParseFrame(t.frameBuf)
	if perr != nil {
		return nil, perr
	}
	if ok {
		t.frameBuf = t.frameBuf[consumed:]
		return msg, nil
	}
	return nil, fmt.Errorf("%w: frame still incomplete", ErrReadTimeout)
}

func (t *TCP) classifyReadErr(err error) error {
	if t.terminated.Load() {
		return ErrConnectionClosed
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return fmt.Errorf("%w: %s", ErrReadTimeout, err)
	}
	return fmt.Errorf("%w: %s", ErrConnectionClosed, err)
}

// Close sets the terminated flag and shuts the socket down in both
// directions so any blocked read returns. Idempotent.
func (t *TCP) Close() error {
	if t.terminated.Swap(true) {
		return nil
	}
	if tcpConn, ok := t.conn.(interface{ CloseRead() error }); ok {
		_ = tcpConn.CloseRead()
	}
	return t.conn.Close()
}

// Terminated reports whether Close has been called.
func (t *TCP) Terminated() bool {
	return t.terminated.Load()
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

package transport

import (
	"fmt"
	"net"
	"time"
)

// UDP is a connected UDP socket that sends one datagram and waits for one
// reply within a timeout, as used by the BEP-15 tracker protocol.
type UDP struct {
	conn    net.Conn
	timeout time.Duration
}

// DialUDP connects to addr (host:port) for later SendReceive calls, each
// bounded by timeout.
func DialUDP(addr string, timeout time.Duration) (*UDP, error) {
	conn, err := net.DialTimeout("udp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
	}
	return &UDP{conn: conn, timeout: timeout}, nil
}

// SendReceive writes request and returns the next datagram received,
// bounded by the transport's timeout.
func (u *UDP) SendReceive(request []byte) ([]byte, error) {
	if _, err := u.conn.Write(request); err != nil {
		return nil, fmt.Errorf("transport: udp write: %w", err)
	}
	if err := u.conn.SetReadDeadline(time.Now().Add(u.timeout)); err != nil {
		return nil, fmt.Errorf("transport: udp set deadline: %w", err)
	}

	buf := make([]byte, 4096)
	n, err := u.conn.Read(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, fmt.Errorf("%w: %s", ErrReadTimeout, err)
		}
		return nil, fmt.Errorf("transport: udp read: %w", err)
	}
	return buf[:n], nil
}

// Close closes the underlying socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}

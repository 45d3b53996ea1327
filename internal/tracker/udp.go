package tracker

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/torrentleech/leech/internal/byteconv"
	"github.com/torrentleech/leech/internal/transport"
)

// ErrProtocolMismatch is returned when a UDP tracker's response carries a
// transaction id or action that doesn't match what was sent.
var ErrProtocolMismatch = errors.New("tracker: udp protocol mismatch")

const (
	udpProtocolID   uint64 = 0x41727101980
	actionConnect   uint32 = 0
	actionAnnounce  uint32 = 1
	actionError     uint32 = 3
	udpReceiveTimeout = 8 * time.Second
)

// AnnounceUDP performs the BEP-15 two-phase connect/announce against
// hostport and returns the compact peer list.
func AnnounceUDP(hostport string, infoHash, peerID [20]byte, downloaded, left, uploaded int64, port uint16) ([]Peer, error) {
	conn, err := transport.DialUDP(hostport, udpReceiveTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, err)
	}
	defer conn.Close()

	connID, err := udpConnect(conn)
	if err != nil {
		return nil, err
	}

	return udpAnnounce(conn, connID, infoHash, peerID, downloaded, left, uploaded, port)
}

func newTransactionID() uint32 {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return binary.BigEndian.Uint32(buf[:])
}

func udpConnect(conn *transport.UDP) (uint64, error) {
	txnID := newTransactionID()

	req := make([]byte, 0, 16)
	req = append(req, byteconv.Uint64ToBytes(udpProtocolID)...)
	req = append(req, byteconv.Uint32ToBytes(actionConnect)...)
	req = append(req, byteconv.Uint32ToBytes(txnID)...)

	resp, err := conn.SendReceive(req)
	if err != nil {
		return 0, fmt.Errorf("%w: connect: %s", ErrTrackerFailure, err)
	}
	if len(resp) < 16 {
		return 0, fmt.Errorf("%w: connect response too small (%d bytes)", ErrTrackerFailure, len(resp))
	}

	respAction := byteconv.BytesToUint32(resp[0:4])
	respTxn := byteconv.BytesToUint32(resp[4:8])
	if respTxn != txnID {
		return 0, fmt.Errorf("%w: connect transaction id mismatch", ErrProtocolMismatch)
	}
	if respAction != actionConnect {
		return 0, fmt.Errorf("%w: connect action %d", ErrProtocolMismatch, respAction)
	}

	return byteconv.BytesToUint64(resp[8:16]), nil
}

// buildAnnounceRequest constructs the 98-byte BEP-15 announce packet. port
// is encoded as a big-endian uint16 occupying only the request's last two
// bytes, per spec.md §9 (NOT a 4-byte field with the port in its low half).
func buildAnnounceRequest(connID uint64, infoHash, peerID [20]byte, downloaded, left, uploaded int64, txnID, key uint32, port uint16) []byte {
	req := make([]byte, 0, 98)
	req = append(req, byteconv.Uint64ToBytes(connID)...)
	req = append(req, byteconv.Uint32ToBytes(actionAnnounce)...)
	req = append(req, byteconv.Uint32ToBytes(txnID)...)
	req = append(req, infoHash[:]...)
	req = append(req, peerID[:]...)
	req = append(req, byteconv.Uint64ToBytes(uint64(downloaded))...)
	req = append(req, byteconv.Uint64ToBytes(uint64(left))...)
	req = append(req, byteconv.Uint64ToBytes(uint64(uploaded))...)
	req = append(req, byteconv.Uint32ToBytes(0)...) // event: none
	req = append(req, byteconv.Uint32ToBytes(0)...) // ip: default
	req = append(req, byteconv.Uint32ToBytes(key)...)
	req = append(req, byteconv.Uint32ToBytes(uint32(0xFFFFFFFF))...) // num_want: default/unlimited, -1 as uint32
	var portField [2]byte
	binary.BigEndian.PutUint16(portField[:], port)
	req = append(req, portField[:]...)
	return req
}

func udpAnnounce(conn *transport.UDP, connID uint64, infoHash, peerID [20]byte, downloaded, left, uploaded int64, port uint16) ([]Peer, error) {
	txnID := newTransactionID()
	req := buildAnnounceRequest(connID, infoHash, peerID, downloaded, left, uploaded, txnID, newTransactionID(), port)

	resp, err := conn.SendReceive(req)
	if err != nil {
		return nil, fmt.Errorf("%w: announce: %s", ErrTrackerFailure, err)
	}
	if len(resp) < 20 {
		return nil, fmt.Errorf("%w: announce response too small (%d bytes)", ErrTrackerFailure, len(resp))
	}

	respAction := byteconv.BytesToUint32(resp[0:4])
	respTxn := byteconv.BytesToUint32(resp[4:8])

	if respAction == actionError {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, string(resp[8:]))
	}
	if respTxn != txnID {
		return nil, fmt.Errorf("%w: announce transaction id mismatch", ErrProtocolMismatch)
	}
	if respAction != actionAnnounce {
		return nil, fmt.Errorf("%w: announce action %d", ErrProtocolMismatch, respAction)
	}

	return parseCompactPeers(resp[20:])
}

// UDPHostPort extracts the host:port dial target from a udp:// announce
// URL, e.g. "udp://tracker.example.com:80/announce" -> "tracker.example.com:80".
func UDPHostPort(announceURL string) (string, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrTrackerFailure, err)
	}
	host := u.Hostname()
	p := u.Port()
	if p == "" {
		p = "80"
	}
	if _, err := strconv.Atoi(p); err != nil {
		return "", fmt.Errorf("%w: invalid port %q", ErrTrackerFailure, p)
	}
	return host + ":" + p, nil
}

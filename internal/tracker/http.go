package tracker

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bencodego "github.com/jackpal/bencode-go"
)

const (
	httpConnectTimeout = 5 * time.Second
	httpTotalTimeout    = 10 * time.Second
)

// httpResponse mirrors the bencoded tracker response's relevant fields.
type httpResponse struct {
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
	Failure  string `bencode:"failure reason"`
}

// AnnounceHTTP issues a BEP-3 GET against announceURL and returns the
// compact peer list. info_hash and peerID are percent-encoded as opaque
// 20-byte values, never interpreted as UTF-8.
func AnnounceHTTP(announceURL string, infoHash, peerID [20]byte, port uint16, left int64) ([]Peer, error) {
	reqURL, err := buildHTTPURL(announceURL, infoHash, peerID, port, left)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, err)
	}

	client := &http.Client{
		Timeout: httpTotalTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: httpConnectTimeout}).DialContext,
		},
	}
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, err)
	}
	defer resp.Body.Close()

	var tr httpResponse
	if err := bencodego.Unmarshal(resp.Body, &tr); err != nil {
		return nil, fmt.Errorf("%w: malformed tracker response: %s", ErrTrackerFailure, err)
	}
	if tr.Failure != "" {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, tr.Failure)
	}

	return parseCompactPeers([]byte(tr.Peers))
}

func buildHTTPURL(announceURL string, infoHash, peerID [20]byte, port uint16, left int64) (string, error) {
	base, err := url.Parse(announceURL)
	if err != nil {
		return "", err
	}

	q := url.Values{
		"port":       {strconv.Itoa(int(port))},
		"uploaded":   {"0"},
		"downloaded": {"0"},
		"left":       {strconv.FormatInt(left, 10)},
		"compact":    {"1"},
	}
	base.RawQuery = q.Encode()
	base.RawQuery += "&info_hash=" + percentEncodeBytes(infoHash[:])
	base.RawQuery += "&peer_id=" + percentEncodeBytes(peerID[:])
	return base.String(), nil
}

// percentEncodeBytes percent-encodes raw bytes, treating them as opaque
// binary rather than UTF-8 text.
func percentEncodeBytes(b []byte) string {
	var buf bytes.Buffer
	const hex = "0123456789ABCDEF"
	for _, c := range b {
		buf.WriteByte('%')
		buf.WriteByte(hex[c>>4])
		buf.WriteByte(hex[c&0xF])
	}
	return buf.String()
}

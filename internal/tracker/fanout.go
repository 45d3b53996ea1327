package tracker

import (
	"fmt"
	"net/url"

	"go.uber.org/multierr"
)

// BackupUDPTrackers is the orchestrator's static list of fallback UDP
// trackers, queried alongside the torrent's declared announce URL.
var BackupUDPTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://exodus.desync.com:6969/announce",
	"udp://tracker.torrent.eu.org:451/announce",
}

// FanOut queries announceURL plus every backup UDP tracker, aggregates
// their peers, and deduplicates by (ip, port). Per-tracker failures are
// collected with multierr and returned alongside any peers found; the
// caller decides whether an empty peer list with errors is fatal.
func FanOut(announceURL string, infoHash, peerID [20]byte, selfPort uint16, left int64) ([]Peer, error) {
	urls := uniqueStrings(append([]string{announceURL}, BackupUDPTrackers...))

	var (
		all  []Peer
		errs error
	)
	for _, u := range urls {
		peers, err := announceOne(u, infoHash, peerID, selfPort, left)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		all = append(all, peers...)
	}

	return Dedup(all), errs
}

func announceOne(announceURL string, infoHash, peerID [20]byte, selfPort uint16, left int64) ([]Peer, error) {
	parsed, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, err)
	}

	switch parsed.Scheme {
	case "http", "https":
		return AnnounceHTTP(announceURL, infoHash, peerID, selfPort, left)
	case "udp":
		hostport, err := UDPHostPort(announceURL)
		if err != nil {
			return nil, err
		}
		return AnnounceUDP(hostport, infoHash, peerID, 0, left, 0, selfPort)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrTrackerFailure, parsed.Scheme)
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

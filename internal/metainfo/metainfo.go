// Package metainfo loads an immutable TorrentMeta from a .torrent file's
// bencoded bytes.
package metainfo

import (
	"bytes"
	"fmt"
	"io"
	"os"

	bencodego "github.com/jackpal/bencode-go"

	"github.com/torrentleech/leech/internal/bencode"
	"github.com/torrentleech/leech/internal/sha1sum"
)

// TorrentMeta is the immutable metadata the rest of the client is built
// around.
type TorrentMeta struct {
	Name        string
	TotalLength int64
	PieceLength int64
	PieceHashes [][20]byte
	InfoHash    [20]byte
	AnnounceURL string
}

// envelope mirrors the outer bencode dictionary fields bencode-go can
// decode by struct tag; it does not need byte offsets.
type envelope struct {
	Announce string `bencode:"announce"`
	Info     struct {
		Name        string `bencode:"name"`
		Length      int64  `bencode:"length"`
		PieceLength int64  `bencode:"piece length"`
		Pieces      string `bencode:"pieces"`
	} `bencode:"info"`
}

// Load parses the .torrent file at path into a TorrentMeta.
func Load(path string) (*TorrentMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes raw bencoded bytes into a TorrentMeta. It uses bencode-go
// for the envelope fields and the hand-rolled internal/bencode decoder to
// compute the info-hash over the exact raw bytes of the "info" dictionary,
// since bencode-go offers no byte-offset hook (see DESIGN.md).
func Parse(raw []byte) (*TorrentMeta, error) {
	var env envelope
	if err := bencodego.Unmarshal(bytes.NewReader(raw), &env); err != nil {
		return nil, fmt.Errorf("metainfo: %w", bencode.ErrMalformedInput)
	}

	decoded, err := bencode.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !decoded.HasInfoHash {
		return nil, fmt.Errorf("metainfo: %w: no info dictionary", bencode.ErrMalformedInput)
	}
	infoHash := sha1sum.Sum(raw[decoded.InfoStart:decoded.InfoEnd])

	pieceHashes, err := bencode.PieceHashes(decoded.Tokens)
	if err != nil {
		return nil, err
	}

	expected := (env.Info.Length + env.Info.PieceLength - 1) / env.Info.PieceLength
	if int64(len(pieceHashes)) != expected {
		return nil, fmt.Errorf("%w: expected %d piece hashes, got %d", bencode.ErrMalformedInput, expected, len(pieceHashes))
	}

	return &TorrentMeta{
		Name:        env.Info.Name,
		TotalLength: env.Info.Length,
		PieceLength: env.Info.PieceLength,
		PieceHashes: pieceHashes,
		InfoHash:    infoHash,
		AnnounceURL: env.Announce,
	}, nil
}

// ParseReader is a convenience wrapper over Parse for callers holding an
// io.Reader instead of a byte slice.
func ParseReader(r io.Reader) (*TorrentMeta, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}
	return Parse(raw)
}

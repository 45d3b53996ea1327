package metainfo

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torrentleech/leech/internal/bencode"
	"github.com/torrentleech/leech/internal/sha1sum"
)

func bencodeStr(s string) string {
	return fmt.Sprintf("%d:%s", len(s), s)
}

func buildTorrentBytes(t *testing.T, announce, name string, length, pieceLength int64, pieces []byte) []byte {
	t.Helper()
	info := "d" +
		bencodeStr("length") + fmt.Sprintf("i%de", length) +
		bencodeStr("name") + bencodeStr(name) +
		bencodeStr("piece length") + fmt.Sprintf("i%de", pieceLength) +
		bencodeStr("pieces") + bencodeStr(string(pieces)) +
		"e"
	raw := "d" +
		bencodeStr("announce") + bencodeStr(announce) +
		bencodeStr("info") + info +
		"e"
	return []byte(raw)
}

func TestParseExtractsMetaAndInfoHash(t *testing.T) {
	pieces := make([]byte, 20)
	raw := buildTorrentBytes(t, "http://tracker.test/announce", "a.txt", 10, 10, pieces)

	meta, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", meta.Name)
	assert.Equal(t, int64(10), meta.TotalLength)
	assert.Equal(t, int64(10), meta.PieceLength)
	assert.Equal(t, "http://tracker.test/announce", meta.AnnounceURL)
	require.Len(t, meta.PieceHashes, 1)

	decoded, err := bencode.Decode(raw)
	require.NoError(t, err)
	require.True(t, decoded.HasInfoHash)
	want := sha1sum.Sum(raw[decoded.InfoStart:decoded.InfoEnd])
	assert.Equal(t, want, meta.InfoHash)
}

func TestParseRejectsMismatchedPieceCount(t *testing.T) {
	pieces := make([]byte, 20) // only one hash, but length implies two pieces
	raw := buildTorrentBytes(t, "http://tracker.test/announce", "a.txt", 15, 10, pieces)

	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParseRejectsMalformedBencode(t *testing.T) {
	_, err := Parse([]byte("not bencode"))
	require.Error(t, err)
}

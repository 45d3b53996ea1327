package bencode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bencodeStr(s string) string {
	return fmt.Sprintf("%d:%s", len(s), s)
}

func TestDecodeFlattensDictAndScalars(t *testing.T) {
	announce := "http://tracker.test/a"
	raw := []byte("d" +
		bencodeStr("announce") + bencodeStr(announce) +
		bencodeStr("info") + "d" +
		bencodeStr("length") + "i10e" +
		bencodeStr("name") + bencodeStr("a.txt") +
		bencodeStr("piece length") + "i5e" +
		bencodeStr("pieces") + bencodeStr("") +
		"e" +
		"e")
	d, err := Decode(raw)
	require.NoError(t, err)
	assert.Contains(t, d.Tokens, "announce")
	assert.Contains(t, d.Tokens, announce)
	assert.Contains(t, d.Tokens, "name")
	assert.Contains(t, d.Tokens, "a.txt")
	assert.True(t, d.HasInfoHash)
}

func TestDecodeCapturesInfoDictByteRange(t *testing.T) {
	raw := []byte("d4:infod6:lengthi10eee")
	d, err := Decode(raw)
	require.NoError(t, err)
	require.True(t, d.HasInfoHash)
	assert.Equal(t, "d6:lengthi10ee", string(raw[d.InfoStart:d.InfoEnd]))
}

func TestDecodeRejectsTruncatedString(t *testing.T) {
	_, err := Decode([]byte("5:ab"))
	assert.True(t, errors.Is(err, ErrMalformedInput))
}

func TestDecodeRejectsUnterminatedList(t *testing.T) {
	_, err := Decode([]byte("l1:ai1e"))
	assert.True(t, errors.Is(err, ErrMalformedInput))
}

func TestDecodeRejectsBadTypePrefix(t *testing.T) {
	_, err := Decode([]byte("x"))
	assert.True(t, errors.Is(err, ErrMalformedInput))
}

func TestPieceHashesSplitsIntoTwentyByteChunks(t *testing.T) {
	raw := make([]byte, 40)
	for i := range raw {
		raw[i] = byte(i)
	}
	tokens := []string{"pieces", string(raw)}
	hashes, err := PieceHashes(tokens)
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	assert.Equal(t, raw[:20], hashes[0][:])
	assert.Equal(t, raw[20:], hashes[1][:])
}

func TestPieceHashesRejectsMisalignedLength(t *testing.T) {
	_, err := PieceHashes([]string{"pieces", "short"})
	assert.True(t, errors.Is(err, ErrMalformedInput))
}

func TestPieceHashesRejectsMissingKey(t *testing.T) {
	_, err := PieceHashes([]string{"name", "a.txt"})
	assert.True(t, errors.Is(err, ErrMalformedInput))
}

func TestValueLooksUpFirstOccurrence(t *testing.T) {
	tokens := []string{"name", "a.txt", "length", "10"}
	v, ok := Value(tokens, "length")
	require.True(t, ok)
	assert.Equal(t, "10", v)

	_, ok = Value(tokens, "missing")
	assert.False(t, ok)
}

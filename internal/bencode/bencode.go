// Package bencode decodes bencoded byte streams into the flat key/value
// token sequence the metainfo loader walks, and captures the info-hash
// over the raw bytes of the "info" dictionary as it appeared on disk.
package bencode

import (
	"errors"
	"fmt"
)

// ErrMalformedInput is returned for truncated input, invalid header bytes,
// or non-numeric string lengths.
var ErrMalformedInput = errors.New("bencode: malformed input")

// Decoded is the result of decoding a bencoded byte slice: a flat,
// encounter-order sequence of strings (integers stringified, list/dict
// entries appended as they're seen), plus the byte range of the "info"
// dictionary if one was found at the top level.
type Decoded struct {
	Tokens      []string
	InfoStart   int
	InfoEnd     int
	HasInfoHash bool
}

// decoder walks a single bencoded byte slice, left to right, with no
// backtracking.
type decoder struct {
	data  []byte
	pos   int
	toks  []string
	depth int // nesting level of the list/dict being decoded; 1 is top level
	start int
	end   int
	found bool
}

// Decode parses data and returns its flat token stream plus the raw byte
// range of the top-level "info" dictionary, when present.
func Decode(data []byte) (*Decoded, error) {
	d := &decoder{data: data}
	if _, err := d.value(); err != nil {
		return nil, err
	}
	return &Decoded{
		Tokens:      d.toks,
		InfoStart:   d.start,
		InfoEnd:     d.end,
		HasInfoHash: d.found,
	}, nil
}

// value decodes the constructor at the current position. It returns the
// decoded string for integers and byte-strings (used by dict-key lookahead)
// and an empty string for lists and dicts, whose contents are appended to
// d.toks directly.
func (d *decoder) value() (string, error) {
	if d.pos >= len(d.data) {
		return "", fmt.Errorf("%w: unexpected end of input", ErrMalformedInput)
	}

	switch c := d.data[d.pos]; {
	case c >= '0' && c <= '9':
		return d.byteString()
	case c == 'i':
		return d.integer()
	case c == 'l':
		d.depth++
		err := d.list()
		d.depth--
		return "", err
	case c == 'd':
		d.depth++
		err := d.dict()
		d.depth--
		return "", err
	default:
		return "", fmt.Errorf("%w: invalid type prefix %q at offset %d", ErrMalformedInput, c, d.pos)
	}
}

func (d *decoder) readUntil(delim byte) (string, error) {
	start := d.pos
	for d.pos < len(d.data) && d.data[d.pos] != delim {
		d.pos++
	}
	if d.pos >= len(d.data) {
		return "", fmt.Errorf("%w: missing delimiter %q", ErrMalformedInput, delim)
	}
	s := string(d.data[start:d.pos])
	d.pos++ // consume delimiter
	return s, nil
}

func (d *decoder) byteString() (string, error) {
	lenStr, err := d.readUntil(':')
	if err != nil {
		return "", err
	}
	n := 0
	if len(lenStr) == 0 {
		return "", fmt.Errorf("%w: empty string length", ErrMalformedInput)
	}
	for _, r := range lenStr {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: non-numeric string length %q", ErrMalformedInput, lenStr)
		}
		n = n*10 + int(r-'0')
	}
	if d.pos+n > len(d.data) {
		return "", fmt.Errorf("%w: string of length %d truncated", ErrMalformedInput, n)
	}
	s := string(d.data[d.pos : d.pos+n])
	d.pos += n
	d.toks = append(d.toks, s)
	return s, nil
}

func (d *decoder) integer() (string, error) {
	d.pos++ // consume 'i'
	s, err := d.readUntil('e')
	if err != nil {
		return "", err
	}
	d.toks = append(d.toks, s)
	return s, nil
}

func (d *decoder) list() error {
	d.pos++ // consume 'l'
	for {
		if d.pos >= len(d.data) {
			return fmt.Errorf("%w: unterminated list", ErrMalformedInput)
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return nil
		}
		if _, err := d.value(); err != nil {
			return err
		}
	}
}

// dict decodes a dictionary, tracking the raw byte span of the value
// immediately following a top-level "info" key.
func (d *decoder) dict() error {
	d.pos++ // consume 'd'
	var pendingInfo bool
	for {
		if d.pos >= len(d.data) {
			return fmt.Errorf("%w: unterminated dict", ErrMalformedInput)
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			if pendingInfo {
				d.end = d.pos - 1
				d.found = true
			}
			return nil
		}

		key, err := d.value()
		if err != nil {
			return err
		}

		valueStart := d.pos
		if key == "info" && d.depth == 1 {
			pendingInfo = true
			d.start = valueStart
		}
		if _, err := d.value(); err != nil {
			return err
		}
		if pendingInfo {
			d.end = d.pos
			d.found = true
			pendingInfo = false
		}
	}
}

// PieceHashes splits the value following the "pieces" key into its 20-byte
// SHA-1 chunks.
func PieceHashes(tokens []string) ([][20]byte, error) {
	for i, tok := range tokens {
		if tok != "pieces" || i+1 >= len(tokens) {
			continue
		}
		data := []byte(tokens[i+1])
		if len(data)%20 != 0 {
			return nil, fmt.Errorf("%w: pieces value length %d not a multiple of 20", ErrMalformedInput, len(data))
		}
		hashes := make([][20]byte, len(data)/20)
		for j := range hashes {
			copy(hashes[j][:], data[j*20:j*20+20])
		}
		return hashes, nil
	}
	return nil, fmt.Errorf("%w: no pieces key found", ErrMalformedInput)
}

// Value looks up the first occurrence of key in the flat token stream and
// returns the token that follows it.
func Value(tokens []string, key string) (string, bool) {
	for i, tok := range tokens {
		if tok == key && i+1 < len(tokens) {
			return tokens[i+1], true
		}
	}
	return "", false
}

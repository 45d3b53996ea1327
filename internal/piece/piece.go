// Package piece implements a single piece's block bookkeeping: partitioning
// into 16 KiB blocks, block save/reset, and SHA-1 verification.
package piece

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/torrentleech/leech/internal/sha1sum"
)

// BlockSize is the maximum size of a single block.
const BlockSize = 16 * 1024

// Status is a block's lifecycle state.
type Status int

// Block lifecycle states.
const (
	Missing Status = iota
	Pending
	Retrieved
)

// Sentinel errors for SaveBlock.
var (
	ErrUnknownOffset   = errors.New("piece: unknown block offset")
	ErrUnexpectedBlock = errors.New("piece: block not pending")
)

// Block describes one block of a piece, with its data once Retrieved.
type Block struct {
	PieceIndex int
	Offset     int
	Length     int
	Status     Status
	Data       []byte
}

// Piece is a mutable, shared-ownership chunk of the torrent's content,
// identified by its expected SHA-1 hash. At most one goroutine is expected
// to hold a Piece's reference at a time; internal bookkeeping is still
// mutex-guarded because Reset/SaveBlock/TakeNextMissingBlock can race
// against diagnostic readers.
type Piece struct {
	mu              sync.Mutex
	index           int
	length          int
	hash            [20]byte
	blocks          []Block
	bytesDownloaded int
}

// New partitions length bytes into blocks of at most BlockSize, the last
// one possibly shorter.
func New(index, length int, hash [20]byte) *Piece {
	p := &Piece{index: index, length: length, hash: hash}
	offset := 0
	for offset < length {
		blockLen := BlockSize
		if length-offset < blockLen {
			blockLen = length - offset
		}
		p.blocks = append(p.blocks, Block{
			PieceIndex: index,
			Offset:     offset,
			Length:     blockLen,
			Status:     Missing,
		})
		offset += blockLen
	}
	return p
}

// Index returns the piece's index.
func (p *Piece) Index() int { return p.index }

// Length returns the piece's total byte length.
func (p *Piece) Length() int { return p.length }

// Hash returns the piece's expected SHA-1 hash.
func (p *Piece) Hash() [20]byte { return p.hash }

// BytesDownloaded returns the sum of the lengths of all Retrieved blocks.
func (p *Piece) BytesDownloaded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesDownloaded
}

// TakeNextMissingBlock transitions the first Missing block (in offset
// order) to Pending and returns its descriptor. It returns (Block{}, false)
// when no Missing block remains.
func (p *Piece) TakeNextMissingBlock() (Block, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.blocks {
		if p.blocks[i].Status == Missing {
			p.blocks[i].Status = Pending
			return p.blocks[i], true
		}
	}
	return Block{}, false
}

// SaveBlock stores data for the block at offset, transitioning it
// Pending->Retrieved. It fails with ErrUnknownOffset if no block matches
// offset, and ErrUnexpectedBlock if the matching block is not Pending
// (e.g. already Retrieved); a block must never be overwritten in place.
func (p *Piece) SaveBlock(offset int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.blocks {
		if p.blocks[i].Offset != offset {
			continue
		}
		if p.blocks[i].Status != Pending {
			return fmt.Errorf("%w: offset %d", ErrUnexpectedBlock, offset)
		}
		p.blocks[i].Data = data
		p.blocks[i].Status = Retrieved
		p.bytesDownloaded += len(data)
		return nil
	}
	return fmt.Errorf("%w: offset %d", ErrUnknownOffset, offset)
}

// AllRetrieved reports whether every block is Retrieved.
func (p *Piece) AllRetrieved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allRetrievedLocked()
}

func (p *Piece) allRetrievedLocked() bool {
	for _, b := range p.blocks {
		if b.Status != Retrieved {
			return false
		}
	}
	return true
}

// Data concatenates block data in offset order. Missing positions
// contribute zero-padding for diagnostic purposes only; callers must not
// treat the result of a partially-retrieved piece as meaningful. Use
// HashMatches to check completeness and validity together.
func (p *Piece) Data() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, 0, p.length)
	for _, b := range p.blocks {
		if b.Status == Retrieved {
			buf = append(buf, b.Data...)
		} else {
			buf = append(buf, make([]byte, b.Length)...)
		}
	}
	return buf
}

// HashMatches reports whether every block is Retrieved and the SHA-1 of
// their concatenation equals the expected hash.
func (p *Piece) HashMatches() bool {
	p.mu.Lock()
	if !p.allRetrievedLocked() {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	sum := sha1sum.Sum(p.Data())
	return bytes.Equal(sum[:], p.hash[:])
}

// Reset returns every block to Missing, releases their buffers, and zeros
// BytesDownloaded.
func (p *Piece) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.blocks {
		p.blocks[i].Status = Missing
		p.blocks[i].Data = nil
	}
	p.bytesDownloaded = 0
}

// IsDownloading reports whether any block is currently Pending.
func (p *Piece) IsDownloading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.blocks {
		if b.Status == Pending {
			return true
		}
	}
	return false
}

// BlockCount returns the number of blocks the piece was partitioned into.
func (p *Piece) BlockCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

// Package storage implements PieceStorage: the thread-safe work queue of
// outstanding pieces, the saved-piece set, and the sparse random-access
// output file writer.
package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/torrentleech/leech/internal/metainfo"
	"github.com/torrentleech/leech/internal/piece"
)

// Diagnostics is a point-in-time summary of a PieceStorage, used for
// end-of-run and incomplete-download reporting.
type Diagnostics struct {
	Total   int
	Saved   int
	Queued  int
	Missing []int
}

// Storage is the process-wide, shared piece work queue and output file.
// Two independent mutexes guard its two domains (queue; file + saved set)
// so neither is held across the other's I/O.
type Storage struct {
	pieceLength int
	totalLength int64
	hashes      [][20]byte

	queueMu sync.Mutex
	queue   []*piece.Piece

	fileMu sync.Mutex
	file   *os.File
	saved  map[int]bool
}

// Open creates one Piece per hash from meta (the last one shorter if
// TotalLength isn't a multiple of PieceLength), enqueues them in index
// order, and truncates the output file at
// <outputDir>/<meta.Name> to meta.TotalLength. Opening failure is fatal.
func Open(meta *metainfo.TorrentMeta, outputDir string) (*Storage, error) {
	s := &Storage{
		pieceLength: int(meta.PieceLength),
		totalLength: meta.TotalLength,
		hashes:      meta.PieceHashes,
		saved:       make(map[int]bool),
	}

	for i := range meta.PieceHashes {
		s.queue = append(s.queue, s.newPiece(i))
	}

	path := outputDir + string(os.PathSeparator) + meta.Name
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if meta.TotalLength > 0 {
		if err := f.Truncate(meta.TotalLength); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: truncate %s: %w", path, err)
		}
	}
	s.file = f

	return s, nil
}

func (s *Storage) pieceLen(index int) int {
	total := len(s.hashes)
	if index < total-1 {
		return s.pieceLength
	}
	last := int(s.totalLength % int64(s.pieceLength))
	if last == 0 {
		return s.pieceLength
	}
	return last
}

func (s *Storage) newPiece(index int) *piece.Piece {
	return piece.New(index, s.pieceLen(index), s.hashes[index])
}

// TotalPieces returns the total number of pieces in the torrent.
func (s *Storage) TotalPieces() int {
	return len(s.hashes)
}

// Next dequeues the front Piece, or returns (nil, false) if the queue is
// empty.
func (s *Storage) Next() (*piece.Piece, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	return p, true
}

// Enqueue resets p and pushes it to the queue tail, unless its index is
// already in the saved set, in which case it's dropped silently.
func (s *Storage) Enqueue(p *piece.Piece) {
	if s.isSaved(p.Index()) {
		return
	}
	p.Reset()
	s.queueMu.Lock()
	s.queue = append(s.queue, p)
	s.queueMu.Unlock()
}

// PieceProcessed writes p to disk and marks it saved if its hash matches;
// otherwise it is reset and re-enqueued.
func (s *Storage) PieceProcessed(p *piece.Piece) error {
	if !p.HashMatches() {
		p.Reset()
		s.Enqueue(p)
		return nil
	}
	return s.savePieceToDisk(p)
}

// savePieceToDisk writes p's data at its offset under the file mutex. A
// piece already in the saved set is a no-op, so calling this twice for the
// same index is idempotent.
func (s *Storage) savePieceToDisk(p *piece.Piece) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	if s.saved[p.Index()] {
		return nil
	}

	offset := int64(p.Index()) * int64(s.pieceLength)
	data := p.Data()
	if _, err := s.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("storage: write piece %d at %d: %w", p.Index(), offset, err)
	}
	s.saved[p.Index()] = true
	return nil
}

func (s *Storage) isSaved(index int) bool {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return s.saved[index]
}

// IsComplete reports whether every piece has been saved.
func (s *Storage) IsComplete() bool {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return len(s.saved) == len(s.hashes)
}

// QueueIsEmpty reports whether the queue currently holds no piece. It does
// not imply no pieces are in flight with a session.
func (s *Storage) QueueIsEmpty() bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue) == 0
}

// SavedCount returns the number of pieces written and verified so far.
func (s *Storage) SavedCount() int {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return len(s.saved)
}

// MissingPieces returns the indices in [0, total) not yet saved, in
// ascending order.
func (s *Storage) MissingPieces() []int {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return s.missingLocked()
}

func (s *Storage) missingLocked() []int {
	var missing []int
	for i := range s.hashes {
		if !s.saved[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// ForceRequeueMissing drops the current queue and pushes a fresh Piece for
// every index not in the saved set. Acquires both mutexes; the file mutex
// is held only long enough to read the saved set.
func (s *Storage) ForceRequeueMissing() {
	s.fileMu.Lock()
	missing := s.missingLocked()
	s.fileMu.Unlock()

	fresh := make([]*piece.Piece, len(missing))
	for i, idx := range missing {
		fresh[i] = s.newPiece(idx)
	}

	s.queueMu.Lock()
	s.queue = fresh
	s.queueMu.Unlock()
}

// Diagnose returns a point-in-time summary of the storage's state.
func (s *Storage) Diagnose() Diagnostics {
	s.queueMu.Lock()
	queued := len(s.queue)
	s.queueMu.Unlock()

	s.fileMu.Lock()
	saved := len(s.saved)
	missing := s.missingLocked()
	s.fileMu.Unlock()

	return Diagnostics{
		Total:   len(s.hashes),
		Saved:   saved,
		Queued:  queued,
		Missing: missing,
	}
}

// Close flushes and closes the output file. Idempotent.
func (s *Storage) Close() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

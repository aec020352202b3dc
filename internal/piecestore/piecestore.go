// Package piecestore stages downloaded blocks, verifies pieces and writes them to disk.
//
// A Store is the only component that sets bits in the completion bitfield of a torrent.
// A bit is set after the piece hash matched and the piece has been written to its files,
// and it is never cleared.
package piecestore

import (
	"sync"

	"github.com/rcrowley/go-metrics"

	"github.com/swarmget/swarmget/internal/bitfield"
	"github.com/swarmget/swarmget/internal/bufferpool"
	"github.com/swarmget/swarmget/internal/filesection"
	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/piece"
)

// Block is a block received from a peer.
type Block struct {
	Index  uint32 // piece index
	Begin  uint32
	Data   []byte
	Source string // peer that sent the block
}

// Result describes what happened to a submitted block.
type Result struct {
	// Duplicate is set when the block was already staged or its piece is complete.
	Duplicate bool
	// Completed is set when the block completed its piece and the piece has been verified and written.
	Completed bool
	// HashFailed is set when the block completed its piece and the hash did not match.
	// Staged data is discarded and all blocks of the piece are needed again.
	HashFailed bool
	// Contributors are the sources of the blocks of a failed piece.
	Contributors []string
}

// Stats about a Store.
type Stats struct {
	StagedPieces int
	StagedBytes  int64
	Completed    uint32
	HashFailures int
	BytesWritten int64
	WriteSpeed   float64 // bytes/s, 1 minute average
}

type stagedPiece struct {
	// mu serializes submissions for the piece.
	mu           sync.Mutex
	buf          bufferpool.Buffer
	contributors []string

	// Guarded by Store.mu.
	have *bitfield.Bitfield // blocks
	done bool
}

// Store is the piece store of one torrent.
type Store struct {
	layout *piece.Layout
	pieces []piece.Piece
	budget *Budget
	pool   *bufferpool.Pool
	log    logger.Logger

	writeMeter metrics.Meter

	// Lock order: stagedPiece.mu, Store.mu, Budget.mu.
	mu           sync.Mutex
	bitfield     *bitfield.Bitfield
	staged       map[uint32]*stagedPiece
	stagedBytes  int64
	hashFailures int
	bytesWritten int64
	err          error
	closed       bool
}

// New returns a Store for layout writing into files, which are in the order of layout.Files.
// bf is the initial completion state and is copied. A nil bf means nothing is complete.
func New(layout *piece.Layout, files []filesection.ReadWriterAt, bf *bitfield.Bitfield, budget *Budget, l logger.Logger) *Store {
	if bf == nil {
		bf = bitfield.New(layout.NumPieces)
	} else {
		bf = bf.Copy()
	}
	if budget == nil {
		budget = NewBudget(0)
	}
	return &Store{
		layout:     layout,
		pieces:     piece.NewPieces(layout, files),
		budget:     budget,
		pool:       bufferpool.New(int(layout.PieceLength)),
		log:        l,
		writeMeter: metrics.NewMeter(),
		bitfield:   bf,
		staged:     make(map[uint32]*stagedPiece),
	}
}

// Close releases staged buffers. Staged data that is not verified is lost.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for i, sp := range s.staged {
		sp.done = true
		delete(s.staged, i)
	}
	if s.stagedBytes > 0 {
		s.budget.release(s.stagedBytes)
		s.stagedBytes = 0
	}
	s.writeMeter.Stop()
}

// Layout returns the piece layout of the store.
func (s *Store) Layout() *piece.Layout { return s.layout }

// SpaceAvailable returns a channel closed when staging memory is released.
func (s *Store) SpaceAvailable() <-chan struct{} { return s.budget.SpaceAvailable() }

// SubmitBlock stages b. When b completes its piece the piece is verified and written.
// Submissions for one piece are serialized, different pieces proceed in parallel.
func (s *Store) SubmitBlock(b Block) (Result, error) {
	blk, ok := s.layout.FindBlock(b.Index, b.Begin, uint32(len(b.Data)))
	if !ok {
		return Result{}, ErrInvalidBlock
	}
	sp, err := s.stage(b.Index)
	if err != nil || sp == nil {
		return Result{Duplicate: sp == nil && err == nil}, err
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()

	s.mu.Lock()
	if sp.done || sp.have.Test(blk.Index) {
		s.mu.Unlock()
		return Result{Duplicate: true}, nil
	}
	s.mu.Unlock()

	copy(sp.buf.Data[b.Begin:], b.Data)
	sp.addContributor(b.Source)

	s.mu.Lock()
	sp.have.Set(blk.Index)
	all := sp.have.All()
	s.mu.Unlock()
	if !all {
		return Result{}, nil
	}
	return s.finish(b.Index, sp)
}

// stage returns the staged piece for index, creating it if allowed.
// A nil piece with nil error means the piece is already complete.
func (s *Store) stage(index uint32) (*stagedPiece, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.bitfield.Test(index) {
		return nil, nil
	}
	if sp, ok := s.staged[index]; ok {
		return sp, nil
	}
	length := int64(s.layout.Length(index))
	// A store with nothing staged may always stage one piece so that it cannot be starved.
	if !s.budget.reserve(length, len(s.staged) == 0) {
		return nil, ErrBufferPressure
	}
	sp := &stagedPiece{
		buf:  s.pool.Get(int(length)),
		have: bitfield.New(s.layout.NumBlocks(index)),
	}
	s.staged[index] = sp
	s.stagedBytes += length
	return sp, nil
}

// finish verifies and writes a fully staged piece. Called with sp.mu held.
func (s *Store) finish(index uint32, sp *stagedPiece) (Result, error) {
	p := &s.pieces[index]
	if !p.VerifyHash(sp.buf.Data) {
		s.unstage(index, sp, false)
		s.log.Debugf("piece #%d failed hash check, contributors: %v", index, sp.contributors)
		return Result{HashFailed: true, Contributors: sp.contributors}, nil
	}
	if _, err := p.Data.Write(sp.buf.Data); err != nil {
		derr := &DiskError{Index: index, Err: err}
		s.mu.Lock()
		if s.err == nil {
			s.err = derr
		}
		s.mu.Unlock()
		s.log.Errorln(derr)
		return Result{}, derr
	}
	s.writeMeter.Mark(int64(p.Length))
	s.unstage(index, sp, true)
	return Result{Completed: true}, nil
}

func (s *Store) unstage(index uint32, sp *stagedPiece, completed bool) {
	s.mu.Lock()
	if sp.done {
		// Store has been closed.
		s.mu.Unlock()
		return
	}
	sp.done = true
	length := int64(len(sp.buf.Data))
	delete(s.staged, index)
	s.stagedBytes -= length
	if completed {
		s.bitfield.Set(index)
		s.bytesWritten += length
	} else {
		s.hashFailures++
	}
	s.mu.Unlock()
	s.budget.release(length)
	sp.buf.Release()
}

func (sp *stagedPiece) addContributor(source string) {
	for _, c := range sp.contributors {
		if c == source {
			return
		}
	}
	sp.contributors = append(sp.contributors, source)
}

// MissingBlocks returns the blocks of piece index that are neither staged nor written.
func (s *Store) MissingBlocks(index uint32) []piece.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missingBlocks(index)
}

func (s *Store) missingBlocks(index uint32) []piece.Block {
	if s.bitfield.Test(index) {
		return nil
	}
	blocks := s.layout.Blocks(index)
	sp, ok := s.staged[index]
	if !ok {
		return blocks
	}
	ret := blocks[:0]
	for _, b := range blocks {
		if !sp.have.Test(b.Index) {
			ret = append(ret, b)
		}
	}
	return ret
}

// NextNeededBlocks returns up to maxCount missing blocks of pieces that peer has, in piece order.
// Blocks of complete pieces are never returned.
func (s *Store) NextNeededBlocks(peer *bitfield.Bitfield, maxCount int) []piece.BlockRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ret []piece.BlockRequest
	for i := uint32(0); i < s.layout.NumPieces && len(ret) < maxCount; i++ {
		if !peer.Test(i) {
			continue
		}
		for _, b := range s.missingBlocks(i) {
			if len(ret) == maxCount {
				break
			}
			ret = append(ret, b.Request(i))
		}
	}
	return ret
}

// Staged reports whether piece index has staged blocks.
func (s *Store) Staged(index uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.staged[index]
	return ok
}

// Have reports whether piece index is complete.
func (s *Store) Have(index uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitfield.Test(index)
}

// Bitfield returns a copy of the completion bitfield.
func (s *Store) Bitfield() *bitfield.Bitfield {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitfield.Copy()
}

// Completed reports whether all pieces are complete.
func (s *Store) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitfield.All()
}

// Err returns the fatal disk error, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		StagedPieces: len(s.staged),
		StagedBytes:  s.stagedBytes,
		Completed:    s.bitfield.Count(),
		HashFailures: s.hashFailures,
		BytesWritten: s.bytesWritten,
		WriteSpeed:   s.writeMeter.Rate1(),
	}
}

// BytesCompleted returns the number of bytes in complete pieces.
func (s *Store) BytesCompleted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(s.bitfield.Count()) * int64(s.layout.PieceLength)
	if last := s.layout.NumPieces - 1; s.layout.NumPieces > 0 && s.bitfield.Test(last) {
		n -= int64(s.layout.PieceLength - s.layout.Length(last))
	}
	return n
}

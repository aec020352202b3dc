package piecestore

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmget/swarmget/internal/bitfield"
	"github.com/swarmget/swarmget/internal/filesection"
	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/metainfo"
	"github.com/swarmget/swarmget/internal/piece"
	"github.com/swarmget/swarmget/internal/storage/filestorage"
)

type fixture struct {
	data   []byte
	layout *piece.Layout
	dir    string
	files  []filesection.ReadWriterAt
}

// newFixture creates a torrent with random content split into files of the given lengths.
// Files are created empty on disk.
func newFixture(t *testing.T, pieceLength uint32, blockSize uint32, lengths ...int64) *fixture {
	var total int64
	var dicts []metainfo.FileDict
	for i, l := range lengths {
		total += l
		dicts = append(dicts, metainfo.FileDict{Length: l, Path: []string{string(rune('a' + i))}})
	}
	data := make([]byte, total)
	rand.New(rand.NewSource(int64(total))).Read(data)
	b, err := metainfo.NewInfoBytes("torrent", dicts, pieceLength, bytes.NewReader(data))
	require.NoError(t, err)
	info, err := metainfo.NewInfo(b)
	require.NoError(t, err)
	layout := piece.NewLayout(info)
	layout.BlockSize = blockSize

	dir := t.TempDir()
	fs, err := filestorage.New(dir)
	require.NoError(t, err)
	f := &fixture{data: data, layout: layout, dir: dir}
	for _, fr := range layout.Files {
		file, _, err := fs.Open(fr.Path, fr.Length)
		require.NoError(t, err)
		t.Cleanup(func() { file.Close() })
		f.files = append(f.files, file)
	}
	return f
}

func (f *fixture) store(budget *Budget) *Store {
	return New(f.layout, f.files, nil, budget, logger.New("test"))
}

func (f *fixture) block(index, begin, length uint32) Block {
	off := int64(index)*int64(f.layout.PieceLength) + int64(begin)
	return Block{Index: index, Begin: begin, Data: f.data[off : off+int64(length)], Source: "peer"}
}

func (f *fixture) fileContent(t *testing.T, name string) []byte {
	b, err := os.ReadFile(filepath.Join(f.dir, "torrent", name))
	require.NoError(t, err)
	return b
}

func TestOutOfOrderBlocks(t *testing.T) {
	f := newFixture(t, 16*1024, 4*1024, 16*1024)
	s := f.store(nil)
	for i, begin := range []uint32{8192, 0, 12288, 4096} {
		res, err := s.SubmitBlock(f.block(0, begin, 4096))
		require.NoError(t, err)
		if i < 3 {
			assert.False(t, s.Have(0))
			assert.Equal(t, Result{}, res)
		} else {
			assert.True(t, res.Completed)
		}
	}
	assert.True(t, s.Have(0))
	assert.True(t, s.Completed())
	assert.Equal(t, f.data, f.fileContent(t, "a"))
	assert.Equal(t, 0, s.Stats().StagedPieces)
}

func TestPieceSpanningFiles(t *testing.T) {
	f := newFixture(t, 8*1024, 4*1024, 3000, 0, 10000, 3384)
	s := f.store(nil)
	for i := uint32(0); i < f.layout.NumPieces; i++ {
		for _, b := range f.layout.Blocks(i) {
			_, err := s.SubmitBlock(f.block(i, b.Begin, b.Length))
			require.NoError(t, err)
		}
	}
	require.True(t, s.Completed())
	assert.Equal(t, f.data[:3000], f.fileContent(t, "a"))
	assert.Empty(t, f.fileContent(t, "b"))
	assert.Equal(t, f.data[3000:13000], f.fileContent(t, "c"))
	assert.Equal(t, f.data[13000:], f.fileContent(t, "d"))
}

func TestHashMismatch(t *testing.T) {
	f := newFixture(t, 16*1024, 4*1024, 32*1024)
	s := f.store(nil)
	_, err := s.SubmitBlock(f.block(0, 0, 4096))
	require.NoError(t, err)
	bad := f.block(0, 4096, 4096)
	bad.Data = make([]byte, 4096)
	bad.Source = "bad"
	_, err = s.SubmitBlock(bad)
	require.NoError(t, err)
	_, err = s.SubmitBlock(f.block(0, 8192, 4096))
	require.NoError(t, err)
	res, err := s.SubmitBlock(f.block(0, 12288, 4096))
	require.NoError(t, err)

	assert.True(t, res.HashFailed)
	assert.ElementsMatch(t, []string{"peer", "bad"}, res.Contributors)
	assert.False(t, s.Have(0))
	assert.Len(t, s.MissingBlocks(0), 4)
	assert.Equal(t, 1, s.Stats().HashFailures)
	assert.Equal(t, int64(0), s.Stats().StagedBytes)

	// the piece can be downloaded again
	for _, b := range f.layout.Blocks(0) {
		res, err = s.SubmitBlock(f.block(0, b.Begin, b.Length))
		require.NoError(t, err)
	}
	assert.True(t, res.Completed)
}

func TestDuplicateBlocks(t *testing.T) {
	f := newFixture(t, 8*1024, 4*1024, 8*1024)
	s := f.store(nil)
	res, err := s.SubmitBlock(f.block(0, 0, 4096))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	res, err = s.SubmitBlock(f.block(0, 0, 4096))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	res, err = s.SubmitBlock(f.block(0, 4096, 4096))
	require.NoError(t, err)
	assert.True(t, res.Completed)
	res, err = s.SubmitBlock(f.block(0, 4096, 4096))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestInvalidBlock(t *testing.T) {
	f := newFixture(t, 8*1024, 4*1024, 8*1024)
	s := f.store(nil)
	_, err := s.SubmitBlock(Block{Index: 0, Begin: 100, Data: make([]byte, 4096)})
	assert.Equal(t, ErrInvalidBlock, err)
	_, err = s.SubmitBlock(Block{Index: 5, Begin: 0, Data: make([]byte, 4096)})
	assert.Equal(t, ErrInvalidBlock, err)
}

func TestBufferPressure(t *testing.T) {
	f := newFixture(t, 8*1024, 4*1024, 32*1024)
	budget := NewBudget(8 * 1024)
	s := f.store(budget)

	_, err := s.SubmitBlock(f.block(0, 0, 4096))
	require.NoError(t, err)
	spaceC := s.SpaceAvailable()

	_, err = s.SubmitBlock(f.block(1, 0, 4096))
	assert.Equal(t, ErrBufferPressure, err)
	assert.False(t, s.Staged(1))

	select {
	case <-spaceC:
		t.Fatal("space must not be available yet")
	default:
	}

	// blocks of an already staged piece are accepted
	res, err := s.SubmitBlock(f.block(0, 4096, 4096))
	require.NoError(t, err)
	assert.True(t, res.Completed)

	select {
	case <-spaceC:
	default:
		t.Fatal("space must be available after flush")
	}
	_, err = s.SubmitBlock(f.block(1, 0, 4096))
	assert.NoError(t, err)
	assert.Equal(t, int64(8*1024), budget.Used())
}

func TestSharedBudgetAdmitsFirstPiece(t *testing.T) {
	f1 := newFixture(t, 8*1024, 4*1024, 16*1024)
	f2 := newFixture(t, 8*1024, 4*1024, 16*1024)
	budget := NewBudget(8 * 1024)
	s1, s2 := f1.store(budget), f2.store(budget)
	_, err := s1.SubmitBlock(f1.block(0, 0, 4096))
	require.NoError(t, err)
	_, err = s2.SubmitBlock(f2.block(0, 0, 4096))
	require.NoError(t, err)
	_, err = s2.SubmitBlock(f2.block(1, 0, 4096))
	assert.Equal(t, ErrBufferPressure, err)
	s2.Close()
	assert.Equal(t, int64(8*1024), budget.Used())
}

func TestNextNeededBlocks(t *testing.T) {
	f := newFixture(t, 8*1024, 4*1024, 24*1024)
	s := f.store(nil)
	for _, b := range f.layout.Blocks(0) {
		_, err := s.SubmitBlock(f.block(0, b.Begin, b.Length))
		require.NoError(t, err)
	}
	_, err := s.SubmitBlock(f.block(1, 0, 4096))
	require.NoError(t, err)

	peer := bitfield.New(3)
	peer.SetAll()
	assert.Equal(t, []piece.BlockRequest{
		{Index: 1, Begin: 4096, Length: 4096},
		{Index: 2, Begin: 0, Length: 4096},
	}, s.NextNeededBlocks(peer, 2))

	peer = bitfield.New(3)
	peer.Set(0)
	assert.Empty(t, s.NextNeededBlocks(peer, 10))
}

type failingFile struct{}

func (failingFile) ReadAt(p []byte, off int64) (int, error)  { return 0, errors.New("read failed") }
func (failingFile) WriteAt(p []byte, off int64) (int, error) { return 0, errors.New("disk full") }

func TestDiskError(t *testing.T) {
	f := newFixture(t, 8*1024, 4*1024, 16*1024)
	s := New(f.layout, []filesection.ReadWriterAt{failingFile{}}, nil, nil, logger.New("test"))
	_, err := s.SubmitBlock(f.block(0, 0, 4096))
	require.NoError(t, err)
	_, err = s.SubmitBlock(f.block(0, 4096, 4096))
	var derr *DiskError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, uint32(0), derr.Index)
	assert.False(t, s.Have(0))
	assert.Equal(t, 1, s.Stats().StagedPieces)

	_, err = s.SubmitBlock(f.block(1, 0, 4096))
	assert.ErrorAs(t, err, &derr)
	assert.Equal(t, derr, s.Err())
}

func TestConcurrentSubmit(t *testing.T) {
	f := newFixture(t, 16*1024, 1024, 64*1024+100)
	s := f.store(nil)
	var reqs []piece.BlockRequest
	for i := uint32(0); i < f.layout.NumPieces; i++ {
		for _, b := range f.layout.Blocks(i) {
			reqs = append(reqs, b.Request(i))
		}
	}
	var completed [5]int
	var mu sync.Mutex
	var wg sync.WaitGroup
	// every block is submitted by 3 peers
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			order := rand.New(rand.NewSource(seed)).Perm(len(reqs))
			for _, k := range order {
				r := reqs[k]
				res, err := s.SubmitBlock(f.block(r.Index, r.Begin, r.Length))
				assert.NoError(t, err)
				if res.Completed {
					mu.Lock()
					completed[r.Index]++
					mu.Unlock()
				}
			}
		}(int64(w))
	}
	wg.Wait()
	assert.True(t, s.Completed())
	assert.Equal(t, [5]int{1, 1, 1, 1, 1}, completed)
	assert.Equal(t, f.data, f.fileContent(t, "a"))
}

func TestVerifyAndReadBlock(t *testing.T) {
	f := newFixture(t, 8*1024, 4*1024, 20*1024)
	// write the first two pieces and garbage for the last one
	content := append([]byte(nil), f.data...)
	content[len(content)-1] ^= 0xff
	_, err := f.files[0].WriteAt(content, 0)
	require.NoError(t, err)

	s := f.store(nil)
	_, err = s.ReadBlock(0, 0, 4096)
	assert.Equal(t, ErrNotAvailable, err)

	found, err := s.Verify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), found)
	assert.True(t, s.Have(1))
	assert.False(t, s.Have(2))

	b, err := s.ReadBlock(1, 4096, 4096)
	require.NoError(t, err)
	assert.Equal(t, f.data[12*1024:16*1024], b)
	assert.Equal(t, int64(16*1024), s.BytesCompleted())
}

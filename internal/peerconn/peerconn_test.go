package peerconn

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/piece"
	"github.com/swarmget/swarmget/internal/piecestore"
)

const timeout = 2 * time.Second

type fakeSink struct {
	mu       sync.Mutex
	blocks   []piecestore.Block
	pressure int // number of ErrBufferPressure results before accepting
	spaceC   chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{spaceC: make(chan struct{})}
}

func (s *fakeSink) SubmitBlock(b piecestore.Block) (piecestore.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pressure > 0 {
		s.pressure--
		return piecestore.Result{}, piecestore.ErrBufferPressure
	}
	s.blocks = append(s.blocks, b)
	return piecestore.Result{Completed: true}, nil
}

func (s *fakeSink) SpaceAvailable() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spaceC
}

func (s *fakeSink) freeSpace() {
	s.mu.Lock()
	close(s.spaceC)
	s.spaceC = make(chan struct{})
	s.mu.Unlock()
}

func (s *fakeSink) Blocks() []piecestore.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]piecestore.Block(nil), s.blocks...)
}

type fakePieces struct{}

func (fakePieces) ReadBlock(index, begin, length uint32) ([]byte, error) {
	b := make([]byte, length)
	for i := range b {
		b[i] = byte(index)
	}
	return b, nil
}

// connPair returns two ends of a loopback TCP connection.
func connPair(t *testing.T) (net.Conn, net.Conn) {
	l, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer l.Close()
	acceptC := make(chan net.Conn, 1)
	go func() {
		c, _ := l.Accept()
		acceptC <- c
	}()
	local, err := net.Dial("tcp4", l.Addr().String())
	require.NoError(t, err)
	remote := <-acceptC
	require.NotNil(t, remote)
	return local, remote
}

type testConn struct {
	*Conn
	remote net.Conn
	sink   *fakeSink
}

func newTestConn(t *testing.T, cfg Config) *testConn {
	local, remote := connPair(t)
	sink := newFakeSink()
	cfg.NumPieces = 4
	c := New(local, cfg, sink, fakePieces{}, nil, nil, logger.New("test"))
	go c.Run()
	return &testConn{Conn: c, remote: remote, sink: sink}
}

func (c *testConn) close() {
	c.Close()
	c.remote.Close()
}

func (c *testConn) write(t *testing.T, msg peerprotocol.Message) {
	_, err := c.remote.Write(peerprotocol.EncodeMessage(msg))
	require.NoError(t, err)
}

// read returns the next non-keepalive message written by the Conn.
func (c *testConn) read(t *testing.T) peerprotocol.Message {
	for {
		require.NoError(t, c.remote.SetReadDeadline(time.Now().Add(timeout)))
		header := make([]byte, 4)
		_, err := io.ReadFull(c.remote, header)
		require.NoError(t, err)
		frame := make([]byte, 4+binary.BigEndian.Uint32(header))
		copy(frame, header)
		_, err = io.ReadFull(c.remote, frame[4:])
		require.NoError(t, err)
		msg, _, err := peerprotocol.DecodeFrame(frame)
		require.NoError(t, err)
		if _, ok := msg.(peerprotocol.KeepAliveMessage); !ok {
			return msg
		}
	}
}

// event returns the next event of type T from the Messages channel, skipping others.
func event[T any](t *testing.T, c *Conn) T {
	deadline := time.After(timeout)
	for {
		select {
		case v, ok := <-c.Messages():
			require.True(t, ok, "messages channel closed")
			if e, ok := v.(T); ok {
				return e
			}
		case <-deadline:
			t.Fatal("timeout waiting for event")
		}
	}
}

func unchoke(t *testing.T, c *testConn) {
	c.write(t, peerprotocol.UnchokeMessage{})
	event[peerprotocol.UnchokeMessage](t, c.Conn)
}

func TestRequestBlock(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{})
	defer c.close()

	br := piece.BlockRequest{Index: 1, Begin: 0, Length: 4}
	_, err := c.RequestBlock(br)
	assert.ErrorIs(t, err, ErrChoked)

	unchoke(t, c)
	r, err := c.RequestBlock(br)
	require.NoError(t, err)
	assert.Equal(t, peerprotocol.RequestMessage{Index: 1, Begin: 0, Length: 4}, c.read(t))

	c.write(t, peerprotocol.PieceMessage{Index: 1, Begin: 0, Data: []byte("abcd")})
	done := event[BlockDone](t, c.Conn)
	assert.Same(t, r, done.Request)
	<-r.Done()
	res, err := r.Result()
	require.NoError(t, err)
	assert.True(t, res.Completed)

	blocks := c.sink.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, []byte("abcd"), blocks[0].Data)
	assert.Equal(t, c.String(), blocks[0].Source)
	assert.Equal(t, 0, c.Outstanding())
	assert.Equal(t, int64(4), c.BytesDownloaded())
}

func TestUnsolicitedBlockDiscarded(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{})
	defer c.close()

	unchoke(t, c)
	c.write(t, peerprotocol.PieceMessage{Index: 1, Begin: 0, Data: []byte("abcd")})
	// A following message is received only after the piece message has been handled.
	c.write(t, peerprotocol.HaveMessage{Index: 2})
	event[peerprotocol.HaveMessage](t, c.Conn)
	assert.Empty(t, c.sink.Blocks())
}

func TestRequestRetriedThenTimedOut(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{RequestTimeout: 100 * time.Millisecond})
	defer c.close()

	unchoke(t, c)
	br := piece.BlockRequest{Index: 0, Begin: 0, Length: 16}
	r, err := c.RequestBlock(br)
	require.NoError(t, err)
	req := peerprotocol.RequestMessage{Index: 0, Begin: 0, Length: 16}
	assert.Equal(t, req, c.read(t))
	// Sent again once.
	assert.Equal(t, req, c.read(t))
	// Then cancelled and failed.
	assert.Equal(t, peerprotocol.CancelMessage(req), c.read(t))
	done := event[BlockDone](t, c.Conn)
	assert.Same(t, r, done.Request)
	_, err = r.Result()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, c.Pending(br))
}

func TestWindowFull(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{RequestQueueLength: 2})
	defer c.close()

	unchoke(t, c)
	_, err := c.RequestBlock(piece.BlockRequest{Index: 0, Begin: 0, Length: 16})
	require.NoError(t, err)
	_, err = c.RequestBlock(piece.BlockRequest{Index: 0, Begin: 0, Length: 16})
	assert.ErrorIs(t, err, ErrAlreadyRequested)
	_, err = c.RequestBlock(piece.BlockRequest{Index: 0, Begin: 16, Length: 16})
	require.NoError(t, err)
	_, err = c.RequestBlock(piece.BlockRequest{Index: 0, Begin: 32, Length: 16})
	assert.ErrorIs(t, err, ErrWindowFull)
}

func TestChokeFailsPendingRequests(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{})
	defer c.close()

	unchoke(t, c)
	r, err := c.RequestBlock(piece.BlockRequest{Index: 0, Begin: 0, Length: 16})
	require.NoError(t, err)
	c.write(t, peerprotocol.ChokeMessage{})
	done := event[BlockDone](t, c.Conn)
	assert.Same(t, r, done.Request)
	_, err = r.Result()
	assert.ErrorIs(t, err, ErrChoked)
	assert.Equal(t, Choked, c.Snapshot().State)
}

func TestRefuseRequestsWhileChoking(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{})
	defer c.close()

	c.write(t, peerprotocol.InterestedMessage{})
	event[peerprotocol.InterestedMessage](t, c.Conn)
	c.write(t, peerprotocol.RequestMessage{Index: 2, Begin: 0, Length: 8})
	c.write(t, peerprotocol.HaveMessage{Index: 0})
	event[peerprotocol.HaveMessage](t, c.Conn)

	c.Unchoke()
	assert.Equal(t, peerprotocol.UnchokeMessage{}, c.read(t))
	c.write(t, peerprotocol.RequestMessage{Index: 3, Begin: 0, Length: 8})
	// Only the request made after unchoking is served.
	msg := c.read(t)
	assert.Equal(t, peerprotocol.PieceMessage{Index: 3, Begin: 0, Data: []byte{3, 3, 3, 3, 3, 3, 3, 3}}, msg)
	up := event[BlockUploaded](t, c.Conn)
	assert.Equal(t, uint32(8), up.Length)
	assert.Equal(t, int64(8), c.BytesUploaded())
}

func TestBufferPressureStalls(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{})
	defer c.close()
	c.sink.mu.Lock()
	c.sink.pressure = 1
	c.sink.mu.Unlock()

	unchoke(t, c)
	r, err := c.RequestBlock(piece.BlockRequest{Index: 0, Begin: 0, Length: 4})
	require.NoError(t, err)
	c.write(t, peerprotocol.PieceMessage{Index: 0, Begin: 0, Data: []byte("abcd")})

	select {
	case <-r.Done():
		t.Fatal("request resolved while buffer is full")
	case <-time.After(100 * time.Millisecond):
	}
	c.sink.freeSpace()
	event[BlockDone](t, c.Conn)
	_, err = r.Result()
	assert.NoError(t, err)
	assert.Len(t, c.sink.Blocks(), 1)
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{})
	defer c.close()

	// Claims a frame far larger than allowed.
	_, err := c.remote.Write([]byte{0xff, 0xff, 0xff, 0xff, byte(peerprotocol.Piece)})
	require.NoError(t, err)
	select {
	case <-c.Done():
	case <-time.After(timeout):
		t.Fatal("connection not closed")
	}
	var perr *peerprotocol.ProtocolError
	assert.True(t, errors.As(c.Err(), &perr))
	assert.Equal(t, Closed, c.Snapshot().State)
}

func TestBitfieldAfterFirstMessage(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{})
	defer c.close()

	assert.Equal(t, ExchangingBitfield, c.Snapshot().State)
	c.write(t, peerprotocol.HaveMessage{Index: 1})
	event[peerprotocol.HaveMessage](t, c.Conn)
	s := c.Snapshot()
	assert.Equal(t, Choked, s.State)
	assert.Equal(t, uint32(1), s.Advertised)

	c.write(t, peerprotocol.BitfieldMessage{Data: []byte{0xf0}})
	<-c.Done()
	var perr *peerprotocol.ProtocolError
	assert.True(t, errors.As(c.Err(), &perr))
}

func TestCloseFailsPendingRequests(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{})

	unchoke(t, c)
	r, err := c.RequestBlock(piece.BlockRequest{Index: 0, Begin: 0, Length: 16})
	require.NoError(t, err)
	c.close()
	<-r.Done()
	_, err = r.Result()
	assert.ErrorIs(t, err, ErrPeerClosed)
	_, err = c.RequestBlock(piece.BlockRequest{Index: 0, Begin: 16, Length: 16})
	assert.ErrorIs(t, err, ErrPeerClosed)
	// Close is idempotent.
	c.Close()
}

func TestCancel(t *testing.T) {
	defer leaktest.Check(t)()
	c := newTestConn(t, Config{})
	defer c.close()

	unchoke(t, c)
	br := piece.BlockRequest{Index: 0, Begin: 0, Length: 16}
	r, err := c.RequestBlock(br)
	require.NoError(t, err)
	c.read(t)
	c.Cancel(br)
	assert.Equal(t, peerprotocol.CancelMessage{Index: 0, Begin: 0, Length: 16}, c.read(t))
	_, err = r.Result()
	assert.ErrorIs(t, err, ErrCanceled)
}

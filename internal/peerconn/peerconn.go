// Package peerconn runs the peer wire protocol on an established connection.
//
// A Conn has a reader, a writer and a request aging goroutine. Received messages that need
// a decision of the torrent are sent on the Messages channel. Piece data of pending requests
// is handed to the Sink by the reader, so the torrent never sees block payloads.
package peerconn

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swarmget/swarmget/internal/bitfield"
	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/piece"
	"github.com/swarmget/swarmget/internal/piecestore"
	"github.com/swarmget/swarmget/internal/ratelimiter"
)

// Sink receives downloaded blocks. It is implemented by *piecestore.Store.
type Sink interface {
	SubmitBlock(piecestore.Block) (piecestore.Result, error)
	SpaceAvailable() <-chan struct{}
}

// BlockReader reads blocks of complete pieces for uploading. It is implemented by *piecestore.Store.
type BlockReader interface {
	ReadBlock(index, begin, length uint32) ([]byte, error)
}

// Config of a Conn.
type Config struct {
	// ReadTimeout closes the connection when no bytes are received for this long.
	ReadTimeout time.Duration
	// RequestTimeout is the age after which a request is sent again, and after another
	// RequestTimeout, failed with ErrTimeout.
	RequestTimeout time.Duration
	// RequestQueueLength caps the number of outstanding requests.
	RequestQueueLength int
	// MaxRequestsIn caps the number of queued uploads.
	MaxRequestsIn int
	// KeepAlivePeriod is the idle time on the write side after which a keepalive is sent.
	KeepAlivePeriod time.Duration
	// NumPieces of the torrent, used to validate messages.
	NumPieces uint32
}

// DefaultConfig returns the values used by the torrent package.
func DefaultConfig(numPieces uint32) Config {
	return Config{
		ReadTimeout:        2 * time.Minute,
		RequestTimeout:     20 * time.Second,
		RequestQueueLength: 50,
		MaxRequestsIn:      250,
		KeepAlivePeriod:    time.Minute,
		NumPieces:          numPieces,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig(cfg.NumPieces)
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.RequestQueueLength <= 0 {
		cfg.RequestQueueLength = def.RequestQueueLength
	}
	if cfg.MaxRequestsIn <= 0 {
		cfg.MaxRequestsIn = def.MaxRequestsIn
	}
	if cfg.KeepAlivePeriod <= 0 {
		cfg.KeepAlivePeriod = def.KeepAlivePeriod
	}
	return cfg
}

// Conn is the peer protocol session with one peer.
type Conn struct {
	conn       net.Conn
	config     Config
	sink       Sink
	pieces     BlockReader
	downloadRL *ratelimiter.Limiter
	uploadRL   *ratelimiter.Limiter
	log        logger.Logger
	decoder    peerprotocol.Decoder
	messages   chan interface{}

	mu             sync.Mutex
	state          State
	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool
	advertised     *bitfield.Bitfield
	pending        map[piece.BlockRequest]*Request
	err            error

	wmu         sync.Mutex
	writeQueue  []outgoing
	uploads     int
	writeSignal chan struct{}

	bytesDownloaded atomic.Int64
	bytesUploaded   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	doneC  chan struct{}
}

// New returns a Conn on conn after the handshake. Limiters may be nil for unlimited transfer.
// Zero values in cfg are replaced with defaults.
func New(conn net.Conn, cfg Config, sink Sink, pieces BlockReader, downloadRL, uploadRL *ratelimiter.Limiter, l logger.Logger) *Conn {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		conn:        conn,
		config:      cfg,
		sink:        sink,
		pieces:      pieces,
		downloadRL:  downloadRL,
		uploadRL:    uploadRL,
		log:         l,
		decoder:     peerprotocol.Decoder{NumPieces: cfg.NumPieces},
		messages:    make(chan interface{}),
		state:       ExchangingBitfield,
		amChoking:   true,
		peerChoking: true,
		advertised:  bitfield.New(cfg.NumPieces),
		pending:     make(map[piece.BlockRequest]*Request),
		writeSignal: make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		doneC:       make(chan struct{}),
	}
}

// Addr returns the address of the peer.
func (c *Conn) Addr() *net.TCPAddr {
	return c.conn.RemoteAddr().(*net.TCPAddr)
}

// String returns the address of the peer.
func (c *Conn) String() string {
	return c.conn.RemoteAddr().String()
}

// Logger of the connection.
func (c *Conn) Logger() logger.Logger {
	return c.log
}

// Messages returns the channel of received messages and BlockDone, BlockUploaded events.
// It is closed when the connection is closed.
func (c *Conn) Messages() <-chan interface{} {
	return c.messages
}

// Run the connection until an error occurs or Close is called. Invoke with go statement.
func (c *Conn) Run() {
	defer close(c.doneC)
	defer close(c.messages)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.closeWithError(c.readLoop())
	}()
	go func() {
		defer wg.Done()
		c.closeWithError(c.writeLoop())
	}()
	go func() {
		defer wg.Done()
		c.ageLoop()
	}()

	<-c.ctx.Done()
	_ = c.conn.Close()
	wg.Wait()

	c.mu.Lock()
	c.state = Closed
	pending := c.pending
	c.pending = make(map[piece.BlockRequest]*Request)
	c.mu.Unlock()
	for _, r := range pending {
		r.resolve(piecestore.Result{}, ErrPeerClosed)
	}
}

// Close the connection and wait for Run to return.
func (c *Conn) Close() {
	c.closeWithError(nil)
	<-c.doneC
}

// Done returns a channel closed when the connection has stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.doneC
}

// Err returns the error that closed the connection.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) closeWithError(err error) {
	c.mu.Lock()
	if c.err == nil && err != nil && c.ctx.Err() == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cancel()
}

// emit sends an event to the torrent. It returns false if the connection is closing.
func (c *Conn) emit(v interface{}) bool {
	select {
	case c.messages <- v:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Snapshot is the state of a Conn at one moment.
type Snapshot struct {
	State           State
	AmChoking       bool
	AmInterested    bool
	PeerChoking     bool
	PeerInterested  bool
	Advertised      uint32 // pieces the peer has
	Outstanding     int    // pending requests
	QueuedUploads   int
	BytesDownloaded int64
	BytesUploaded   int64
}

// Snapshot returns the current state.
func (c *Conn) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:          c.stateLocked(),
		AmChoking:      c.amChoking,
		AmInterested:   c.amInterested,
		PeerChoking:    c.peerChoking,
		PeerInterested: c.peerInterested,
		Advertised:     c.advertised.Count(),
		Outstanding:    len(c.pending),
	}
	c.mu.Unlock()
	c.wmu.Lock()
	s.QueuedUploads = c.uploads
	c.wmu.Unlock()
	s.BytesDownloaded = c.bytesDownloaded.Load()
	s.BytesUploaded = c.bytesUploaded.Load()
	return s
}

func (c *Conn) stateLocked() State {
	if c.state != Active {
		return c.state
	}
	switch {
	case c.peerChoking:
		return Choked
	case c.amChoking:
		return Choking
	default:
		return Active
	}
}

// Choking reports whether we choke the peer.
func (c *Conn) Choking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amChoking
}

// PeerChoking reports whether the peer chokes us.
func (c *Conn) PeerChoking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerChoking
}

// PeerInterested reports whether the peer is interested in our pieces.
func (c *Conn) PeerInterested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerInterested
}

// Choke the peer. Queued uploads are dropped and new requests are refused.
func (c *Conn) Choke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.amChoking {
		return
	}
	c.amChoking = true
	c.dropUploads()
	c.Send(peerprotocol.ChokeMessage{})
}

// Unchoke the peer.
func (c *Conn) Unchoke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.amChoking {
		return
	}
	c.amChoking = false
	c.Send(peerprotocol.UnchokeMessage{})
}

// SetInterested sends interested or not interested if the value changes.
func (c *Conn) SetInterested(value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.amInterested == value {
		return
	}
	c.amInterested = value
	if value {
		c.Send(peerprotocol.InterestedMessage{})
	} else {
		c.Send(peerprotocol.NotInterestedMessage{})
	}
}

// RequestBlock sends a request for br. The returned Request is resolved when the block
// arrives and has been submitted to the Sink, or with an error.
func (c *Conn) RequestBlock(br piece.BlockRequest) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.ctx.Err() != nil:
		return nil, ErrPeerClosed
	case c.peerChoking:
		return nil, ErrChoked
	case len(c.pending) >= c.config.RequestQueueLength:
		return nil, ErrWindowFull
	}
	if _, ok := c.pending[br]; ok {
		return nil, ErrAlreadyRequested
	}
	r := newRequest(br, time.Now())
	c.pending[br] = r
	c.Send(peerprotocol.RequestMessage{Index: br.Index, Begin: br.Begin, Length: br.Length})
	return r, nil
}

// Cancel a pending request. The request is resolved with ErrCanceled.
func (c *Conn) Cancel(br piece.BlockRequest) {
	c.mu.Lock()
	r, ok := c.pending[br]
	if ok {
		delete(c.pending, br)
		c.Send(peerprotocol.CancelMessage{Index: br.Index, Begin: br.Begin, Length: br.Length})
	}
	c.mu.Unlock()
	if ok {
		r.resolve(piecestore.Result{}, ErrCanceled)
	}
}

// Outstanding returns the number of pending requests.
func (c *Conn) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Pending reports whether br is requested on this connection.
func (c *Conn) Pending(br piece.BlockRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[br]
	return ok
}

// BytesDownloaded returns the number of bytes of piece data received.
func (c *Conn) BytesDownloaded() int64 { return c.bytesDownloaded.Load() }

// BytesUploaded returns the number of bytes of piece data sent.
func (c *Conn) BytesUploaded() int64 { return c.bytesUploaded.Load() }

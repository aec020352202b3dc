package peerconn

import (
	"errors"
	"time"

	"github.com/swarmget/swarmget/internal/bitfield"
	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/piece"
	"github.com/swarmget/swarmget/internal/piecestore"
	"github.com/swarmget/swarmget/internal/ratelimiter"
)

const readChunkSize = 32 * 1024

func (c *Conn) readLoop() error {
	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		// Decode every complete frame in the buffer.
		var consumed int
		for {
			msg, n, err := c.decoder.Decode(buf[consumed:])
			var nmb *peerprotocol.NeedMoreBytes
			if errors.As(err, &nmb) {
				break
			}
			if err != nil {
				return err
			}
			consumed += n
			if err = c.handleMessage(msg); err != nil {
				return err
			}
			if c.ctx.Err() != nil {
				return nil
			}
		}
		buf = append(buf[:0], buf[consumed:]...)

		n, err := c.acquireRead(len(chunk))
		if err != nil {
			return nil
		}
		if err = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			return err
		}
		m, err := c.conn.Read(chunk[:n])
		buf = append(buf, chunk[:m]...)
		if err != nil {
			return err
		}
	}
}

// acquireRead returns how many bytes may be read now, waiting while no tokens are available.
func (c *Conn) acquireRead(n int) (int, error) {
	if c.downloadRL == nil {
		return n, nil
	}
	for {
		if got := c.downloadRL.Acquire(int64(n)); got > 0 {
			return int(got), nil
		}
		t := time.NewTimer(ratelimiter.PollInterval)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			return 0, c.ctx.Err()
		}
	}
}

func (c *Conn) handleMessage(msg peerprotocol.Message) error {
	switch m := msg.(type) {
	case peerprotocol.KeepAliveMessage, peerprotocol.UnknownMessage:
		return nil
	case peerprotocol.BitfieldMessage:
		c.mu.Lock()
		first := c.state == ExchangingBitfield
		c.state = Active
		c.mu.Unlock()
		if !first {
			return &peerprotocol.ProtocolError{Message: "bitfield must be the first message"}
		}
		bf, err := bitfield.FromBytes(m.Data, c.config.NumPieces)
		if err != nil {
			return &peerprotocol.ProtocolError{Message: "invalid bitfield: " + err.Error()}
		}
		c.mu.Lock()
		c.advertised = bf
		c.mu.Unlock()
	case peerprotocol.HaveMessage:
		c.mu.Lock()
		c.state = Active
		if m.Index < c.advertised.Len() {
			c.advertised.Set(m.Index)
		}
		c.mu.Unlock()
	case peerprotocol.PieceMessage:
		c.setActive()
		return c.handlePiece(m)
	case peerprotocol.RequestMessage:
		c.setActive()
		if err := c.SendPiece(m, c.pieces); err != nil {
			c.log.Debugf("refused request %+v: %s", m, err)
		}
		return nil
	case peerprotocol.CancelMessage:
		c.setActive()
		c.cancelUpload(m)
		return nil
	case peerprotocol.ChokeMessage:
		c.mu.Lock()
		c.state = Active
		c.peerChoking = true
		pending := c.pending
		c.pending = make(map[piece.BlockRequest]*Request)
		c.mu.Unlock()
		// Pending requests are discarded by the peer. Return them to the torrent.
		for _, r := range pending {
			r.resolve(piecestore.Result{}, ErrChoked)
			if !c.emit(BlockDone{Request: r}) {
				return nil
			}
		}
	case peerprotocol.UnchokeMessage:
		c.mu.Lock()
		c.state = Active
		c.peerChoking = false
		c.mu.Unlock()
	case peerprotocol.InterestedMessage, peerprotocol.NotInterestedMessage:
		_, interested := m.(peerprotocol.InterestedMessage)
		c.mu.Lock()
		c.state = Active
		c.peerInterested = interested
		if !interested {
			c.dropUploads()
		}
		c.mu.Unlock()
	default:
		c.setActive()
	}
	c.emit(msg)
	return nil
}

func (c *Conn) setActive() {
	c.mu.Lock()
	c.state = Active
	c.mu.Unlock()
}

func (c *Conn) handlePiece(m peerprotocol.PieceMessage) error {
	br := piece.BlockRequest{Index: m.Index, Begin: m.Begin, Length: uint32(len(m.Data))}
	c.bytesDownloaded.Add(int64(len(m.Data)))
	c.mu.Lock()
	r, ok := c.pending[br]
	if ok {
		delete(c.pending, br)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Debugf("discarding unrequested block: %+v", br)
		return nil
	}
	res, err := c.submit(piecestore.Block{Index: m.Index, Begin: m.Begin, Data: m.Data, Source: c.String()})
	if errors.Is(err, errClosing) {
		r.resolve(piecestore.Result{}, ErrPeerClosed)
		return nil
	}
	r.resolve(res, err)
	c.emit(BlockDone{Request: r})
	return nil
}

var errClosing = errors.New("connection is closing")

// submit hands b to the sink, waiting while the sink reports buffer pressure.
func (c *Conn) submit(b piecestore.Block) (piecestore.Result, error) {
	for {
		space := c.sink.SpaceAvailable()
		res, err := c.sink.SubmitBlock(b)
		if !errors.Is(err, piecestore.ErrBufferPressure) {
			return res, err
		}
		c.log.Debugf("waiting for buffer space for piece #%d", b.Index)
		select {
		case <-space:
		case <-c.ctx.Done():
			return piecestore.Result{}, errClosing
		}
	}
}

package peerconn

import (
	"time"

	"github.com/swarmget/swarmget/internal/peerprotocol"
)

type outgoing struct {
	msg    peerprotocol.Message
	upload *upload
}

type upload struct {
	peerprotocol.RequestMessage
	reader BlockReader
}

// Send queues msg for writing. It does not block.
func (c *Conn) Send(msg peerprotocol.Message) {
	c.push(outgoing{msg: msg})
}

// SendPiece queues the block described by req. Data is read from r just before it is written.
func (c *Conn) SendPiece(req peerprotocol.RequestMessage, r BlockReader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.amChoking {
		return ErrChoking
	}
	c.wmu.Lock()
	if c.uploads >= c.config.MaxRequestsIn {
		c.wmu.Unlock()
		return ErrUploadQueueFull
	}
	c.uploads++
	c.wmu.Unlock()
	c.push(outgoing{upload: &upload{RequestMessage: req, reader: r}})
	return nil
}

func (c *Conn) push(o outgoing) {
	c.wmu.Lock()
	c.writeQueue = append(c.writeQueue, o)
	c.wmu.Unlock()
	select {
	case c.writeSignal <- struct{}{}:
	default:
	}
}

func (c *Conn) pop() (outgoing, bool) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if len(c.writeQueue) == 0 {
		return outgoing{}, false
	}
	o := c.writeQueue[0]
	c.writeQueue[0] = outgoing{}
	c.writeQueue = c.writeQueue[1:]
	if o.upload != nil {
		c.uploads--
	}
	return o, true
}

// dropUploads removes queued piece messages. Called with c.mu held.
func (c *Conn) dropUploads() {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	q := c.writeQueue[:0]
	for _, o := range c.writeQueue {
		if o.upload == nil {
			q = append(q, o)
		}
	}
	for i := len(q); i < len(c.writeQueue); i++ {
		c.writeQueue[i] = outgoing{}
	}
	c.writeQueue = q
	c.uploads = 0
}

func (c *Conn) cancelUpload(m peerprotocol.CancelMessage) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	for i, o := range c.writeQueue {
		if o.upload != nil && o.upload.Index == m.Index && o.upload.Begin == m.Begin && o.upload.Length == m.Length {
			c.writeQueue = append(c.writeQueue[:i], c.writeQueue[i+1:]...)
			c.uploads--
			return
		}
	}
}

func (c *Conn) writeLoop() error {
	keepAlive := time.NewTimer(c.config.KeepAlivePeriod)
	defer keepAlive.Stop()

	var buf []byte
	for {
		select {
		case <-c.writeSignal:
		case <-keepAlive.C:
			buf = peerprotocol.AppendMessage(buf[:0], peerprotocol.KeepAliveMessage{})
			if _, err := c.conn.Write(buf); err != nil {
				return err
			}
			keepAlive.Reset(c.config.KeepAlivePeriod)
			continue
		case <-c.ctx.Done():
			return nil
		}
		for {
			o, ok := c.pop()
			if !ok {
				break
			}
			msg := o.msg
			if o.upload != nil {
				var err error
				msg, err = c.readUpload(o.upload)
				if err != nil {
					if c.ctx.Err() != nil {
						return nil
					}
					c.log.Debugf("cannot read block for upload: %s", err)
					continue
				}
			}
			buf = peerprotocol.AppendMessage(buf[:0], msg)
			if _, err := c.conn.Write(buf); err != nil {
				return err
			}
			if pm, ok := msg.(peerprotocol.PieceMessage); ok {
				c.bytesUploaded.Add(int64(len(pm.Data)))
				if !c.emit(BlockUploaded{Length: uint32(len(pm.Data))}) {
					return nil
				}
			}
		}
		if !keepAlive.Stop() {
			select {
			case <-keepAlive.C:
			default:
			}
		}
		keepAlive.Reset(c.config.KeepAlivePeriod)
	}
}

// readUpload waits for upload tokens and reads the block.
func (c *Conn) readUpload(u *upload) (peerprotocol.Message, error) {
	if c.Choking() {
		return nil, ErrChoking
	}
	if c.uploadRL != nil {
		if err := c.uploadRL.Wait(c.ctx, int64(u.Length)); err != nil {
			return nil, err
		}
	}
	data, err := u.reader.ReadBlock(u.Index, u.Begin, u.Length)
	if err != nil {
		return nil, err
	}
	return peerprotocol.PieceMessage{Index: u.Index, Begin: u.Begin, Data: data}, nil
}

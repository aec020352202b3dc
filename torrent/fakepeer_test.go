package torrent

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmget/swarmget/internal/bitfield"
	"github.com/swarmget/swarmget/internal/btconn"
	"github.com/swarmget/swarmget/internal/peerprotocol"
)

type fakePeerMode int

const (
	// Answers requests with the correct data.
	serveBlocks fakePeerMode = iota
	// Answers requests with zeroed data that fails the hash check.
	corruptBlocks
	// Never answers requests.
	stallBlocks
)

// fakePeer is a seeder on loopback that speaks just enough of the peer protocol to
// serve blocks of a single torrent.
type fakePeer struct {
	l       net.Listener
	mode    fakePeerMode
	content []byte
	pieces  uint32

	accepted atomic.Int32
	closed   chan struct{}

	mu       sync.Mutex
	requests []peerprotocol.RequestMessage
	cancels  []peerprotocol.CancelMessage
}

// newFakePeer listens on ip. Peers of a torrent must have distinct IPs because
// a torrent does not dial an IP it is already connected to.
func newFakePeer(t *testing.T, ip string, mode fakePeerMode, content []byte) *fakePeer {
	l, err := net.Listen("tcp4", net.JoinHostPort(ip, "0"))
	require.NoError(t, err)
	f := &fakePeer{
		l:       l,
		mode:    mode,
		content: content,
		pieces:  uint32((len(content) + testPieceLength - 1) / testPieceLength),
		closed:  make(chan struct{}),
	}
	go f.acceptLoop()
	return f
}

func (f *fakePeer) Addr() *net.TCPAddr { return f.l.Addr().(*net.TCPAddr) }

func (f *fakePeer) Close() { f.l.Close() }

func (f *fakePeer) Requests() []peerprotocol.RequestMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]peerprotocol.RequestMessage(nil), f.requests...)
}

func (f *fakePeer) Cancels() []peerprotocol.CancelMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]peerprotocol.CancelMessage(nil), f.cancels...)
}

func (f *fakePeer) acceptLoop() {
	for {
		conn, err := f.l.Accept()
		if err != nil {
			return
		}
		// Only the first connection is served.
		if f.accepted.Add(1) > 1 {
			conn.Close()
			continue
		}
		go f.serve(conn)
	}
}

func (f *fakePeer) serve(conn net.Conn) {
	defer close(f.closed)
	defer conn.Close()
	var id [20]byte
	copy(id[:], "-FK0001-fakepeer0001")
	hasInfoHash := func([20]byte) bool { return true }
	_, _, _, err := btconn.Accept(conn, 5*time.Second, hasInfoHash, peerprotocol.NewExtensions(false, false), id)
	if err != nil {
		return
	}
	bf := bitfield.New(f.pieces)
	bf.SetAll()
	if !f.write(conn, peerprotocol.BitfieldMessage{Data: bf.Bytes()}) || !f.write(conn, peerprotocol.UnchokeMessage{}) {
		return
	}
	for {
		msg, err := f.read(conn)
		if err != nil {
			return
		}
		switch msg := msg.(type) {
		case peerprotocol.RequestMessage:
			f.mu.Lock()
			f.requests = append(f.requests, msg)
			f.mu.Unlock()
			if f.mode == stallBlocks {
				continue
			}
			off := int(msg.Index)*testPieceLength + int(msg.Begin)
			data := make([]byte, msg.Length)
			if f.mode == serveBlocks {
				copy(data, f.content[off:])
			}
			if !f.write(conn, peerprotocol.PieceMessage{Index: msg.Index, Begin: msg.Begin, Data: data}) {
				return
			}
		case peerprotocol.CancelMessage:
			f.mu.Lock()
			f.cancels = append(f.cancels, msg)
			f.mu.Unlock()
		}
	}
}

func (f *fakePeer) read(r io.Reader) (peerprotocol.Message, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	buf = append(buf, make([]byte, binary.BigEndian.Uint32(buf))...)
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, err
	}
	msg, _, err := peerprotocol.DecodeFrame(buf)
	return msg, err
}

func (f *fakePeer) write(w io.Writer, msg peerprotocol.Message) bool {
	_, err := w.Write(peerprotocol.EncodeMessage(msg))
	return err == nil
}

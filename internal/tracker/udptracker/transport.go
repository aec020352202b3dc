package udptracker

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/tracker"
)

const (
	connectionIDMagic    = 0x41727101980
	connectionIDInterval = time.Minute
)

var errTransportClosed = errors.New("udp tracker transport closed")

// Transport multiplexes requests to many UDP trackers over one socket.
type Transport struct {
	retransmitInterval time.Duration
	log                logger.Logger

	mu           sync.Mutex
	conn         *net.UDPConn
	transactions map[int32]*transaction
	connections  map[string]*connection

	closeC chan struct{}
	doneC  chan struct{}
}

type transaction struct {
	respC chan []byte
}

type connection struct {
	mu          sync.Mutex
	id          int64
	connectedAt time.Time
}

// NewTransport returns a Transport. A request that gets no response is sent again after
// retransmitInterval, doubling every time, until its context is done.
func NewTransport(retransmitInterval time.Duration) *Transport {
	return &Transport{
		retransmitInterval: retransmitInterval,
		log:                logger.New("udp tracker"),
		transactions:       make(map[int32]*transaction),
		connections:        make(map[string]*connection),
		closeC:             make(chan struct{}),
		doneC:              make(chan struct{}),
	}
}

// Close the socket and fail pending requests.
func (t *Transport) Close() {
	t.mu.Lock()
	select {
	case <-t.closeC:
		t.mu.Unlock()
		return
	default:
	}
	close(t.closeC)
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
		<-t.doneC
	}
}

func (t *Transport) listen() (*net.UDPConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closeC:
		return nil, errTransportClosed
	default:
	}
	if t.conn != nil {
		return t.conn, nil
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	t.conn = conn
	go t.readLoop(conn)
	return conn, nil
}

func (t *Transport) readLoop(conn *net.UDPConn) {
	defer close(t.doneC)
	// Enough for a response with 1000 peers.
	buf := make([]byte, 20+6*1000)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.closeC:
			default:
				t.log.Error(err)
			}
			return
		}
		if n < 8 {
			t.log.Debugln("short packet:", n)
			continue
		}
		id := int32(binary.BigEndian.Uint32(buf[4:8]))
		t.mu.Lock()
		trx, ok := t.transactions[id]
		t.mu.Unlock()
		if !ok {
			t.log.Debugln("unexpected transaction id:", id)
			continue
		}
		select {
		case trx.respC <- append([]byte(nil), buf[:n]...):
		default:
		}
	}
}

// roundTrip sends the packet built by build until a response with the same transaction id arrives.
func (t *Transport) roundTrip(ctx context.Context, addr *net.UDPAddr, build func(trxID int32) []byte) ([]byte, error) {
	conn, err := t.listen()
	if err != nil {
		return nil, err
	}
	trx := &transaction{respC: make(chan []byte, 1)}
	var id int32
	t.mu.Lock()
	for {
		id = rand.Int31() // nolint: gosec
		if _, ok := t.transactions[id]; !ok {
			break
		}
	}
	t.transactions[id] = trx
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.transactions, id)
		t.mu.Unlock()
	}()

	packet := build(id)
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     t.retransmitInterval,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         t.retransmitInterval << 8,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	bo.Reset()
	for {
		if _, err = conn.WriteToUDP(packet, addr); err != nil {
			return nil, err
		}
		timer := time.NewTimer(bo.NextBackOff())
		select {
		case resp := <-trx.respC:
			timer.Stop()
			if action(binary.BigEndian.Uint32(resp)) == actionError {
				return nil, &tracker.Error{FailureReason: string(resp[8:])}
			}
			return resp, nil
		case <-timer.C:
			t.log.Debugln("retransmitting request to", addr)
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-t.closeC:
			timer.Stop()
			return nil, errTransportClosed
		}
	}
}

// connectionID returns a valid connection id for addr, connecting if needed.
func (t *Transport) connectionID(ctx context.Context, addr *net.UDPAddr) (int64, error) {
	t.mu.Lock()
	c, ok := t.connections[addr.String()]
	if !ok {
		c = new(connection)
		t.connections[addr.String()] = c
	}
	t.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.connectedAt) < connectionIDInterval {
		return c.id, nil
	}
	resp, err := t.roundTrip(ctx, addr, func(trxID int32) []byte {
		b := make([]byte, 0, 16)
		b = binary.BigEndian.AppendUint64(b, connectionIDMagic)
		b = binary.BigEndian.AppendUint32(b, uint32(actionConnect))
		return binary.BigEndian.AppendUint32(b, uint32(trxID))
	})
	if err != nil {
		return 0, err
	}
	if len(resp) < 16 || action(binary.BigEndian.Uint32(resp)) != actionConnect {
		return 0, errors.New("invalid connect response")
	}
	c.id = int64(binary.BigEndian.Uint64(resp[8:16]))
	c.connectedAt = time.Now()
	return c.id, nil
}

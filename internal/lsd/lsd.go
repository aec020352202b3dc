// Package lsd implements Local Service Discovery (BEP 14).
// Info hashes of running torrents are announced on a multicast group and
// announcements of other clients in the local network are turned into peer addresses.
package lsd

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"golang.org/x/time/rate"

	"github.com/swarmget/swarmget/internal/logger"
)

// Config for LSD.
type Config struct {
	// Multicast group address.
	Address string
	// Info hashes are announced again after this duration.
	Interval time.Duration
	// Number of received packets processed per second. Packets above the limit are dropped.
	MaxPacketsPerSecond float64
}

// DefaultConfig announces every 5 minutes on the BEP 14 group.
var DefaultConfig = Config{
	Address:             DefaultAddress,
	Interval:            5 * time.Minute,
	MaxPacketsPerSecond: 10,
}

var errClosed = errors.New("lsd closed")

type registration struct {
	port   int
	peersC chan []*net.TCPAddr
}

// LSD announces registered torrents and listens for announcements of others.
// A single LSD is shared by all torrents of a session.
type LSD struct {
	config Config
	group  *net.UDPAddr
	cookie string
	log    logger.Logger

	recvLimiter *rate.Limiter

	mu       sync.Mutex
	torrents map[[20]byte]registration
	listener *net.UDPConn
	sender   *net.UDPConn
	triggerC chan struct{}

	closeC chan struct{}
	doneC  chan struct{}
}

// New returns a new LSD. Start must be called to open sockets.
func New(cfg Config) (*LSD, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.MaxPacketsPerSecond <= 0 {
		cfg.MaxPacketsPerSecond = DefaultConfig.MaxPacketsPerSecond
	}
	group, err := net.ResolveUDPAddr("udp4", cfg.Address)
	if err != nil {
		return nil, err
	}
	return &LSD{
		config:      cfg,
		group:       group,
		cookie:      uuid.Must(uuid.NewV4()).String()[:8],
		log:         logger.New("lsd"),
		recvLimiter: rate.NewLimiter(rate.Limit(cfg.MaxPacketsPerSecond), int(cfg.MaxPacketsPerSecond)+1),
		torrents:    make(map[[20]byte]registration),
		triggerC:    make(chan struct{}, 1),
		closeC:      make(chan struct{}),
		doneC:       make(chan struct{}),
	}, nil
}

// Start joins the multicast group and starts announcing registered torrents.
func (l *LSD) Start() error {
	listener, err := net.ListenMulticastUDP("udp4", nil, l.group)
	if err != nil {
		return err
	}
	sender, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		_ = listener.Close()
		return err
	}
	l.mu.Lock()
	l.listener = listener
	l.sender = sender
	l.mu.Unlock()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.readLoop(listener)
	}()
	go func() {
		defer wg.Done()
		l.announceLoop()
	}()
	go func() {
		wg.Wait()
		close(l.doneC)
	}()
	return nil
}

// Close stops announcing and closes sockets.
func (l *LSD) Close() {
	l.mu.Lock()
	select {
	case <-l.closeC:
		l.mu.Unlock()
		return
	default:
	}
	close(l.closeC)
	listener, sender := l.listener, l.sender
	l.mu.Unlock()
	if listener == nil {
		return
	}
	_ = listener.Close()
	_ = sender.Close()
	<-l.doneC
}

// Register starts announcing infoHash with the port of its torrent.
// Addresses of local peers announcing the same info hash are sent to peersC.
// Sends to peersC never block; announcements are dropped when it is full.
func (l *LSD) Register(infoHash [20]byte, port int, peersC chan []*net.TCPAddr) {
	l.mu.Lock()
	l.torrents[infoHash] = registration{port: port, peersC: peersC}
	l.mu.Unlock()
	select {
	case l.triggerC <- struct{}{}:
	default:
	}
}

// Unregister stops announcing infoHash.
func (l *LSD) Unregister(infoHash [20]byte) {
	l.mu.Lock()
	delete(l.torrents, infoHash)
	l.mu.Unlock()
}

func (l *LSD) readLoop(conn *net.UDPConn) {
	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.closeC:
			default:
				l.log.Error(err)
			}
			return
		}
		if !l.recvLimiter.Allow() {
			continue
		}
		l.handlePacket(buf[:n], from)
	}
}

func (l *LSD) handlePacket(b []byte, from *net.UDPAddr) {
	a, err := decodeAnnouncement(b)
	if err != nil {
		l.log.Debugf("invalid packet from %s: %s", from, err)
		return
	}
	if a.Cookie == l.cookie {
		return
	}
	addr := &net.TCPAddr{IP: from.IP, Port: a.Port}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ih := range a.InfoHashes {
		reg, ok := l.torrents[ih]
		if !ok {
			continue
		}
		select {
		case reg.peersC <- []*net.TCPAddr{addr}:
		default:
		}
	}
}

func (l *LSD) announceLoop() {
	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-l.triggerC:
		case <-l.closeC:
			return
		}
		if err := l.announce(); err != nil {
			l.log.Debugln("cannot announce:", err)
		}
	}
}

// announce sends one packet per port with all info hashes registered on that port.
func (l *LSD) announce() error {
	for _, p := range l.packets() {
		l.mu.Lock()
		sender := l.sender
		l.mu.Unlock()
		select {
		case <-l.closeC:
			return errClosed
		default:
		}
		if _, err := sender.WriteToUDP(p, l.group); err != nil {
			return err
		}
	}
	return nil
}

func (l *LSD) packets() [][]byte {
	l.mu.Lock()
	byPort := make(map[int][][20]byte)
	for ih, reg := range l.torrents {
		byPort[reg.port] = append(byPort[reg.port], ih)
	}
	l.mu.Unlock()
	var packets [][]byte
	for port, hashes := range byPort {
		packets = append(packets, encodeAnnouncements(l.config.Address, port, l.cookie, hashes)...)
	}
	return packets
}

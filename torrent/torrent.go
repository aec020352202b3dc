package torrent

import (
	"crypto/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/swarmget/swarmget/internal/acceptor"
	"github.com/swarmget/swarmget/internal/addrlist"
	"github.com/swarmget/swarmget/internal/announcer"
	"github.com/swarmget/swarmget/internal/bitfield"
	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/metainfo"
	"github.com/swarmget/swarmget/internal/peer"
	"github.com/swarmget/swarmget/internal/pexlist"
	"github.com/swarmget/swarmget/internal/piece"
	"github.com/swarmget/swarmget/internal/piecepicker"
	"github.com/swarmget/swarmget/internal/piecestore"
	"github.com/swarmget/swarmget/internal/ratelimiter"
	"github.com/swarmget/swarmget/internal/resumer"
	"github.com/swarmget/swarmget/internal/storage"
	"github.com/swarmget/swarmget/internal/tracker"
	"github.com/swarmget/swarmget/internal/unchoker"
)

// torrent connects to peers and downloads files from swarm.
// Fields are accessed from the run loop only, unless noted otherwise.
type torrent struct {
	session *Session
	id      string
	addedAt time.Time

	// Identifies the torrent being downloaded.
	infoHash [20]byte

	// Unique peer ID is generated per downloader.
	peerID [20]byte

	// TCP port to listen for incoming peers.
	port int

	// Storage implementation to save the files in torrent.
	storage storage.Storage

	// Metadata of the torrent. Immutable.
	info *metainfo.Info

	// Name of the torrent from the info dict or the magnet link.
	name string

	// Trackers and manually added peers of the torrent.
	trackers   []tracker.Tracker
	fixedPeers []*net.TCPAddr

	// Saves resume info. May be nil.
	resume resumer.Resumer

	// Counters saved to resume db.
	resumerStats resumer.Stats

	// Set by the open command. Store methods are safe for concurrent use.
	layout *piece.Layout
	files  []storage.File
	store  *piecestore.Store

	// Bitfield count at last write to resume db.
	bitfieldSaved     bool
	lastBitfieldWrite uint32

	// Rate limiters of this torrent in the session groups.
	downloadLimiter *ratelimiter.Limiter
	uploadLimiter   *ratelimiter.Limiter

	// Decides which blocks to request from which peer.
	piecePicker *piecepicker.PiecePicker

	// Decides which peers to unchoke.
	unchoker *unchoker.Unchoker

	// Peers are sent to this channel when they are disconnected.
	peerDisconnectedC chan *peer.Peer

	// All messages coming from peers are sent to this channel.
	messages chan peer.Message

	// We keep connected peers in this map after they complete handshake phase.
	peers         map[*peer.Peer]struct{}
	incomingPeers map[*peer.Peer]struct{}
	outgoingPeers map[*peer.Peer]struct{}

	// Keep a set of peer IDs to block duplicate connections.
	peerIDs map[[20]byte]struct{}

	// Keep IPs of connected and connecting peers to block duplicate connections.
	connectedPeerIPs map[string]struct{}

	// Connections in handshake phase by address. Calling the value cancels the handshake.
	outgoingHandshakers map[string]func()
	incomingHandshakers map[string]func()

	// Handshake results are sent to these channels.
	outgoingHandshakeC chan outgoingHandshakeResult
	incomingHandshakeC chan incomingHandshakeResult

	// Peer addresses to connect.
	addrList *addrlist.AddrList

	// Addresses of recently disconnected peers sent in PEX messages.
	recentlySeen pexlist.RecentlySeen

	// Discovery sources send new peers to these channels.
	addrsFromTrackers chan []*net.TCPAddr
	dhtPeersC         chan []*net.TCPAddr
	lsdPeersC         chan []*net.TCPAddr
	addPeersCommandC  chan []*net.TCPAddr

	// Listens for incoming peer connections.
	acceptor      *acceptor.Acceptor
	incomingConnC chan net.Conn

	// Announces the status of torrent to trackers to get peer addresses.
	announcers []*announcer.PeriodicalAnnouncer

	// Announces to the DHT node of the session.
	dhtAnnouncer *announcer.DHTAnnouncer

	// Announces the stopped event to trackers after the torrent is stopped.
	stoppedEventAnnouncer *announcer.StopAnnouncer
	announcersStoppedC    chan struct{}

	// Closed when all pieces are downloaded. Announcers send the completed event on it.
	completeC chan struct{}
	completed bool

	// Pieces whose completion is handled by the run loop.
	// The store may be ahead while BlockDone events are still queued.
	piecesDone *bitfield.Bitfield

	// If any unrecoverable error occurs, it will be sent to this channel and download will be stopped.
	// It is not nil while the torrent is running.
	errC      chan error
	lastError error

	// Speed of piece data, per second.
	downloadSpeed metrics.Meter
	uploadSpeed   metrics.Meter

	// Piece data transferred, read by announcers.
	bytesDownloaded atomic.Int64
	bytesUploaded   atomic.Int64

	// Periodic tasks of the run loop.
	seedDurationTicker *time.Ticker
	unchokeTicker      *time.Ticker
	dialTicker         *time.Ticker
	resumeWriteTicker  *time.Ticker
	lastSeedTick       time.Time
	lastStatsWriteAt   time.Time

	// When Close() is called, it will close this channel to signal run() function to stop.
	closeC chan struct{}

	// This channel will be closed after run loop exits.
	doneC chan struct{}

	// These are the channels for sending a message to run() loop.
	openCommandC       chan openedData
	statsCommandC      chan statsRequest
	peersCommandC      chan peersRequest
	startCommandC      chan startRequest
	stopCommandC       chan struct{}
	speedLimitCommandC chan SpeedLimits

	log logger.Logger
}

type options struct {
	id         string
	addedAt    time.Time
	infoHash   [20]byte
	name       string
	port       int
	storage    storage.Storage
	info       *metainfo.Info
	trackers   []tracker.Tracker
	fixedPeers []*net.TCPAddr
	resume     resumer.Resumer
	stats      resumer.Stats
}

func newTorrent(s *Session, opt options) (*torrent, error) {
	logName := opt.name
	if len(logName) > 8 {
		logName = logName[:8]
	}
	cfg := &s.config
	t := &torrent{
		session:             s,
		id:                  opt.id,
		addedAt:             opt.addedAt,
		infoHash:            opt.infoHash,
		port:                opt.port,
		storage:             opt.storage,
		info:                opt.info,
		name:                opt.name,
		trackers:            opt.trackers,
		fixedPeers:          opt.fixedPeers,
		resume:              opt.resume,
		resumerStats:        opt.stats,
		log:                 logger.New("torrent " + logName),
		unchoker:            unchoker.New(cfg.UnchokedPeers, cfg.OptimisticUnchokedPeers),
		peerDisconnectedC:   make(chan *peer.Peer),
		messages:            make(chan peer.Message),
		peers:               make(map[*peer.Peer]struct{}),
		incomingPeers:       make(map[*peer.Peer]struct{}),
		outgoingPeers:       make(map[*peer.Peer]struct{}),
		peerIDs:             make(map[[20]byte]struct{}),
		connectedPeerIPs:    make(map[string]struct{}),
		outgoingHandshakers: make(map[string]func()),
		incomingHandshakers: make(map[string]func()),
		outgoingHandshakeC:  make(chan outgoingHandshakeResult),
		incomingHandshakeC:  make(chan incomingHandshakeResult),
		addrList:            addrlist.New(cfg.MaxPeerAddresses, opt.port, nil, cfg.PeerRetryAfter),
		addrsFromTrackers:   make(chan []*net.TCPAddr),
		dhtPeersC:           make(chan []*net.TCPAddr, 1),
		lsdPeersC:           make(chan []*net.TCPAddr, 1),
		addPeersCommandC:    make(chan []*net.TCPAddr),
		incomingConnC:       make(chan net.Conn),
		announcersStoppedC:  make(chan struct{}),
		completeC:           make(chan struct{}),
		downloadSpeed:       metrics.NilMeter{},
		uploadSpeed:         metrics.NilMeter{},
		closeC:              make(chan struct{}),
		doneC:               make(chan struct{}),
		openCommandC:        make(chan openedData),
		statsCommandC:       make(chan statsRequest),
		peersCommandC:       make(chan peersRequest),
		startCommandC:       make(chan startRequest),
		stopCommandC:        make(chan struct{}),
		speedLimitCommandC:  make(chan SpeedLimits),
	}
	copy(t.peerID[:], peerIDPrefix)
	if _, err := rand.Read(t.peerID[len(peerIDPrefix):]); err != nil {
		return nil, err
	}
	limits := s.speedLimits()
	t.downloadLimiter = s.downloadGroup.NewLimiter(rate(limits.TaskDownload))
	t.uploadLimiter = s.uploadGroup.NewLimiter(rate(limits.TaskUpload))
	go t.run()
	return t, nil
}

// Close the torrent and wait for the run loop to exit.
func (t *torrent) Close() {
	select {
	case <-t.closeC:
	default:
		close(t.closeC)
	}
	<-t.doneC
}

// status of the run loop.
func (t *torrent) running() bool {
	return t.errC != nil
}

func (t *torrent) announcerFields() tracker.Torrent {
	tr := tracker.Torrent{
		InfoHash:        t.infoHash,
		PeerID:          t.peerID,
		Port:            t.port,
		BytesDownloaded: t.bytesDownloaded.Load(),
		BytesUploaded:   t.bytesUploaded.Load(),
	}
	if t.store != nil {
		tr.BytesLeft = t.layout.TotalLength - t.store.BytesCompleted()
	} else if t.info != nil {
		tr.BytesLeft = t.info.TotalLength
	}
	return tr
}

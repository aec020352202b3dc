// Package torrent provides a BitTorrent client implementation.
package torrent

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/nictuku/dht"
	"github.com/rcrowley/go-metrics"
	"go.etcd.io/bbolt"

	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/lsd"
	"github.com/swarmget/swarmget/internal/peerprotocol"
	"github.com/swarmget/swarmget/internal/piecestore"
	"github.com/swarmget/swarmget/internal/ratelimiter"
	"github.com/swarmget/swarmget/internal/resumer/boltdbresumer"
	"github.com/swarmget/swarmget/internal/semaphore"
	"github.com/swarmget/swarmget/internal/trackermanager"
)

var torrentsBucket = []byte("torrents")

// Session contains torrents, DHT node, LSD and the resume database.
type Session struct {
	config         Config
	db             *bbolt.DB
	resumer        *boltdbresumer.Resumer
	log            logger.Logger
	dht            *dht.DHT
	lsd            *lsd.LSD
	trackerManager *trackermanager.TrackerManager
	extensions     peerprotocol.Extensions
	closeC         chan struct{}
	closeOnce      sync.Once

	// Memory for staged blocks, shared by all torrents.
	budget *piecestore.Budget

	// Global rate limits.
	downloadGroup *ratelimiter.Group
	uploadGroup   *ratelimiter.Group
	mLimits       sync.Mutex
	limits        SpeedLimits

	// Total speed of all torrents.
	downloadSpeed metrics.Meter
	uploadSpeed   metrics.Meter

	mPeerRequests   sync.Mutex
	dhtPeerRequests []dhtRequest

	mTorrents          sync.RWMutex
	torrents           map[string]*Torrent
	torrentsByInfoHash map[dht.InfoHash][]*Torrent

	mPorts         sync.Mutex
	availablePorts map[int]struct{}

	// Limits the number of tasks that are downloading at the same time.
	queue   *semaphore.Semaphore
	mQueue  sync.Mutex
	running map[string]*runningTask
	wg      sync.WaitGroup

	notifications chan Notification
}

// New returns a new Session. Torrents in the resume database are loaded,
// and the ones that were running when the session was closed are started again.
func New(cfg Config) (*Session, error) {
	cfg.Sanitize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var err error
	cfg.Database, err = homedir.Expand(cfg.Database)
	if err != nil {
		return nil, err
	}
	cfg.DataDir, err = homedir.Expand(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(filepath.Dir(cfg.Database), 0750)
	if err != nil {
		return nil, err
	}
	l := logger.New("session")
	db, err := bbolt.Open(cfg.Database, 0640, &bbolt.Options{Timeout: time.Second})
	if err == bbolt.ErrTimeout {
		return nil, errors.New("resume database is locked by another process")
	} else if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()
	res, err := boltdbresumer.New(db, torrentsBucket)
	if err != nil {
		return nil, err
	}
	ids, err := res.List()
	if err != nil {
		return nil, err
	}
	var dhtNode *dht.DHT
	if cfg.DHTEnabled {
		dhtConfig := dht.NewConfig()
		dhtConfig.Address = cfg.DHTAddress
		dhtConfig.Port = int(cfg.DHTPort)
		dhtConfig.DHTRouters = "router.bittorrent.com:6881,dht.transmissionbt.com:6881,router.utorrent.com:6881,dht.libtorrent.org:25401"
		dhtConfig.SaveRoutingTable = false
		dhtNode, err = dht.New(dhtConfig)
		if err != nil {
			return nil, err
		}
		err = dhtNode.Start()
		if err != nil {
			return nil, err
		}
	}
	var lsdNode *lsd.LSD
	if cfg.LSDEnabled {
		lsdNode, err = lsd.New(lsd.DefaultConfig)
		if err != nil {
			return nil, err
		}
		if err2 := lsdNode.Start(); err2 != nil {
			// Multicast may not be available, e.g. in containers.
			l.Warningln("local service discovery is disabled:", err2)
			lsdNode = nil
		}
	}
	ports := make(map[int]struct{})
	for p := cfg.PortBegin; p < cfg.PortEnd; p++ {
		ports[int(p)] = struct{}{}
	}
	limits := cfg.speedLimits()
	s := &Session{
		config:             cfg,
		db:                 db,
		resumer:            res,
		log:                l,
		dht:                dhtNode,
		lsd:                lsdNode,
		trackerManager:     trackermanager.New(cfg.DNSResolveTimeout, cfg.UDPTrackerRetransmit),
		extensions:         peerprotocol.NewExtensions(true, cfg.DHTEnabled),
		closeC:             make(chan struct{}),
		budget:             piecestore.NewBudget(cfg.MemoryBufferSize << 20),
		downloadGroup:      ratelimiter.NewGroup(rate(limits.Download)),
		uploadGroup:        ratelimiter.NewGroup(rate(limits.Upload)),
		limits:             limits,
		downloadSpeed:      metrics.NewMeter(),
		uploadSpeed:        metrics.NewMeter(),
		torrents:           make(map[string]*Torrent),
		torrentsByInfoHash: make(map[dht.InfoHash][]*Torrent),
		availablePorts:     ports,
		queue:              semaphore.New(cfg.MaxConcurrentTasks),
		running:            make(map[string]*runningTask),
		notifications:      make(chan Notification, 64),
	}
	if dhtNode != nil {
		go s.processDHTResults()
	}
	s.loadExistingTorrents(ids)
	return s, nil
}

func (s *Session) loadExistingTorrents(ids []string) {
	var loaded int
	var started []string
	for _, id := range ids {
		spec, err := s.resumer.Read(id)
		if err != nil {
			s.log.Error(err)
			continue
		}
		if _, err = s.newTask(id, spec); err != nil {
			s.log.Errorf("cannot load torrent %s: %s", id, err)
			continue
		}
		s.log.Debugf("loaded existing torrent: %s %s", id, spec.Name)
		loaded++
		if spec.Started {
			started = append(started, id)
		}
	}
	s.log.Infof("loaded %d existing torrents", loaded)
	for _, id := range started {
		if err := s.Start(id); err != nil {
			s.log.Error(err)
		}
	}
}

// Close stops all torrents and closes the resume database.
// Torrents that are running are started again when a new Session is created with the same database.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closeC) })

	s.mQueue.Lock()
	for _, rt := range s.running {
		rt.cancel()
	}
	s.mQueue.Unlock()

	var wg sync.WaitGroup
	s.mTorrents.Lock()
	wg.Add(len(s.torrents))
	for _, t := range s.torrents {
		go func(t *Torrent) {
			t.Release()
			wg.Done()
		}(t)
	}
	wg.Wait()
	s.torrents = make(map[string]*Torrent)
	s.torrentsByInfoHash = make(map[dht.InfoHash][]*Torrent)
	s.mTorrents.Unlock()
	s.wg.Wait()

	if s.dht != nil {
		s.dht.Stop()
	}
	if s.lsd != nil {
		s.lsd.Close()
	}
	s.trackerManager.Close()
	s.downloadSpeed.Stop()
	s.uploadSpeed.Stop()
	return s.db.Close()
}

func (s *Session) closed() bool {
	select {
	case <-s.closeC:
		return true
	default:
		return false
	}
}

// Tasks returns all torrents in the session ordered by the time they are added.
func (s *Session) Tasks() []*Torrent {
	s.mTorrents.RLock()
	torrents := make([]*Torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		torrents = append(torrents, t)
	}
	s.mTorrents.RUnlock()
	sort.Slice(torrents, func(i, j int) bool {
		if torrents[i].t.addedAt.Equal(torrents[j].t.addedAt) {
			return torrents[i].ID() < torrents[j].ID()
		}
		return torrents[i].t.addedAt.Before(torrents[j].t.addedAt)
	})
	return torrents
}

// Task returns the torrent with id.
func (s *Session) Task(id string) (*Torrent, error) {
	s.mTorrents.RLock()
	defer s.mTorrents.RUnlock()
	t, ok := s.torrents[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// SessionStats contains statistics about a Session.
type SessionStats struct {
	Torrents int
	// Number of tasks that are downloading and waiting in the queue.
	Downloading int
	Queued      int
	// Speeds in bytes/s, 1 minute average.
	SpeedDownload int
	SpeedUpload   int
	// Memory used for staged blocks.
	BufferedBytes int64
	BufferSize    int64
}

// Stats returns statistics about the Session.
func (s *Session) Stats() SessionStats {
	s.mTorrents.RLock()
	n := len(s.torrents)
	s.mTorrents.RUnlock()
	s.mQueue.Lock()
	running := len(s.running)
	s.mQueue.Unlock()
	downloading := s.queue.Len()
	return SessionStats{
		Torrents:      n,
		Downloading:   downloading,
		Queued:        running - downloading,
		SpeedDownload: int(s.downloadSpeed.Rate1()),
		SpeedUpload:   int(s.uploadSpeed.Rate1()),
		BufferedBytes: s.budget.Used(),
		BufferSize:    s.config.MemoryBufferSize << 20,
	}
}

// UpdateSpeedLimits changes the global and per-task speed limits of a running session.
// Limits are sanitized the same way as the values in Config.
func (s *Session) UpdateSpeedLimits(l SpeedLimits) {
	l.Download = sanitizeSpeedLimit(l.Download)
	l.Upload = sanitizeSpeedLimit(l.Upload)
	l.TaskDownload = sanitizeSpeedLimit(l.TaskDownload)
	l.TaskUpload = sanitizeSpeedLimit(l.TaskUpload)
	s.mLimits.Lock()
	s.limits = l
	s.mLimits.Unlock()
	s.downloadGroup.SetRate(rate(l.Download))
	s.uploadGroup.SetRate(rate(l.Upload))
	for _, t := range s.Tasks() {
		select {
		case t.t.speedLimitCommandC <- l:
		case <-t.t.doneC:
		}
	}
}

func (s *Session) speedLimits() SpeedLimits {
	s.mLimits.Lock()
	defer s.mLimits.Unlock()
	return s.limits
}

func (s *Session) getPort() (int, error) {
	s.mPorts.Lock()
	defer s.mPorts.Unlock()
	for p := range s.availablePorts {
		delete(s.availablePorts, p)
		return p, nil
	}
	return 0, errors.New("no free port")
}

func (s *Session) releasePort(port int) {
	if port < int(s.config.PortBegin) || port >= int(s.config.PortEnd) {
		return
	}
	s.mPorts.Lock()
	defer s.mPorts.Unlock()
	s.availablePorts[port] = struct{}{}
}

func (s *Session) reservePort(port int) {
	s.mPorts.Lock()
	defer s.mPorts.Unlock()
	delete(s.availablePorts, port)
}

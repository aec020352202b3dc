package torrent

import (
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid"
	"github.com/nictuku/dht"

	"github.com/swarmget/swarmget/internal/magnet"
	"github.com/swarmget/swarmget/internal/metainfo"
	"github.com/swarmget/swarmget/internal/resumer"
	"github.com/swarmget/swarmget/internal/resumer/boltdbresumer"
	"github.com/swarmget/swarmget/internal/storage/filestorage"
	"github.com/swarmget/swarmget/internal/tracker"
)

// AddTorrent reads a torrent file from r and adds it to the session.
// The torrent is saved to the resume database but not started. Call Start to queue it for downloading.
func (s *Session) AddTorrent(r io.Reader) (*Torrent, error) {
	if s.closed() {
		return nil, ErrSessionClosed
	}
	r = io.LimitReader(r, s.config.MaxTorrentSize)
	mi, err := metainfo.New(r)
	if err != nil {
		return nil, err
	}
	id, port, dest, err := s.add()
	if err != nil {
		return nil, err
	}
	spec := &boltdbresumer.Spec{
		InfoHash: mi.Info.Hash[:],
		Dest:     dest,
		Port:     port,
		Name:     mi.Info.Name,
		Trackers: mi.AnnounceList,
		Info:     mi.Info.Bytes,
		AddedAt:  time.Now().UTC(),
	}
	return s.addSpec(id, spec)
}

// AddMagnet adds the torrent of a magnet link to the session.
// Metadata is not downloaded from peers. If a torrent with the same info hash is already
// in the session, peers in the link are added to it and it is returned.
// Otherwise ErrNoMetadata is returned.
func (s *Session) AddMagnet(link string) (*Torrent, error) {
	if s.closed() {
		return nil, ErrSessionClosed
	}
	ma, err := magnet.New(link)
	if err != nil {
		return nil, err
	}
	s.mTorrents.RLock()
	var existing *Torrent
	for _, t := range s.torrentsByInfoHash[dht.InfoHash(ma.InfoHash[:])] {
		if t.t.info != nil {
			existing = t
			break
		}
	}
	s.mTorrents.RUnlock()
	if existing == nil {
		return nil, ErrNoMetadata
	}
	if peers := resolvePeers(ma.Peers, s.log.Debugln); len(peers) > 0 {
		existing.AddPeers(peers)
	}
	return existing, nil
}

func (s *Session) add() (id string, port int, dest string, err error) {
	port, err = s.getPort()
	if err != nil {
		return
	}
	u1, err := uuid.NewV1()
	if err != nil {
		s.releasePort(port)
		return
	}
	id = base64.RawURLEncoding.EncodeToString(u1[:])
	dest = filepath.Join(s.config.DataDir, id)
	return
}

func (s *Session) addSpec(id string, spec *boltdbresumer.Spec) (*Torrent, error) {
	err := s.resumer.Write(id, spec)
	if err != nil {
		s.releasePort(spec.Port)
		return nil, err
	}
	t, err := s.newTask(id, spec)
	if err != nil {
		s.releasePort(spec.Port)
		_ = s.resumer.Delete(id)
		return nil, err
	}
	return t, nil
}

// newTask creates a Torrent from a spec in the resume database and inserts it into the session.
func (s *Session) newTask(id string, spec *boltdbresumer.Spec) (*Torrent, error) {
	if len(spec.InfoHash) != 20 {
		return nil, fmt.Errorf("invalid info hash length: %d", len(spec.InfoHash))
	}
	var info *metainfo.Info
	if len(spec.Info) > 0 {
		var err error
		info, err = metainfo.NewInfo(spec.Info)
		if err != nil {
			return nil, err
		}
	}
	sto, err := filestorage.New(spec.Dest)
	if err != nil {
		return nil, err
	}
	opt := options{
		id:         id,
		addedAt:    spec.AddedAt,
		name:       spec.Name,
		port:       spec.Port,
		storage:    sto,
		info:       info,
		trackers:   s.parseTrackers(spec.Trackers),
		fixedPeers: resolvePeers(spec.FixedPeers, s.log.Debugln),
		resume:     s.resumer.Torrent(id),
		stats: resumer.Stats{
			BytesDownloaded: spec.BytesDownloaded,
			BytesUploaded:   spec.BytesUploaded,
			BytesWasted:     spec.BytesWasted,
			SeededFor:       spec.SeededFor,
		},
	}
	copy(opt.infoHash[:], spec.InfoHash)
	t, err := newTorrent(s, opt)
	if err != nil {
		return nil, err
	}
	s.reservePort(spec.Port)
	t2 := &Torrent{t: t, port: spec.Port, savedBitfield: spec.Bitfield}
	s.mTorrents.Lock()
	s.torrents[id] = t2
	ih := dht.InfoHash(t.infoHash[:])
	s.torrentsByInfoHash[ih] = append(s.torrentsByInfoHash[ih], t2)
	s.mTorrents.Unlock()
	return t2, nil
}

// Remove stops the torrent and deletes it from the session and the resume database.
// Downloaded files are kept.
func (s *Session) Remove(id string) error {
	s.mTorrents.Lock()
	t, ok := s.torrents[id]
	if !ok {
		s.mTorrents.Unlock()
		return ErrTaskNotFound
	}
	delete(s.torrents, id)
	ih := dht.InfoHash(t.t.infoHash[:])
	others := s.torrentsByInfoHash[ih][:0]
	for _, t2 := range s.torrentsByInfoHash[ih] {
		if t2 != t {
			others = append(others, t2)
		}
	}
	if len(others) == 0 {
		delete(s.torrentsByInfoHash, ih)
	} else {
		s.torrentsByInfoHash[ih] = others
	}
	s.mTorrents.Unlock()

	s.cancelTask(id)
	t.Release()
	s.releasePort(t.port)
	return s.resumer.Delete(id)
}

// parseTrackers returns one tracker for every tier. Unsupported URLs are skipped.
func (s *Session) parseTrackers(tiers [][]string) []tracker.Tracker {
	ret := make([]tracker.Tracker, 0, len(tiers))
	for _, tier := range tiers {
		trackers := make([]tracker.Tracker, 0, len(tier))
		for _, u := range tier {
			t, err := s.trackerManager.Get(u, s.config.TrackerHTTPTimeout, s.config.TrackerHTTPUserAgent, s.config.TrackerHTTPMaxResponseSize)
			if err != nil {
				s.log.Debugln("cannot parse tracker url:", err)
				continue
			}
			trackers = append(trackers, t)
		}
		switch len(trackers) {
		case 0:
		case 1:
			ret = append(ret, trackers[0])
		default:
			ret = append(ret, tracker.NewTier(trackers))
		}
	}
	return ret
}

func resolvePeers(hostports []string, logf func(args ...interface{})) []*net.TCPAddr {
	addrs := make([]*net.TCPAddr, 0, len(hostports))
	for _, hp := range hostports {
		addr, err := net.ResolveTCPAddr("tcp4", hp)
		if err != nil {
			logf("cannot resolve peer address:", err)
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

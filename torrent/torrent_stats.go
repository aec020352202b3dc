package torrent

import (
	"time"

	"github.com/swarmget/swarmget/internal/peerconn"
)

type statsRequest struct {
	Response chan Stats
}

type peersRequest struct {
	Response chan []PeerStats
}

// Status of a torrent's run loop.
type Status int

// Torrent statuses.
const (
	Stopped Status = iota
	Downloading
	Seeding
	Stopping
)

var statusNames = [...]string{"Stopped", "Downloading", "Seeding", "Stopping"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// Stats contains statistics about a torrent.
type Stats struct {
	// Info hash of torrent.
	InfoHash [20]byte
	// Name from the info dictionary or the magnet link.
	Name string
	// Listening port number.
	Port int
	// Status of the torrent.
	Status Status
	// Contains the error if torrent is stopped unexpectedly.
	Error  error
	Pieces struct {
		// Number of pieces hash checked while opening existing files.
		Checked uint32
		// Number of pieces that are downloaded and verified by hash check.
		Have uint32
		// Number of pieces that need to be downloaded.
		Missing uint32
		// Number of unique pieces available on swarm.
		Available uint32
		// Number of total pieces in torrent.
		Total uint32
		// Pieces with received blocks that are not verified yet.
		Staged int
	}
	Bytes struct {
		// Bytes that are downloaded and passed hash check.
		Completed int64
		// Bytes needed to complete all missing pieces.
		Incomplete int64
		// Total = Completed + Incomplete
		Total int64
		// Piece data received from the swarm, including duplicates. Survives restarts.
		Downloaded int64
		// Piece data sent to the swarm. Survives restarts.
		Uploaded int64
		// Bytes of duplicate blocks and pieces that failed hash check.
		Wasted int64
		// Bytes held in memory for staged pieces.
		Staged int64
	}
	Peers struct {
		// Number of peers that are connected, handshaked and ready to send and receive messages.
		Total int
		// Number of peers that have connected to us.
		Incoming int
		// Number of peers that we have connected to.
		Outgoing int
	}
	Handshakes struct {
		Total    int
		Incoming int
		Outgoing int
	}
	// Number of addresses waiting to be dialed.
	Addresses int
	// Speeds in bytes/s, 1 minute average.
	Speed struct {
		Download int
		Upload   int
	}
	Trackers []TrackerStats
	// Duplicate requests are sent for missing blocks in endgame mode.
	Endgame bool
	// Total time the torrent has been seeding.
	SeededFor time.Duration
}

// TrackerStats about a tracker of the torrent.
type TrackerStats struct {
	URL      string
	Status   string
	Error    string
	Seeders  int
	Leechers int
}

// PeerStats about a peer connection or a handshake in progress.
type PeerStats struct {
	Addr   string
	Client string
	Source string
	State  string
	// Whether the peer has connected to us.
	Incoming bool
	// Number of pieces the peer has.
	Pieces      uint32
	Outstanding int
	// Number of pieces that failed hash check with data from the peer.
	HashFailures int
	Speed        struct {
		Download int
		Upload   int
	}
	Bytes struct {
		Downloaded int64
		Uploaded   int64
	}
	ConnectedAt time.Time
}

func (t *torrent) status() Status {
	switch {
	case t.stopping():
		return Stopping
	case !t.running():
		return Stopped
	case t.completed:
		return Seeding
	default:
		return Downloading
	}
}

func (t *torrent) stats() Stats {
	var s Stats
	s.InfoHash = t.infoHash
	s.Name = t.name
	s.Port = t.port
	s.Status = t.status()
	s.Error = t.lastError
	s.Peers.Total = len(t.peers)
	s.Peers.Incoming = len(t.incomingPeers)
	s.Peers.Outgoing = len(t.outgoingPeers)
	s.Handshakes.Incoming = len(t.incomingHandshakers)
	s.Handshakes.Outgoing = len(t.outgoingHandshakers)
	s.Handshakes.Total = s.Handshakes.Incoming + s.Handshakes.Outgoing
	s.Addresses = t.addrList.Len()
	s.Speed.Download = int(t.downloadSpeed.Rate1())
	s.Speed.Upload = int(t.uploadSpeed.Rate1())
	s.Bytes.Downloaded = t.resumerStats.BytesDownloaded
	s.Bytes.Uploaded = t.resumerStats.BytesUploaded
	s.Bytes.Wasted = t.resumerStats.BytesWasted
	s.SeededFor = t.resumerStats.SeededFor

	switch {
	case t.store != nil:
		ss := t.store.Stats()
		s.Pieces.Total = t.layout.NumPieces
		s.Pieces.Have = ss.Completed
		s.Pieces.Missing = s.Pieces.Total - s.Pieces.Have
		s.Pieces.Staged = ss.StagedPieces
		s.Bytes.Total = t.layout.TotalLength
		s.Bytes.Completed = t.store.BytesCompleted()
		s.Bytes.Incomplete = s.Bytes.Total - s.Bytes.Completed
		s.Bytes.Staged = ss.StagedBytes
	case t.info != nil:
		s.Pieces.Total = t.info.NumPieces
		s.Pieces.Missing = t.info.NumPieces
		s.Bytes.Total = t.info.TotalLength
		s.Bytes.Incomplete = t.info.TotalLength
	}
	if t.piecePicker != nil {
		s.Pieces.Available = t.piecePicker.Available()
		s.Endgame = t.piecePicker.Endgame()
	}

	s.Trackers = make([]TrackerStats, 0, len(t.announcers))
	for _, an := range t.announcers {
		as := an.Stats()
		ts := TrackerStats{
			URL:      an.Tracker.URL(),
			Status:   as.Status.String(),
			Seeders:  as.Seeders,
			Leechers: as.Leechers,
		}
		if as.Error != nil {
			ts.Error = as.Error.Message
		}
		s.Trackers = append(s.Trackers, ts)
	}
	return s
}

func (t *torrent) getPeers() []PeerStats {
	peers := make([]PeerStats, 0, len(t.peers)+len(t.incomingHandshakers)+len(t.outgoingHandshakers))
	for pe := range t.peers {
		snap := pe.Snapshot()
		ps := PeerStats{
			Addr:         pe.String(),
			Client:       pe.Client(),
			Source:       pe.Source.String(),
			State:        snap.State.String(),
			Incoming:     pe.Incoming,
			Pieces:       snap.Advertised,
			Outstanding:  snap.Outstanding,
			HashFailures: pe.HashFailures(),
			ConnectedAt:  pe.ConnectedAt,
		}
		ps.Speed.Download = pe.DownloadSpeed()
		ps.Speed.Upload = pe.UploadSpeed()
		ps.Bytes.Downloaded = snap.BytesDownloaded
		ps.Bytes.Uploaded = snap.BytesUploaded
		peers = append(peers, ps)
	}
	for addr := range t.incomingHandshakers {
		peers = append(peers, PeerStats{Addr: addr, Source: "incoming", State: peerconn.Handshaking.String(), Incoming: true})
	}
	for addr := range t.outgoingHandshakers {
		peers = append(peers, PeerStats{Addr: addr, State: peerconn.Handshaking.String()})
	}
	return peers
}

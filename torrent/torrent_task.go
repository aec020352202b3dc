package torrent

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/swarmget/swarmget/internal/bitfield"
	"github.com/swarmget/swarmget/internal/filesection"
	"github.com/swarmget/swarmget/internal/logger"
	"github.com/swarmget/swarmget/internal/piece"
	"github.com/swarmget/swarmget/internal/piecestore"
	"github.com/swarmget/swarmget/internal/storage"
	"github.com/swarmget/swarmget/task"
)

var _ task.Task = (*Torrent)(nil)

// Torrent is a download task of a Session.
// Methods are safe for concurrent use.
type Torrent struct {
	t *torrent

	// Port reserved from the session port range.
	port int

	// Bitfield read from the resume db. Nil if the torrent has never been opened.
	savedBitfield []byte

	// Serializes Open and the cleanup in Release.
	openMu sync.Mutex

	mu           sync.Mutex
	opened       bool
	started      bool
	released     bool
	verifying    bool
	verifyCancel context.CancelFunc
	files        []storage.File
	store        *piecestore.Store

	// Number of pieces hash checked while opening.
	checked atomic.Uint32
}

// ID is the unique identifier of the torrent in the session.
func (t *Torrent) ID() string {
	return t.t.id
}

// Name of the torrent.
func (t *Torrent) Name() string {
	return t.t.name
}

// InfoHash of the torrent as a hex string.
func (t *Torrent) InfoHash() string {
	return hex.EncodeToString(t.t.infoHash[:])
}

// Open creates or opens the files of the torrent.
// If there is no saved bitfield, existing files are hash checked.
// Calling Open on an open torrent does nothing.
func (t *Torrent) Open() error {
	t.openMu.Lock()
	defer t.openMu.Unlock()

	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return ErrReleased
	}
	if t.opened {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if t.t.info == nil {
		return ErrNoMetadata
	}
	layout := piece.NewLayout(t.t.info)
	files, anyExists, err := openFiles(t.t.storage, layout)
	if err != nil {
		return err
	}
	l := logger.New("store " + t.t.name)

	var bf *bitfield.Bitfield
	var savedCount uint32
	var saved bool
	if t.savedBitfield != nil {
		bf, err = bitfield.FromBytes(t.savedBitfield, layout.NumPieces)
		if err != nil {
			l.Warningln("invalid saved bitfield, files will be checked:", err)
			bf = nil
		} else {
			saved = true
			savedCount = bf.Count()
		}
	}
	rw := make([]filesection.ReadWriterAt, len(files))
	for i, f := range files {
		rw[i] = f
	}
	store := piecestore.New(layout, rw, bf, t.t.session.budget, l)

	if bf == nil && anyExists {
		if err = t.verify(store); err != nil {
			store.Close()
			closeFiles(files)
			return err
		}
	}

	od := openedData{layout: layout, files: files, store: store, saved: saved, savedCount: savedCount}
	select {
	case t.t.openCommandC <- od:
	case <-t.t.doneC:
		store.Close()
		closeFiles(files)
		return ErrReleased
	}

	t.mu.Lock()
	t.opened = true
	t.files = files
	t.store = store
	t.mu.Unlock()
	return nil
}

func (t *Torrent) verify(store *piecestore.Store) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return ErrReleased
	}
	t.verifying = true
	t.verifyCancel = cancel
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.verifying = false
		t.verifyCancel = nil
		t.mu.Unlock()
	}()

	t.t.log.Info("checking existing files")
	found, err := store.Verify(ctx, t.checked.Store)
	if errors.Is(err, context.Canceled) {
		return ErrReleased
	}
	if err != nil {
		return fmt.Errorf("cannot check existing files: %w", err)
	}
	t.t.log.Infof("found %d verified pieces", found)
	return nil
}

func openFiles(sto storage.Storage, layout *piece.Layout) (files []storage.File, anyExists bool, err error) {
	files = make([]storage.File, 0, len(layout.Files))
	for _, fr := range layout.Files {
		f, exists, err := sto.Open(fr.Path, fr.Length)
		if err != nil {
			closeFiles(files)
			return nil, false, fmt.Errorf("cannot open %s: %w", fr.Path, err)
		}
		if exists && fr.Length > 0 {
			anyExists = true
		}
		files = append(files, f)
	}
	return files, anyExists, nil
}

func closeFiles(files []storage.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Download starts the torrent and blocks until all pieces are downloaded.
// It returns ErrPaused if Pause is called before completion and ctx.Err() if ctx is done,
// in which case the torrent is paused too.
// An unrecoverable error, such as a disk error, stops the torrent and is returned.
func (t *Torrent) Download(ctx context.Context) error {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return ErrReleased
	}
	if !t.opened {
		t.mu.Unlock()
		return ErrNotOpen
	}
	t.started = true
	t.mu.Unlock()

	if isClosed(t.t.completeC) && !t.t.session.config.Seed {
		return nil
	}

	req := startRequest{Response: make(chan chan error, 1)}
	select {
	case t.t.startCommandC <- req:
	case <-t.t.doneC:
		return ErrReleased
	}
	var errC chan error
	select {
	case errC = <-req.Response:
	case <-t.t.doneC:
		return ErrReleased
	}
	if errC == nil {
		return ErrNotOpen
	}

	select {
	case <-t.t.completeC:
		return nil
	case err := <-errC:
		switch {
		case err == errClosed:
			return ErrReleased
		case err != nil:
			return err
		case isClosed(t.t.completeC):
			return nil
		default:
			return ErrPaused
		}
	case <-ctx.Done():
		t.Pause()
		return ctx.Err()
	}
}

func isClosed(c chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

// Pause stops the torrent. Peers are disconnected and trackers are told that we are leaving.
func (t *Torrent) Pause() {
	select {
	case t.t.stopCommandC <- struct{}{}:
	case <-t.t.doneC:
	}
}

// Release closes the torrent and its files. The torrent cannot be used after Release returns.
func (t *Torrent) Release() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	if t.verifyCancel != nil {
		t.verifyCancel()
	}
	t.mu.Unlock()

	t.t.Close()

	t.openMu.Lock()
	defer t.openMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.store != nil {
		t.store.Close()
		t.store = nil
	}
	closeFiles(t.files)
	t.files = nil
}

// Stats returns statistics about the torrent.
func (t *Torrent) Stats() Stats {
	req := statsRequest{Response: make(chan Stats, 1)}
	select {
	case t.t.statsCommandC <- req:
	case <-t.t.doneC:
		return Stats{InfoHash: t.t.infoHash, Name: t.t.name, Status: Stopped}
	}
	select {
	case s := <-req.Response:
		s.Pieces.Checked = t.checked.Load()
		return s
	case <-t.t.doneC:
		return Stats{InfoHash: t.t.infoHash, Name: t.t.name, Status: Stopped}
	}
}

// Peers returns the connected peers and handshakes in progress.
func (t *Torrent) Peers() []PeerStats {
	req := peersRequest{Response: make(chan []PeerStats, 1)}
	select {
	case t.t.peersCommandC <- req:
	case <-t.t.doneC:
		return nil
	}
	select {
	case p := <-req.Response:
		return p
	case <-t.t.doneC:
		return nil
	}
}

// AddPeers adds peer addresses to be dialed now if the torrent is running and every time it is started.
func (t *Torrent) AddPeers(addrs []*net.TCPAddr) {
	select {
	case t.t.addPeersCommandC <- addrs:
	case <-t.t.doneC:
	}
}

// Status returns a snapshot of the task.
func (t *Torrent) Status() task.Status {
	t.mu.Lock()
	verifying, started, released := t.verifying, t.started, t.released
	t.mu.Unlock()

	s := t.Stats()
	st := task.Status{
		Name:           t.t.name,
		Peers:          s.Peers.Total,
		DownloadSpeed:  s.Speed.Download,
		UploadSpeed:    s.Speed.Upload,
		BytesTotal:     s.Bytes.Total,
		BytesCompleted: s.Bytes.Completed,
		Error:          s.Error,
	}
	if st.Error == errClosed {
		st.Error = nil
	}
	if s.Bytes.Total > 0 {
		st.Completed = float64(s.Bytes.Completed) * 100 / float64(s.Bytes.Total)
	}
	complete := isClosed(t.t.completeC)
	switch {
	case verifying:
		st.State = task.Opening
	case s.Status == Downloading:
		st.State = task.Downloading
	case s.Status == Seeding:
		st.State = task.Seeding
	case st.Error != nil:
		st.State = task.Failed
	case complete:
		st.State = task.Completed
	case started && !released:
		st.State = task.Paused
	default:
		st.State = task.Stopped
	}
	return st
}

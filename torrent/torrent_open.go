package torrent

import (
	"github.com/swarmget/swarmget/internal/piece"
	"github.com/swarmget/swarmget/internal/piecepicker"
	"github.com/swarmget/swarmget/internal/piecestore"
	"github.com/swarmget/swarmget/internal/storage"
)

// openedData is built by Torrent.Open outside of the run loop.
type openedData struct {
	layout *piece.Layout
	files  []storage.File
	store  *piecestore.Store
	// Whether a bitfield was read from the resume db and the number of pieces in it.
	saved      bool
	savedCount uint32
}

func (t *torrent) handleOpened(od openedData) {
	t.layout = od.layout
	t.files = od.files
	t.store = od.store
	t.piecesDone = od.store.Bitfield()
	t.piecePicker = piecepicker.New(od.store, od.layout.NumPieces, t.session.config.EndgameMaxDuplicateDownloads)
	t.bitfieldSaved = od.saved
	t.lastBitfieldWrite = od.savedCount
	t.writeBitfield()
	if od.store.Completed() {
		t.markCompleted()
	}
}

func (t *torrent) markCompleted() {
	if t.completed {
		return
	}
	t.completed = true
	close(t.completeC)
}

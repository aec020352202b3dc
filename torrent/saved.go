package torrent

import (
	"encoding/hex"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.etcd.io/bbolt"

	"github.com/swarmget/swarmget/internal/bitfield"
	"github.com/swarmget/swarmget/internal/metainfo"
	"github.com/swarmget/swarmget/internal/resumer/boltdbresumer"
)

// SavedTask is a torrent as it is stored in the resume database.
type SavedTask struct {
	ID       string
	Name     string
	InfoHash string
	Dest     string
	AddedAt  time.Time `structs:",omitnested"`
	// Whether the task is started when a session is created.
	Started    bool
	Downloaded int64
	Uploaded   int64
	// Pieces are zero if the database has no info dictionary for the torrent.
	Pieces     uint32
	PiecesHave uint32
}

// ListSaved reads the torrents in the resume database of cfg without starting a session.
// It fails if the database is open by a running session.
func ListSaved(cfg Config) ([]SavedTask, error) {
	name, err := homedir.Expand(cfg.Database)
	if err != nil {
		return nil, err
	}
	if _, err = os.Stat(name); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := bbolt.Open(name, 0640, &bbolt.Options{Timeout: time.Second})
	if err == bbolt.ErrTimeout {
		return nil, errors.New("resume database is locked by another process")
	} else if err != nil {
		return nil, err
	}
	defer db.Close()
	res, err := boltdbresumer.New(db, torrentsBucket)
	if err != nil {
		return nil, err
	}
	ids, err := res.List()
	if err != nil {
		return nil, err
	}
	ret := make([]SavedTask, 0, len(ids))
	for _, id := range ids {
		spec, err := res.Read(id)
		if err != nil {
			return nil, err
		}
		st := SavedTask{
			ID:         id,
			Name:       spec.Name,
			InfoHash:   hex.EncodeToString(spec.InfoHash),
			Dest:       spec.Dest,
			AddedAt:    spec.AddedAt,
			Started:    spec.Started,
			Downloaded: spec.BytesDownloaded,
			Uploaded:   spec.BytesUploaded,
		}
		if len(spec.Info) > 0 {
			if info, err := metainfo.NewInfo(spec.Info); err == nil {
				st.Pieces = info.NumPieces
				if bf, err := bitfield.FromBytes(spec.Bitfield, info.NumPieces); err == nil {
					st.PiecesHave = bf.Count()
				}
			}
		}
		ret = append(ret, st)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].AddedAt.Before(ret[j].AddedAt) })
	return ret, nil
}

// Package boltdbresumer provides a Resumer implementation that uses a Bolt database file as storage.
package boltdbresumer

import (
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmget/swarmget/internal/resumer"
)

// Keys for the persistent storage.
var Keys = struct {
	InfoHash        []byte
	Port            []byte
	Name            []byte
	Trackers        []byte
	FixedPeers      []byte
	Dest            []byte
	Info            []byte
	Bitfield        []byte
	AddedAt         []byte
	BytesDownloaded []byte
	BytesUploaded   []byte
	BytesWasted     []byte
	SeededFor       []byte
	Started         []byte
}{
	InfoHash:        []byte("info_hash"),
	Port:            []byte("port"),
	Name:            []byte("name"),
	Trackers:        []byte("trackers"),
	FixedPeers:      []byte("fixed_peers"),
	Dest:            []byte("dest"),
	Info:            []byte("info"),
	Bitfield:        []byte("bitfield"),
	AddedAt:         []byte("added_at"),
	BytesDownloaded: []byte("bytes_downloaded"),
	BytesUploaded:   []byte("bytes_uploaded"),
	BytesWasted:     []byte("bytes_wasted"),
	SeededFor:       []byte("seeded_for"),
	Started:         []byte("started"),
}

// Resumer contains methods for saving/loading resume information of a torrent to a BoltDB database.
type Resumer struct {
	db     *bbolt.DB
	bucket []byte
}

// New returns a new Resumer.
func New(db *bbolt.DB, bucket []byte) (*Resumer, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(bucket)
		return err2
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{
		db:     db,
		bucket: bucket,
	}, nil
}

// Write the torrent spec for torrent with `torrentID`.
func (r *Resumer) Write(torrentID string, spec *Spec) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(r.bucket).CreateBucketIfNotExists([]byte(torrentID))
		if err != nil {
			return err
		}
		for _, kv := range []struct {
			key, value []byte
		}{
			{Keys.InfoHash, spec.InfoHash},
			{Keys.Dest, []byte(spec.Dest)},
			{Keys.Port, []byte(strconv.Itoa(spec.Port))},
			{Keys.Name, []byte(spec.Name)},
			{Keys.Trackers, encodeTiers(spec.Trackers)},
			{Keys.FixedPeers, encodeList(spec.FixedPeers)},
			{Keys.Info, spec.Info},
			{Keys.Bitfield, spec.Bitfield},
			{Keys.AddedAt, []byte(spec.AddedAt.Format(time.RFC3339))},
			{Keys.BytesDownloaded, []byte(strconv.FormatInt(spec.BytesDownloaded, 10))},
			{Keys.BytesUploaded, []byte(strconv.FormatInt(spec.BytesUploaded, 10))},
			{Keys.BytesWasted, []byte(strconv.FormatInt(spec.BytesWasted, 10))},
			{Keys.SeededFor, []byte(spec.SeededFor.String())},
			{Keys.Started, []byte(strconv.FormatBool(spec.Started))},
		} {
			if kv.value == nil {
				continue
			}
			if err = b.Put(kv.key, kv.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Resumer) put(torrentID string, key, value []byte) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return nil
		}
		return b.Put(key, value)
	})
}

// WriteInfo writes only the info dict of a torrent.
func (r *Resumer) WriteInfo(torrentID string, value []byte) error {
	return r.put(torrentID, Keys.Info, value)
}

// WriteBitfield writes only bitfield of a torrent.
func (r *Resumer) WriteBitfield(torrentID string, value []byte) error {
	return r.put(torrentID, Keys.Bitfield, value)
}

// WriteStarted writes the start status of a torrent.
func (r *Resumer) WriteStarted(torrentID string, value bool) error {
	return r.put(torrentID, Keys.Started, []byte(strconv.FormatBool(value)))
}

// WriteStats writes the transfer counters of a torrent.
func (r *Resumer) WriteStats(torrentID string, s resumer.Stats) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return nil
		}
		_ = b.Put(Keys.BytesDownloaded, []byte(strconv.FormatInt(s.BytesDownloaded, 10)))
		_ = b.Put(Keys.BytesUploaded, []byte(strconv.FormatInt(s.BytesUploaded, 10)))
		_ = b.Put(Keys.BytesWasted, []byte(strconv.FormatInt(s.BytesWasted, 10)))
		return b.Put(Keys.SeededFor, []byte(s.SeededFor.String()))
	})
}

// Delete removes all resume info of the torrent.
func (r *Resumer) Delete(torrentID string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(r.bucket).DeleteBucket([]byte(torrentID))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// List returns the ids of all saved torrents.
func (r *Resumer) List() ([]string, error) {
	var ids []string
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(r.bucket).ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

// Torrent returns a resumer.Resumer that writes to the bucket of torrentID.
func (r *Resumer) Torrent(torrentID string) resumer.Resumer {
	return &torrentResumer{r: r, id: torrentID}
}

type torrentResumer struct {
	r  *Resumer
	id string
}

func (t *torrentResumer) WriteInfo(b []byte) error         { return t.r.WriteInfo(t.id, b) }
func (t *torrentResumer) WriteBitfield(b []byte) error     { return t.r.WriteBitfield(t.id, b) }
func (t *torrentResumer) WriteStats(s resumer.Stats) error { return t.r.WriteStats(t.id, s) }

// Read the spec of torrentID. Byte slices in the returned spec are copies.
func (r *Resumer) Read(torrentID string) (*Spec, error) {
	var spec *Spec
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return fmt.Errorf("bucket not found: %q", torrentID)
		}

		value := b.Get(Keys.InfoHash)
		if value == nil {
			return fmt.Errorf("key not found: %q", string(Keys.InfoHash))
		}

		spec = new(Spec)
		spec.InfoHash = copyBytes(value)

		var err error
		value = b.Get(Keys.Port)
		spec.Port, err = strconv.Atoi(string(value))
		if err != nil {
			return err
		}

		spec.Dest = string(b.Get(Keys.Dest))
		spec.Name = string(b.Get(Keys.Name))
		spec.Trackers = decodeTiers(b.Get(Keys.Trackers))
		spec.FixedPeers = decodeList(b.Get(Keys.FixedPeers))
		spec.Info = copyBytes(b.Get(Keys.Info))
		spec.Bitfield = copyBytes(b.Get(Keys.Bitfield))

		value = b.Get(Keys.AddedAt)
		if value != nil {
			spec.AddedAt, err = time.Parse(time.RFC3339, string(value))
			if err != nil {
				return err
			}
		}

		for _, f := range []struct {
			key   []byte
			value *int64
		}{
			{Keys.BytesDownloaded, &spec.BytesDownloaded},
			{Keys.BytesUploaded, &spec.BytesUploaded},
			{Keys.BytesWasted, &spec.BytesWasted},
		} {
			value = b.Get(f.key)
			if value == nil {
				continue
			}
			*f.value, err = strconv.ParseInt(string(value), 10, 64)
			if err != nil {
				return err
			}
		}

		value = b.Get(Keys.SeededFor)
		if value != nil {
			spec.SeededFor, err = time.ParseDuration(string(value))
			if err != nil {
				return err
			}
		}

		value = b.Get(Keys.Started)
		if value != nil {
			spec.Started, err = strconv.ParseBool(string(value))
			if err != nil {
				return err
			}
		}

		return nil
	})
	return spec, err
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

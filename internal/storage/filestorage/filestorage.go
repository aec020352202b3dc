// Package filestorage stores torrent content in regular files under a directory.
package filestorage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/swarmget/swarmget/internal/storage"
)

// FileStorage creates files under a destination directory.
type FileStorage struct {
	dest string
}

var _ storage.Storage = (*FileStorage)(nil)

// New returns a FileStorage rooted at dest.
func New(dest string) (*FileStorage, error) {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}
	return &FileStorage{dest: dest}, nil
}

// Dest returns the absolute destination directory.
func (s *FileStorage) Dest() string {
	return s.dest
}

// Open opens or creates name under the destination directory and makes sure it has size bytes.
// New files are extended with Truncate so unwritten regions stay sparse.
func (s *FileStorage) Open(name string, size int64) (f storage.File, exists bool, err error) {
	name = filepath.Join(s.dest, filepath.Clean("/"+name))
	if !strings.HasPrefix(name, s.dest) {
		return nil, false, os.ErrPermission
	}
	if err = os.MkdirAll(filepath.Dir(name), 0750); err != nil {
		return
	}
	const mode = 0640
	of, err := os.OpenFile(name, os.O_RDWR, mode) // nolint: gosec
	switch {
	case os.IsNotExist(err):
		of, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, mode) // nolint: gosec
	case err == nil:
		exists = true
	}
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = of.Close()
		}
	}()
	fi, err := of.Stat()
	if err != nil {
		return
	}
	if fi.Size() != size {
		if err = of.Truncate(size); err != nil {
			return
		}
	}
	// Read-ahead is only a hint.
	_ = adviseRandomAccess(of)
	return of, exists, nil
}

// Package storage defines where torrent content is read from and written to.
package storage

import "io"

// Storage opens the files of a torrent.
type Storage interface {
	// Open opens or creates the file at the relative path name with the given size.
	// exists is false if the file has been created by this call.
	Open(name string, size int64) (f File, exists bool, err error)
	// Dest returns the root directory or location of the files.
	Dest() string
}

// File is a random access torrent file.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

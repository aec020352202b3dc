// Package filesection maps a contiguous range of torrent bytes onto file regions.
package filesection

import "io"

// ReadWriterAt is the file interface sections operate on.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Section is a region of one file.
type Section struct {
	File   ReadWriterAt
	Offset int64
	Length int64
}

// Sections are consecutive file regions that together hold one piece.
type Sections []Section

// Length returns the sum of section lengths.
func (s Sections) Length() int64 {
	var n int64
	for _, sec := range s {
		n += sec.Length
	}
	return n
}

// ReadAt reads len(p) bytes starting at off, relative to the start of the first section.
func (s Sections) ReadAt(p []byte, off int64) (int, error) {
	var n int
	for _, sec := range s {
		if len(p) == 0 {
			break
		}
		if off >= sec.Length {
			off -= sec.Length
			continue
		}
		m := sec.Length - off
		if m > int64(len(p)) {
			m = int64(len(p))
		}
		k, err := sec.File.ReadAt(p[:m], sec.Offset+off)
		n += k
		if err == io.EOF && int64(k) == m {
			err = nil
		}
		if err != nil {
			return n, err
		}
		p = p[m:]
		off = 0
	}
	if len(p) > 0 {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// ReadFull fills buf from the start of the sections.
func (s Sections) ReadFull(buf []byte) error {
	_, err := s.ReadAt(buf, 0)
	return err
}

// Write writes p across the sections, each part at its own file offset.
// len(p) must equal s.Length().
func (s Sections) Write(p []byte) (n int, err error) {
	if int64(len(p)) != s.Length() {
		return 0, io.ErrShortWrite
	}
	for _, sec := range s {
		if sec.Length == 0 {
			continue
		}
		var m int
		m, err = sec.File.WriteAt(p[:sec.Length], sec.Offset)
		n += m
		if err != nil {
			return
		}
		if int64(m) < sec.Length {
			return n, io.ErrShortWrite
		}
		p = p[m:]
	}
	return
}

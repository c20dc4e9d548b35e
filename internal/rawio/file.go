// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package rawio

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// ErrReadOnly is returned by a read-only-backed Stream's WriteAt/Truncate.
var ErrReadOnly = errors.New("rawio: stream is read-only")

// LockMode selects the advisory file lock FromFile takes on the host OS,
// per spec.md section 5 "a file handle holds an exclusive lock ... when
// opened read-write, and a shared lock ... when opened read-only". This is
// an OS-level courtesy on top of the in-process bookkeeping every engine
// already does; it exists so two separate OS processes opening the same
// disk image file don't silently corrupt it.
type LockMode int

const (
	LockNone LockMode = iota
	LockShared
	LockExclusive
)

// FromFile opens path as a Stream. Read-only opens are backed by
// golang.org/x/exp/mmap for fast random access to large disk images;
// writable opens use a plain *os.File, since mmap'd regions can't be
// resized and filesystem format/grow operations change length.
func FromFile(path string, writable bool, lock LockMode) (Stream, error) {
	if !writable {
		r, err := mmap.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "rawio: mmap open %s", path)
		}
		if err := platformLock(path, lock); err != nil {
			r.Close()
			return nil, err
		}
		return &mmapStream{r: r, path: path, lock: lock}, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "rawio: open %s", path)
	}
	if err := platformLock(path, lock); err != nil {
		f.Close()
		return nil, err
	}
	return &fileStream{f: f, path: path, lock: lock}, nil
}

// CreateFile creates (or truncates) path as a fresh writable Stream, for
// Format() on a brand-new disk image or archive.
func CreateFile(path string, size int64) (Stream, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "rawio: create %s", path)
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &fileStream{f: f, path: path}, nil
}

type mmapStream struct {
	r    *mmap.ReaderAt
	path string
	lock LockMode
}

func (m *mmapStream) Size() int64 { return int64(m.r.Len()) }

func (m *mmapStream) ReadAt(p []byte, off int64) (int, error) { return m.r.ReadAt(p, off) }

func (m *mmapStream) WriteAt(p []byte, off int64) (int, error) {
	return 0, ErrReadOnly
}

func (m *mmapStream) Truncate(size int64) error { return ErrReadOnly }

func (m *mmapStream) Close() error {
	platformUnlock(m.path, m.lock)
	return m.r.Close()
}

func (m *mmapStream) ReadOnly() bool { return true }

type fileStream struct {
	f    *os.File
	path string
	lock LockMode
}

func (s *fileStream) Size() int64 {
	fi, err := s.f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (s *fileStream) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }

func (s *fileStream) WriteAt(p []byte, off int64) (int, error) { return s.f.WriteAt(p, off) }

func (s *fileStream) Truncate(size int64) error { return s.f.Truncate(size) }

func (s *fileStream) Close() error {
	platformUnlock(s.path, s.lock)
	return s.f.Close()
}

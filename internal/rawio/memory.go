// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package rawio

import (
	"io"

	"github.com/pkg/errors"
)

// memStream is a growable in-memory Stream, used for freshly formatted
// images, archives being built from scratch, and anywhere a caller wants
// no filesystem footprint at all.
type memStream struct {
	buf []byte
}

// FromMemory wraps an existing byte slice (copied) as a Stream.
func FromMemory(initial []byte) Stream {
	buf := make([]byte, len(initial))
	copy(buf, initial)
	return &memStream{buf: buf}
}

// NewMemory returns an empty, growable Stream.
func NewMemory() Stream {
	return &memStream{}
}

func (m *memStream) Size() int64 { return int64(len(m.buf)) }

func (m *memStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("rawio: negative offset")
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memStream) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("rawio: negative offset")
	}
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memStream) Truncate(size int64) error {
	if size < 0 {
		return errors.New("rawio: negative size")
	}
	if size <= int64(len(m.buf)) {
		m.buf = m.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

func (m *memStream) Close() error { return nil }

// Bytes returns the current backing slice without copying. The caller must
// not retain it across further writes.
func (m *memStream) Bytes() []byte { return m.buf }

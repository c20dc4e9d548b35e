// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package container

import (
	"io"

	"github.com/go-vdisk/vdisk/internal/rawio"
)

// windowStream exposes [offset, offset+length) of base as a standalone
// Stream, used by every container that wraps its payload in a header
// (2MG, DiskCopy) or partitions a larger volume (APM,
// MicroDrive, DOS-800K hybrid -- see internal/apm, internal/microdrive,
// internal/dos800, which all build one of these too).
type windowStream struct {
	base   rawio.Stream
	offset int64
	length int64
}

func NewWindow(base rawio.Stream, offset, length int64) rawio.Stream {
	return &windowStream{base: base, offset: offset, length: length}
}

func (w *windowStream) Size() int64 { return w.length }

func (w *windowStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if off >= w.length {
		return 0, io.EOF
	}
	end := off + int64(len(p))
	if end > w.length {
		p = p[:w.length-off]
	}
	n, err := w.base.ReadAt(p, w.offset+off)
	if err == nil && int64(n) < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

func (w *windowStream) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > w.length {
		return 0, io.ErrShortWrite
	}
	return w.base.WriteAt(p, w.offset+off)
}

func (w *windowStream) Truncate(size int64) error {
	w.length = size
	return nil
}

func (w *windowStream) Close() error { return nil }

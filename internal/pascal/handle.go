// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pascal

import (
	"io"
	"time"

	"github.com/go-vdisk/vdisk"
)

type fileHandle struct {
	fs       *FS
	entry    *fileEntry
	writable bool
	pos      int64
	dirty    bool
}

func (fs *FS) OpenFile(entry vdisk.FileEntry, mode vdisk.OpenMode, part vdisk.ForkKind) (vdisk.FileHandle, error) {
	fe, ok := entry.(*fileEntry)
	if !ok || fe.ref == 0 {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "pascal: cannot open the volume directory")
	}
	if part != vdisk.ForkData {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "pascal: no such fork")
	}
	if fe.ee().damaged {
		return nil, vdisk.NewError(vdisk.Damaged, "pascal: %q is damaged", fe.FileName())
	}

	cur := fs.openForks[fe.ref]
	if mode == vdisk.OpenReadWrite {
		if cur != 0 {
			return nil, vdisk.NewError(vdisk.IoFailure, "pascal: file already open")
		}
		fs.openForks[fe.ref] = -1
	} else {
		if cur < 0 {
			return nil, vdisk.NewError(vdisk.IoFailure, "pascal: file already open read-write")
		}
		fs.openForks[fe.ref] = cur + 1
	}

	return &fileHandle{fs: fs, entry: fe, writable: mode == vdisk.OpenReadWrite}, nil
}

func (h *fileHandle) Read(buf []byte) (int, error) {
	n, err := h.ReadAt(buf, h.pos)
	h.pos += int64(n)
	return n, err
}

func (h *fileHandle) ReadAt(buf []byte, off int64) (int, error) {
	ee := h.entry.ee()
	length := h.entry.DataLength()
	if off >= length {
		return 0, io.EOF
	}
	if off+int64(len(buf)) > length {
		buf = buf[:length-off]
	}
	total := 0
	for len(buf) > 0 {
		blk := ee.firstBlock + int(off/blockSize)
		inBlk := off % blockSize
		var raw [blockSize]byte
		if err := h.fs.chunks.ReadBlock(blk, raw[:]); err != nil {
			return total, vdisk.Wrap(vdisk.IoFailure, err, "pascal: read block %d", blk)
		}
		n := copy(buf, raw[inBlk:])
		buf = buf[n:]
		off += int64(n)
		total += n
	}
	return total, nil
}

func (h *fileHandle) Write(buf []byte) (int, error) {
	n, err := h.WriteAt(buf, h.pos)
	h.pos += int64(n)
	return n, err
}

func (h *fileHandle) WriteAt(buf []byte, off int64) (int, error) {
	if !h.writable {
		return 0, vdisk.NewError(vdisk.IoFailure, "pascal: handle is read-only")
	}
	ee := h.entry.ee()
	wantEnd := off + int64(len(buf))
	if wantEnd > int64(maxFileLen) {
		return 0, vdisk.NewError(vdisk.ArgumentInvalid, "pascal: write exceeds maximum file length")
	}
	if err := h.growTo(ee, wantEnd); err != nil {
		return 0, err
	}

	total := 0
	for len(buf) > 0 {
		blk := ee.firstBlock + int(off/blockSize)
		inBlk := off % blockSize
		var raw [blockSize]byte
		if err := h.fs.chunks.ReadBlock(blk, raw[:]); err != nil {
			return total, vdisk.Wrap(vdisk.IoFailure, err, "pascal: read block %d", blk)
		}
		n := copy(raw[inBlk:], buf)
		if err := h.fs.chunks.WriteBlock(blk, raw[:]); err != nil {
			return total, vdisk.Wrap(vdisk.IoFailure, err, "pascal: write block %d", blk)
		}
		buf = buf[n:]
		off += int64(n)
		total += n
	}

	curLen := int64(ee.blocks()-1)*blockSize + int64(ee.lastByteUse)
	if ee.blocks() == 0 {
		curLen = 0
	}
	if wantEnd > curLen {
		ee.lastByteUse = int(wantEnd-int64(ee.blocks()-1)*blockSize)
		h.dirty = true
	}
	return total, nil
}

// growTo extends ee's block range in place to cover byte offset end,
// zero-filling the grown region. Pascal files are grown in place only:
// if the blocks immediately after the current run are not free, the
// call fails disk full rather than relocating the file.
func (h *fileHandle) growTo(ee *engineEntry, end int64) error {
	wantBlocks := int((end + blockSize - 1) / blockSize)
	if wantBlocks <= ee.blocks() {
		return nil
	}
	need := wantBlocks - ee.blocks()

	occupied := make(map[int]bool)
	for _, other := range h.fs.entries {
		if other == ee {
			continue
		}
		for b := other.firstBlock; b < other.lastBlock; b++ {
			occupied[b] = true
		}
	}
	start := ee.lastBlock
	for b := start; b < start+need; b++ {
		if b >= h.fs.totalBlocks || occupied[b] {
			return vdisk.NewError(vdisk.DiskFull, "pascal: cannot grow file in place")
		}
	}

	var zero [blockSize]byte
	for b := start; b < start+need; b++ {
		if err := h.fs.chunks.WriteBlock(b, zero[:]); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "pascal: zero-fill block %d", b)
		}
	}
	ee.lastBlock = start + need
	return nil
}

func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		h.pos = offset
	case io.SeekCurrent:
		h.pos += offset
	case io.SeekEnd:
		h.pos = h.entry.DataLength() + offset
	}
	return h.pos, nil
}

// SeekSparse is not supported: Pascal files have no holes.
func (h *fileHandle) SeekSparse(offset int64, origin vdisk.SeekOrigin) (int64, error) {
	return 0, vdisk.NewError(vdisk.ArgumentInvalid, "pascal: sparse seek not supported")
}

// SetLength extends with a zero-fill or truncates, releasing the
// now-unused trailing blocks back to the volume.
func (h *fileHandle) SetLength(n int64) error {
	if !h.writable {
		return vdisk.NewError(vdisk.IoFailure, "pascal: handle is read-only")
	}
	ee := h.entry.ee()
	curLen := h.entry.DataLength()
	if n > curLen {
		if err := h.growTo(ee, n); err != nil {
			return err
		}
		ee.lastByteUse = int(n - int64(ee.blocks()-1)*blockSize)
	} else if n < curLen {
		wantBlocks := int((n + blockSize - 1) / blockSize)
		if wantBlocks == 0 {
			wantBlocks = 1
		}
		ee.lastBlock = ee.firstBlock + wantBlocks
		ee.lastByteUse = int(n - int64(wantBlocks-1)*blockSize)
	}
	h.dirty = true
	return nil
}

func (h *fileHandle) Flush() error {
	if !h.dirty {
		return nil
	}
	h.entry.ee().modified = time.Now()
	if err := h.fs.writeDirectory(); err != nil {
		return err
	}
	h.dirty = false
	return nil
}

func (h *fileHandle) Close() error {
	err := h.Flush()
	if h.writable {
		h.fs.openForks[h.entry.ref] = 0
	} else if h.fs.openForks[h.entry.ref] > 0 {
		h.fs.openForks[h.entry.ref]--
	}
	return err
}

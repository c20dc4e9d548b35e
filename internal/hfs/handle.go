// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfs

import (
	"io"
	"time"

	"github.com/go-vdisk/vdisk"
)

type fileHandle struct {
	fs       *FS
	entry    *fileEntry
	writable bool
	fork     vdisk.ForkKind
	pos      int64
	dirty    bool
}

func (fs *FS) OpenFile(entry vdisk.FileEntry, mode vdisk.OpenMode, part vdisk.ForkKind) (vdisk.FileHandle, error) {
	fe, ok := entry.(*fileEntry)
	if !ok || fe.isDir() {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "hfs: cannot open a directory's data fork")
	}
	if fe.ee().damaged {
		return nil, vdisk.NewError(vdisk.Damaged, "hfs: %q is damaged", fe.FileName())
	}
	if part != vdisk.ForkData && part != vdisk.ForkRsrc {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "hfs: no such fork")
	}

	if fs.openForks[fe.ref] == nil {
		fs.openForks[fe.ref] = map[vdisk.ForkKind]int{}
	}
	cur := fs.openForks[fe.ref][part]
	if mode == vdisk.OpenReadWrite {
		if cur != 0 {
			return nil, vdisk.NewError(vdisk.IoFailure, "hfs: fork already open")
		}
		fs.openForks[fe.ref][part] = -1
	} else {
		if cur < 0 {
			return nil, vdisk.NewError(vdisk.IoFailure, "hfs: fork already open read-write")
		}
		fs.openForks[fe.ref][part] = cur + 1
	}

	return &fileHandle{fs: fs, entry: fe, writable: mode == vdisk.OpenReadWrite, fork: part}, nil
}

func (h *fileHandle) extents() *[3]extentDescriptor {
	ee := h.entry.ee()
	if h.fork == vdisk.ForkRsrc {
		return &ee.rsrcExtents
	}
	return &ee.dataExtents
}

func (h *fileHandle) eof() *int {
	ee := h.entry.ee()
	if h.fork == vdisk.ForkRsrc {
		return &ee.rsrcEOF
	}
	return &ee.dataEOF
}

func (h *fileHandle) Read(buf []byte) (int, error) {
	n, err := h.ReadAt(buf, h.pos)
	h.pos += int64(n)
	return n, err
}

func (h *fileHandle) ReadAt(buf []byte, off int64) (int, error) {
	eof := int64(*h.eof())
	if off >= eof {
		return 0, io.EOF
	}
	if off+int64(len(buf)) > eof {
		buf = buf[:eof-off]
	}
	abSize := int64(h.fs.m.allocBlockSize)
	total := 0
	for len(buf) > 0 {
		ab := int(off / abSize)
		inAB := off % abSize
		desc, ok := descAt(*h.extents(), ab)
		if !ok {
			return total, vdisk.NewError(vdisk.Damaged, "hfs: fork has no extent covering offset %d", off)
		}
		run := make([]byte, abSize)
		if err := h.fs.readExtentRun(extentDescriptor{startBlock: uint16(int(desc.startBlock) + (ab - desc.base)), blockCount: uint16(abSize / blockSize)}, run); err != nil {
			return total, err
		}
		n := copy(buf, run[inAB:])
		buf = buf[n:]
		off += int64(n)
		total += n
	}
	return total, nil
}

type resolvedExtent struct {
	startBlock uint16
	base       int // allocation-block index of the first block this descriptor covers
	count      int
}

func descAt(extents [3]extentDescriptor, ab int) (resolvedExtent, bool) {
	base := 0
	for _, e := range extents {
		if e.blockCount == 0 {
			continue
		}
		if ab >= base && ab < base+int(e.blockCount) {
			return resolvedExtent{startBlock: e.startBlock, base: base, count: int(e.blockCount)}, true
		}
		base += int(e.blockCount)
	}
	return resolvedExtent{}, false
}

func (h *fileHandle) Write(buf []byte) (int, error) {
	n, err := h.WriteAt(buf, h.pos)
	h.pos += int64(n)
	return n, err
}

func (h *fileHandle) WriteAt(buf []byte, off int64) (int, error) {
	if !h.writable {
		return 0, vdisk.NewError(vdisk.IoFailure, "hfs: handle is read-only")
	}
	abSize := int64(h.fs.m.allocBlockSize)
	wantEnd := off + int64(len(buf))
	extents := h.extents()
	have := totalBlocks(*extents)
	wantBlocks := int((wantEnd + abSize - 1) / abSize)
	if wantBlocks > have {
		if err := h.fs.growExtents(extents, have, wantBlocks); err != nil {
			return 0, err
		}
		h.dirty = true
	}

	total := 0
	for len(buf) > 0 {
		ab := int(off / abSize)
		inAB := off % abSize
		desc, ok := descAt(*extents, ab)
		if !ok {
			return total, vdisk.NewError(vdisk.Damaged, "hfs: fork has no extent covering offset %d", off)
		}
		run := make([]byte, abSize)
		phys := extentDescriptor{startBlock: uint16(int(desc.startBlock) + (ab - desc.base)), blockCount: uint16(abSize / blockSize)}
		if err := h.fs.readExtentRun(phys, run); err != nil {
			return total, err
		}
		n := copy(run[inAB:], buf)
		if err := h.fs.writeExtentRun(phys, run); err != nil {
			return total, err
		}
		buf = buf[n:]
		off += int64(n)
		total += n
	}

	if eof := h.eof(); int64(*eof) < wantEnd {
		*eof = int(wantEnd)
		h.dirty = true
	}
	return total, nil
}

func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		h.pos = offset
	case io.SeekCurrent:
		h.pos += offset
	case io.SeekEnd:
		h.pos = int64(*h.eof()) + offset
	}
	return h.pos, nil
}

// SeekSparse is not supported: HFS forks in this engine are always fully
// allocated contiguous extents, per Capability.SupportsSparse == false.
func (h *fileHandle) SeekSparse(offset int64, origin vdisk.SeekOrigin) (int64, error) {
	return 0, vdisk.NewError(vdisk.ArgumentInvalid, "hfs: sparse seek not supported")
}

func (h *fileHandle) SetLength(n int64) error {
	extents := h.extents()
	abSize := int64(h.fs.m.allocBlockSize)
	have := totalBlocks(*extents)
	want := int((n + abSize - 1) / abSize)
	if want > have {
		if err := h.fs.growExtents(extents, have, want); err != nil {
			return err
		}
	} else if want < have {
		// Shrinking: free the extent descriptors beyond what's needed and
		// the unneeded tail of a partly needed one, in allocation blocks.
		remaining := want
		for i := range extents {
			if extents[i].blockCount == 0 {
				continue
			}
			if remaining <= 0 {
				h.fs.freeRun(int(extents[i].startBlock), int(extents[i].blockCount))
				extents[i] = extentDescriptor{}
			} else if remaining < int(extents[i].blockCount) {
				freedStart := int(extents[i].startBlock) + remaining
				freedCount := int(extents[i].blockCount) - remaining
				h.fs.freeRun(freedStart, freedCount)
				extents[i].blockCount = uint16(remaining)
				remaining = 0
			} else {
				remaining -= int(extents[i].blockCount)
			}
		}
	}
	*h.eof() = int(n)
	h.dirty = true
	return nil
}

func (h *fileHandle) Flush() error {
	if !h.dirty {
		return nil
	}
	ee := h.entry.ee()
	ee.modified = time.Now()
	if err := h.fs.rebuildCatalog(); err != nil {
		return err
	}
	if err := h.fs.writeBitmap(); err != nil {
		return err
	}
	if err := h.fs.m.write(h.fs.chunks); err != nil {
		return err
	}
	h.dirty = false
	return nil
}

func (h *fileHandle) Close() error {
	err := h.Flush()
	h.releaseFork()
	return err
}

func (h *fileHandle) releaseFork() {
	m := h.fs.openForks[h.entry.ref]
	if m == nil {
		return
	}
	if h.writable {
		m[h.fork] = 0
	} else if m[h.fork] > 0 {
		m[h.fork]--
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package cpm

import (
	"io"

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
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "cpm: cannot open the volume directory")
	}
	if part != vdisk.ForkData {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "cpm: no such fork")
	}

	cur := fs.openForks[fe.ref]
	if mode == vdisk.OpenReadWrite {
		if cur != 0 {
			return nil, vdisk.NewError(vdisk.IoFailure, "cpm: file already open")
		}
		fs.openForks[fe.ref] = -1
	} else {
		if cur < 0 {
			return nil, vdisk.NewError(vdisk.IoFailure, "cpm: file already open read-write")
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
	length := int64(ee.lengthBytes)
	if off >= length {
		return 0, io.EOF
	}
	if off+int64(len(buf)) > length {
		buf = buf[:length-off]
	}
	total := 0
	for len(buf) > 0 {
		blockIdx := int(off / allocBlockSize)
		inBlock := off % allocBlockSize
		n := allocBlockSize - int(inBlock)
		if n > len(buf) {
			n = len(buf)
		}
		if blockIdx >= len(ee.blocks) || ee.blocks[blockIdx] == 0 {
			for i := 0; i < n; i++ {
				buf[i] = 0
			}
		} else {
			raw := make([]byte, allocBlockSize)
			if err := h.fs.readAllocBlock(ee.blocks[blockIdx], raw); err != nil {
				return total, err
			}
			copy(buf[:n], raw[inBlock:])
		}
		buf = buf[n:]
		off += int64(n)
		total += n
	}
	return total, nil
}

func (fs *FS) readAllocBlock(ab uint32, dst []byte) error {
	base := int(ab) * blocksPerAB
	for i := 0; i < blocksPerAB; i++ {
		if err := fs.chunks.ReadBlock(base+i, dst[i*underlyingBlockSize:(i+1)*underlyingBlockSize]); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "cpm: read allocation block %d", ab)
		}
	}
	return nil
}

func (fs *FS) writeAllocBlock(ab uint32, src []byte) error {
	base := int(ab) * blocksPerAB
	for i := 0; i < blocksPerAB; i++ {
		if err := fs.chunks.WriteBlock(base+i, src[i*underlyingBlockSize:(i+1)*underlyingBlockSize]); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "cpm: write allocation block %d", ab)
		}
	}
	return nil
}

func (fs *FS) allocBlock() (uint32, error) {
	for b, free := range fs.free {
		if free {
			fs.free[b] = false
			return b, nil
		}
	}
	return 0, vdisk.NewError(vdisk.DiskFull, "cpm: no free allocation blocks")
}

func (h *fileHandle) Write(buf []byte) (int, error) {
	n, err := h.WriteAt(buf, h.pos)
	h.pos += int64(n)
	return n, err
}

func (h *fileHandle) WriteAt(buf []byte, off int64) (int, error) {
	if !h.writable {
		return 0, vdisk.NewError(vdisk.IoFailure, "cpm: handle is read-only")
	}
	ee := h.entry.ee()
	total := 0
	for len(buf) > 0 {
		blockIdx := int(off / allocBlockSize)
		inBlock := off % allocBlockSize
		n := allocBlockSize - int(inBlock)
		if n > len(buf) {
			n = len(buf)
		}

		for len(ee.blocks) <= blockIdx {
			ee.blocks = append(ee.blocks, 0) // hole until actually written
		}

		allZero := true
		for _, v := range buf[:n] {
			if v != 0 {
				allZero = false
				break
			}
		}

		if ee.blocks[blockIdx] == 0 {
			if allZero {
				// Writing zeros into an unallocated region keeps it a
				// hole, per the sparse law: storage_size must not grow.
			} else {
				nb, err := h.fs.allocBlock()
				if err != nil {
					return total, err
				}
				var zero [allocBlockSize]byte
				if err := h.fs.writeAllocBlock(nb, zero[:]); err != nil {
					return total, err
				}
				ee.blocks[blockIdx] = nb
				h.dirty = true
			}
		}

		if ee.blocks[blockIdx] != 0 {
			raw := make([]byte, allocBlockSize)
			if err := h.fs.readAllocBlock(ee.blocks[blockIdx], raw); err != nil {
				return total, err
			}
			copy(raw[inBlock:], buf[:n])
			if err := h.fs.writeAllocBlock(ee.blocks[blockIdx], raw); err != nil {
				return total, err
			}
		}

		buf = buf[n:]
		off += int64(n)
		total += n
	}

	if end := off; end > int64(ee.lengthBytes) {
		ee.lengthBytes = int(end)
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
		h.pos = int64(h.entry.ee().lengthBytes) + offset
	}
	return h.pos, nil
}

// SeekSparse jumps to the next allocation-block boundary that is
// data (a non-hole block) or a hole (an unallocated or missing
// block), per spec.md's seek-hole/seek-data requirement for this
// filesystem.
func (h *fileHandle) SeekSparse(offset int64, origin vdisk.SeekOrigin) (int64, error) {
	ee := h.entry.ee()
	length := int64(ee.lengthBytes)
	if offset >= length {
		return 0, vdisk.NewError(vdisk.ArgumentInvalid, "cpm: offset beyond end of file")
	}
	blockIdx := int(offset / allocBlockSize)
	isHole := func(i int) bool { return i >= len(ee.blocks) || ee.blocks[i] == 0 }
	for {
		pos := int64(blockIdx) * allocBlockSize
		if pos >= length {
			return length, nil
		}
		if (origin == vdisk.SeekOriginHole) == isHole(blockIdx) {
			if pos < offset {
				pos = offset
			}
			h.pos = pos
			return pos, nil
		}
		blockIdx++
	}
}

func (h *fileHandle) SetLength(n int64) error {
	if !h.writable {
		return vdisk.NewError(vdisk.IoFailure, "cpm: handle is read-only")
	}
	ee := h.entry.ee()
	if n < int64(ee.lengthBytes) {
		wantBlocks := int((n + allocBlockSize - 1) / allocBlockSize)
		for i := wantBlocks; i < len(ee.blocks); i++ {
			if ee.blocks[i] != 0 {
				h.fs.free[ee.blocks[i]] = true
			}
		}
		if wantBlocks < len(ee.blocks) {
			ee.blocks = ee.blocks[:wantBlocks]
		}
	}
	// Extending leaves the new region as holes: no allocation happens
	// until a write touches it, per spec.md section 4.3.6.
	ee.lengthBytes = int(n)
	h.dirty = true
	return nil
}

func (h *fileHandle) Flush() error {
	if !h.dirty {
		return nil
	}
	if err := h.fs.writeAllEntries(); err != nil {
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

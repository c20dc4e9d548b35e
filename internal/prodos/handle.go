// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package prodos

import (
	"io"

	"github.com/go-vdisk/vdisk"
)

type fileHandle struct {
	fs       *FS
	entry    *fileFileEntry
	writable bool
	fork     vdisk.ForkKind
	pos      int64

	blocks []int // logical block list, 0 = hole
	dirty  bool
}

func (fs *FS) OpenFile(entry vdisk.FileEntry, mode vdisk.OpenMode, part vdisk.ForkKind) (vdisk.FileHandle, error) {
	fe, ok := entry.(*fileFileEntry)
	if !ok {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "prodos: cannot open a directory's data fork")
	}
	ee := fe.ee()
	if ee.damaged {
		return nil, vdisk.NewError(vdisk.Damaged, "prodos: %q is damaged", fe.FileName())
	}
	if part == vdisk.ForkRsrc && ee.storage != storageExtended {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "prodos: no resource fork")
	}
	if part != vdisk.ForkData && part != vdisk.ForkRsrc {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "prodos: no such fork")
	}

	if fs.openForks[fe.ref] == nil {
		fs.openForks[fe.ref] = map[vdisk.ForkKind]int{}
	}
	cur := fs.openForks[fe.ref][part]
	if mode == vdisk.OpenReadWrite {
		if cur != 0 {
			return nil, vdisk.NewError(vdisk.IoFailure, "prodos: fork already open")
		}
		fs.openForks[fe.ref][part] = -1
	} else {
		if cur < 0 {
			return nil, vdisk.NewError(vdisk.IoFailure, "prodos: fork already open read-write")
		}
		fs.openForks[fe.ref][part] = cur + 1
	}

	h := &fileHandle{fs: fs, entry: fe, writable: mode == vdisk.OpenReadWrite, fork: part}
	h.blocks = fs.blockList(ee) // resource-fork storage in extended files is simplified to share the data-fork tree in this engine
	return h, nil
}

func (h *fileHandle) Read(buf []byte) (int, error) {
	n, err := h.ReadAt(buf, h.pos)
	h.pos += int64(n)
	return n, err
}

func (h *fileHandle) ReadAt(buf []byte, off int64) (int, error) {
	eof := int64(h.entry.ee().eof)
	total := 0
	for len(buf) > 0 {
		if off >= eof {
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		}
		idx := int(off / blockSize)
		inBlk := int(off % blockSize)
		var blk [blockSize]byte
		if idx < len(h.blocks) && h.blocks[idx] != 0 {
			if err := h.fs.chunks.ReadBlock(h.blocks[idx], blk[:]); err != nil {
				return total, vdisk.Wrap(vdisk.IoFailure, err, "prodos: read data block")
			}
		}
		n := copy(buf, blk[inBlk:])
		remain := eof - off
		if int64(n) > remain {
			n = int(remain)
		}
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
		return 0, vdisk.NewError(vdisk.IoFailure, "prodos: handle is read-only")
	}
	if off+int64(len(buf)) > maxFileLen {
		return 0, vdisk.NewError(vdisk.ArgumentInvalid, "prodos: file would exceed maximum length")
	}
	total := 0
	for len(buf) > 0 {
		idx := int(off / blockSize)
		inBlk := int(off % blockSize)
		n := blockSize - inBlk
		if n > len(buf) {
			n = len(buf)
		}

		for len(h.blocks) <= idx {
			h.blocks = append(h.blocks, 0)
		}

		var blk [blockSize]byte
		hadBlock := h.blocks[idx] != 0
		if hadBlock {
			h.fs.chunks.ReadBlock(h.blocks[idx], blk[:])
		}
		copy(blk[inBlk:], buf[:n])

		allZero := true
		for _, b := range blk {
			if b != 0 {
				allZero = false
				break
			}
		}

		if allZero {
			if hadBlock {
				h.fs.freeBlock(h.blocks[idx])
				h.blocks[idx] = 0
				h.dirty = true
			}
		} else {
			if !hadBlock {
				nb, err := h.fs.allocBlock()
				if err != nil {
					return total, err
				}
				h.blocks[idx] = nb
				h.dirty = true
			}
			if err := h.fs.chunks.WriteBlock(h.blocks[idx], blk[:]); err != nil {
				return total, vdisk.Wrap(vdisk.IoFailure, err, "prodos: write data block")
			}
		}

		buf = buf[n:]
		off += int64(n)
		total += n
	}

	ee := h.entry.ee()
	newEOF := off
	if int64(ee.eof) > newEOF {
		newEOF = int64(ee.eof)
	}
	if int64(ee.eof) != newEOF {
		ee.eof = int(newEOF)
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
		h.pos = int64(h.entry.ee().eof) + offset
	}
	return h.pos, nil
}

// SeekSparse implements SEEK_ORIGIN_DATA/HOLE: a hole is a zero
// block-number entry in the storage tree, per spec.md section 4.3.2.
func (h *fileHandle) SeekSparse(offset int64, origin vdisk.SeekOrigin) (int64, error) {
	eof := int64(h.entry.ee().eof)
	idx := int(offset / blockSize)
	for int64(idx)*blockSize < eof {
		isHole := idx >= len(h.blocks) || h.blocks[idx] == 0
		if origin == vdisk.SeekOriginData && !isHole {
			pos := int64(idx) * blockSize
			if pos < offset {
				pos = offset
			}
			return pos, nil
		}
		if origin == vdisk.SeekOriginHole && isHole {
			pos := int64(idx) * blockSize
			if pos < offset {
				pos = offset
			}
			return pos, nil
		}
		idx++
	}
	if origin == vdisk.SeekOriginHole {
		if eof < offset {
			return offset, nil
		}
		return eof, nil
	}
	return eof, nil
}

func (h *fileHandle) SetLength(n int64) error {
	ee := h.entry.ee()
	newCount := int((n + blockSize - 1) / blockSize)
	for len(h.blocks) > newCount {
		last := h.blocks[len(h.blocks)-1]
		if last != 0 {
			h.fs.freeBlock(last)
		}
		h.blocks = h.blocks[:len(h.blocks)-1]
	}
	for len(h.blocks) < newCount {
		h.blocks = append(h.blocks, 0)
	}
	ee.eof = int(n)
	h.dirty = true
	return nil
}

func (h *fileHandle) Flush() error {
	if !h.dirty {
		return nil
	}
	ee := h.entry.ee()
	if err := h.fs.rebuildStorage(ee, h.blocks); err != nil {
		return err
	}
	if err := h.fs.writeEntry(ee); err != nil {
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

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dos33

import (
	"io"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

// fileHandle is a sequential, sparse-aware view of one file's data fork.
// It materializes the full T/S-pair list in memory on open (files are
// small enough on these media that this is always cheap) and mutates it
// on write, per spec.md's sparse rule: writing past the mark leaves
// all-zero sectors unallocated, and the list is trimmed to the highest
// nonzero sector on flush.
type fileHandle struct {
	fs       *FS
	entry    *fileEntry
	writable bool
	pos      int64

	tsChain  [][2]int // (track,sector) of each T/S-list sector, in order
	dataRefs [][2]int // (track,sector) of each data sector, 0,0 = hole
	dirty    bool
}

func (fs *FS) OpenFile(entry vdisk.FileEntry, mode vdisk.OpenMode, part vdisk.ForkKind) (vdisk.FileHandle, error) {
	fe, ok := entry.(*fileEntry)
	if !ok {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "dos33: foreign entry")
	}
	if part != vdisk.ForkData && part != vdisk.ForkRawData {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "dos33: no such fork")
	}
	if fe.ee().damaged {
		return nil, vdisk.NewError(vdisk.Damaged, "dos33: %q is damaged", fe.FileName())
	}

	cur := fs.openForks[fe.ref]
	if mode == vdisk.OpenReadWrite {
		if cur != 0 {
			return nil, vdisk.NewError(vdisk.IoFailure, "dos33: fork already open")
		}
		fs.openForks[fe.ref] = -1
	} else {
		if cur < 0 {
			return nil, vdisk.NewError(vdisk.IoFailure, "dos33: fork already open read-write")
		}
		fs.openForks[fe.ref] = cur + 1
	}

	h := &fileHandle{fs: fs, entry: fe, writable: mode == vdisk.OpenReadWrite}
	if err := h.loadChain(); err != nil {
		fs.releaseFork(fe.ref, mode)
		return nil, err
	}
	return h, nil
}

func (fs *FS) releaseFork(ref fsnode.Ref, mode vdisk.OpenMode) {
	if mode == vdisk.OpenReadWrite {
		fs.openForks[ref] = 0
	} else if fs.openForks[ref] > 0 {
		fs.openForks[ref]--
	}
}

func (h *fileHandle) loadChain() error {
	ee := h.entry.ee()
	t, s := ee.firstTSTrack, ee.firstTSSector
	for t != 0 || s != 0 {
		h.tsChain = append(h.tsChain, [2]int{t, s})
		var buf [sectorSize]byte
		if err := h.fs.chunks.ReadSector(t, s, buf[:]); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "dos33: read T/S list")
		}
		for i := 0; i < tsListMax; i++ {
			dt, ds := int(buf[0x0c+i*2]), int(buf[0x0d+i*2])
			h.dataRefs = append(h.dataRefs, [2]int{dt, ds})
		}
		t, s = int(buf[1]), int(buf[2])
	}
	return nil
}

func (h *fileHandle) Read(buf []byte) (int, error) {
	n, err := h.ReadAt(buf, h.pos)
	h.pos += int64(n)
	return n, err
}

func (h *fileHandle) ReadAt(buf []byte, off int64) (int, error) {
	total := 0
	for len(buf) > 0 {
		idx := int(off / sectorSize)
		inSec := int(off % sectorSize)
		if idx >= len(h.dataRefs) {
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		}
		var sec [sectorSize]byte
		ref := h.dataRefs[idx]
		if ref[0] != 0 || ref[1] != 0 {
			if err := h.fs.chunks.ReadSector(ref[0], ref[1], sec[:]); err != nil {
				return total, vdisk.Wrap(vdisk.IoFailure, err, "dos33: read data sector")
			}
		} // else: hole, sec stays zero

		n := copy(buf, sec[inSec:])
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
		return 0, vdisk.NewError(vdisk.IoFailure, "dos33: handle is read-only")
	}
	if off+int64(len(buf)) > MaxFileLen {
		return 0, vdisk.NewError(vdisk.ArgumentInvalid, "dos33: write would exceed MaxFileLen")
	}
	total := 0
	for len(buf) > 0 {
		idx := int(off / sectorSize)
		inSec := int(off % sectorSize)
		n := sectorSize - inSec
		if n > len(buf) {
			n = len(buf)
		}

		for idx >= len(h.dataRefs) {
			h.dataRefs = append(h.dataRefs, [2]int{0, 0})
		}

		var sec [sectorSize]byte
		ref := h.dataRefs[idx]
		hadData := ref[0] != 0 || ref[1] != 0
		if hadData {
			h.fs.chunks.ReadSector(ref[0], ref[1], sec[:])
		}
		copy(sec[inSec:], buf[:n])

		allZero := true
		for _, b := range sec {
			if b != 0 {
				allZero = false
				break
			}
		}

		if allZero {
			if hadData {
				h.fs.freeSector(ref[0], ref[1])
				h.dataRefs[idx] = [2]int{0, 0}
				h.dirty = true
			}
		} else {
			if !hadData {
				nt, ns, err := h.fs.allocSector()
				if err != nil {
					return total, err
				}
				ref = [2]int{nt, ns}
				h.dataRefs[idx] = ref
				h.dirty = true
			}
			if err := h.fs.chunks.WriteSector(ref[0], ref[1], sec[:]); err != nil {
				return total, vdisk.Wrap(vdisk.IoFailure, err, "dos33: write data sector")
			}
		}

		buf = buf[n:]
		off += int64(n)
		total += n
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
		h.pos = int64(len(h.dataRefs))*sectorSize + offset
	}
	return h.pos, nil
}

// SeekSparse implements SEEK_ORIGIN_DATA/HOLE over the in-memory data-ref
// list: a hole is a (0,0) entry or the region past the last allocated
// sector.
func (h *fileHandle) SeekSparse(offset int64, origin vdisk.SeekOrigin) (int64, error) {
	idx := int(offset / sectorSize)
	for ; idx < len(h.dataRefs); idx++ {
		ref := h.dataRefs[idx]
		isHole := ref[0] == 0 && ref[1] == 0
		if origin == vdisk.SeekOriginData && !isHole {
			pos := int64(idx) * sectorSize
			if pos < offset {
				pos = offset
			}
			return pos, nil
		}
		if origin == vdisk.SeekOriginHole && isHole {
			pos := int64(idx) * sectorSize
			if pos < offset {
				pos = offset
			}
			return pos, nil
		}
	}
	if origin == vdisk.SeekOriginHole {
		end := int64(len(h.dataRefs)) * sectorSize
		if end < offset {
			end = offset
		}
		return end, nil
	}
	return int64(len(h.dataRefs)) * sectorSize, nil
}

func (h *fileHandle) SetLength(n int64) error {
	newCount := int((n + sectorSize - 1) / sectorSize)
	for len(h.dataRefs) > newCount {
		last := h.dataRefs[len(h.dataRefs)-1]
		if last[0] != 0 || last[1] != 0 {
			h.fs.freeSector(last[0], last[1])
		}
		h.dataRefs = h.dataRefs[:len(h.dataRefs)-1]
		h.dirty = true
	}
	for len(h.dataRefs) < newCount {
		h.dataRefs = append(h.dataRefs, [2]int{0, 0})
		h.dirty = true
	}
	return nil
}

// Flush rewrites the T/S-list chain from dataRefs, allocating or freeing
// T/S-list sectors as needed, and updates the catalog entry's sector
// count, per spec.md's "trimmed on flush" rule.
func (h *fileHandle) Flush() error {
	if !h.dirty {
		return nil
	}

	// Trim trailing holes from the logical end, per the sparse law.
	end := len(h.dataRefs)
	for end > 0 && h.dataRefs[end-1][0] == 0 && h.dataRefs[end-1][1] == 0 {
		end--
	}
	live := h.dataRefs[:end]

	neededLists := (len(live) + tsListMax - 1) / tsListMax
	if neededLists == 0 {
		neededLists = 1
	}

	for len(h.tsChain) < neededLists {
		t, s, err := h.fs.allocSector()
		if err != nil {
			return err
		}
		h.tsChain = append(h.tsChain, [2]int{t, s})
	}
	for len(h.tsChain) > neededLists {
		last := h.tsChain[len(h.tsChain)-1]
		h.fs.freeSector(last[0], last[1])
		h.tsChain = h.tsChain[:len(h.tsChain)-1]
	}

	for li, loc := range h.tsChain {
		var buf [sectorSize]byte
		if li+1 < len(h.tsChain) {
			nxt := h.tsChain[li+1]
			buf[1], buf[2] = byte(nxt[0]), byte(nxt[1])
		}
		start := li * tsListMax
		for i := 0; i < tsListMax && start+i < len(live); i++ {
			ref := live[start+i]
			buf[0x0c+i*2] = byte(ref[0])
			buf[0x0d+i*2] = byte(ref[1])
		}
		if err := h.fs.chunks.WriteSector(loc[0], loc[1], buf[:]); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "dos33: write T/S list")
		}
	}

	ee := h.entry.ee()
	ee.firstTSTrack, ee.firstTSSector = h.tsChain[0][0], h.tsChain[0][1]
	ee.sectorCount = len(h.tsChain) + len(live)
	if err := h.fs.writeCatalogEntry(ee); err != nil {
		return err
	}
	h.dirty = false
	return nil
}

func (h *fileHandle) Close() error {
	err := h.Flush()
	mode := vdisk.OpenReadOnly
	if h.writable {
		mode = vdisk.OpenReadWrite
	}
	h.fs.releaseFork(h.entry.ref, mode)
	return err
}

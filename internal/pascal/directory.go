// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pascal

import (
	"sort"
	"time"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

func (fs *FS) FindFileEntry(parent vdisk.FileEntry, name string) (vdisk.FileEntry, error) {
	ref := fs.arena.Lookup(fsnode.Root, name)
	if ref == fsnode.Nil {
		return nil, vdisk.NewError(vdisk.NotFound, "pascal: %q not found", name)
	}
	return &fileEntry{fs: fs, ref: ref}, nil
}

// gap describes one run of blocks not claimed by any file or the fixed
// directory area.
type gap struct{ start, length int }

// findGaps returns every free run of blocks, sorted by starting block.
func (fs *FS) findGaps() []gap {
	type span struct{ start, end int }
	spans := []span{{0, dirBlocks + 2}} // boot blocks + volume directory
	for _, ee := range fs.entries {
		spans = append(spans, span{ee.firstBlock, ee.lastBlock})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var gaps []gap
	cursor := 0
	for _, s := range spans {
		if s.start > cursor {
			gaps = append(gaps, gap{cursor, s.start - cursor})
		}
		if s.end > cursor {
			cursor = s.end
		}
	}
	if cursor < fs.totalBlocks {
		gaps = append(gaps, gap{cursor, fs.totalBlocks - cursor})
	}
	return gaps
}

// allocLargestGap places a file needing n blocks into the single
// largest free run, per spec.md: "new files are placed in the largest
// gap, which usually appends."
func (fs *FS) allocLargestGap(n int) (int, error) {
	gaps := fs.findGaps()
	best := -1
	for i, g := range gaps {
		if g.length >= n && (best == -1 || g.length > gaps[best].length) {
			best = i
		}
	}
	if best == -1 {
		return 0, vdisk.NewError(vdisk.DiskFull, "pascal: no run of %d contiguous blocks", n)
	}
	return gaps[best].start, nil
}

func (fs *FS) findFreeSlot() (int, error) {
	used := make([]bool, dirEntries)
	for _, ee := range fs.entries {
		used[ee.index] = true
	}
	for i := 1; i < dirEntries; i++ {
		if !used[i] {
			return i, nil
		}
	}
	return 0, vdisk.NewError(vdisk.DiskFull, "pascal: volume directory is full")
}

func (fs *FS) CreateFile(parent vdisk.FileEntry, name string, kind vdisk.EntryKind) (vdisk.FileEntry, error) {
	if kind == vdisk.KindDirectory {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "pascal: no subdirectories")
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if fs.arena.Lookup(fsnode.Root, name) != fsnode.Nil {
		return nil, vdisk.NewError(vdisk.IoFailure, "pascal: %q already exists", name)
	}

	slot, err := fs.findFreeSlot()
	if err != nil {
		return nil, err
	}

	// A freshly created file starts at zero length: claim a single
	// block so it has a placement, growing in place later via SetLength.
	start, err := fs.allocLargestGap(1)
	if err != nil {
		return nil, err
	}

	ee := &engineEntry{
		index: slot, firstBlock: start, lastBlock: start + 1,
		ftype: entryData, lastByteUse: 0, modified: time.Now(),
	}
	ref := fs.arena.Create(fsnode.Root, name, vdisk.KindFile)
	fs.entries[ref] = ee

	if err := fs.writeDirectory(); err != nil {
		fs.arena.Free(ref)
		delete(fs.entries, ref)
		return nil, err
	}
	return &fileEntry{fs: fs, ref: ref}, nil
}

func (fs *FS) DeleteFile(entry vdisk.FileEntry) error {
	fe, ok := entry.(*fileEntry)
	if !ok {
		return vdisk.NewError(vdisk.ArgumentInvalid, "pascal: foreign entry")
	}
	if fs.openForks[fe.ref] != 0 {
		return vdisk.NewError(vdisk.IoFailure, "pascal: delete while open")
	}
	fs.arena.Free(fe.ref)
	delete(fs.entries, fe.ref)
	return fs.writeDirectory()
}

func (fs *FS) MoveFile(entry vdisk.FileEntry, newParent vdisk.FileEntry, newName string) error {
	fe, ok := entry.(*fileEntry)
	if !ok {
		return vdisk.NewError(vdisk.ArgumentInvalid, "pascal: foreign entry")
	}
	if err := ValidateName(newName); err != nil {
		return err
	}
	if fs.arena.Lookup(fsnode.Root, newName) != fsnode.Nil {
		return vdisk.NewError(vdisk.IoFailure, "pascal: %q already exists", newName)
	}
	fs.arena.Get(fe.ref).Name = newName
	return fs.writeDirectory()
}

func (fs *FS) AddRsrcFork(entry vdisk.FileEntry) error {
	return vdisk.NewError(vdisk.ArgumentInvalid, "pascal: no resource forks")
}

// Defragment compacts every file toward the start of the volume,
// preserving directory order, freeing every gap in a single pass. It
// requires raw access (no open handles) and is atomic: either every
// file lands at its new position and the directory is rewritten, or an
// I/O failure leaves the volume as it was (this engine buffers the
// whole moved image before writing any of it back).
func (fs *FS) Defragment() error {
	if fs.fileAccess {
		return vdisk.NewError(vdisk.ArgumentInvalid, "pascal: defragment requires raw access")
	}
	if fs.anyOpen() {
		return vdisk.NewError(vdisk.IoFailure, "pascal: defragment while handles are open")
	}

	type moved struct {
		ref     fsnode.Ref
		ee      *engineEntry
		newFrom int
	}
	var order []moved
	for ref, ee := range fs.entries {
		order = append(order, moved{ref: ref, ee: ee})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].ee.firstBlock < order[j].ee.firstBlock })

	cursor := dirBlocks + 2
	staging := make(map[fsnode.Ref][]byte)
	for i := range order {
		ee := order[i].ee
		n := ee.blocks()
		buf := make([]byte, n*blockSize)
		for b := 0; b < n; b++ {
			if err := fs.chunks.ReadBlock(ee.firstBlock+b, buf[b*blockSize:(b+1)*blockSize]); err != nil {
				return vdisk.Wrap(vdisk.IoFailure, err, "pascal: defragment read")
			}
		}
		staging[order[i].ref] = buf
		order[i].newFrom = cursor
		cursor += n
	}

	for i := range order {
		ee := order[i].ee
		n := ee.blocks()
		buf := staging[order[i].ref]
		for b := 0; b < n; b++ {
			if err := fs.chunks.WriteBlock(order[i].newFrom+b, buf[b*blockSize:(b+1)*blockSize]); err != nil {
				return vdisk.Wrap(vdisk.IoFailure, err, "pascal: defragment write")
			}
		}
		ee.lastBlock = order[i].newFrom + n
		ee.firstBlock = order[i].newFrom
	}

	return fs.writeDirectory()
}

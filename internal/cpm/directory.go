// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package cpm

import (
	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

func (fs *FS) FindFileEntry(parent vdisk.FileEntry, name string) (vdisk.FileEntry, error) {
	ref := fs.arena.Lookup(fsnode.Root, name)
	if ref == fsnode.Nil {
		return nil, vdisk.NewError(vdisk.NotFound, "cpm: %q not found", name)
	}
	return &fileEntry{fs: fs, ref: ref}, nil
}

func (fs *FS) CreateFile(parent vdisk.FileEntry, name string, kind vdisk.EntryKind) (vdisk.FileEntry, error) {
	if kind == vdisk.KindDirectory {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "cpm: no subdirectories")
	}
	base, ext := AdjustName(name)
	full := base
	if ext != "" {
		full += "." + ext
	}
	if fs.arena.Lookup(fsnode.Root, full) != fsnode.Nil {
		return nil, vdisk.NewError(vdisk.IoFailure, "cpm: %q already exists", full)
	}

	ref := fs.arena.Create(fsnode.Root, full, vdisk.KindFile)
	ee := &engineEntry{user: 0}
	ee.rawBase, ee.rawExt = packName(base, ext)
	fs.entries[ref] = ee

	if err := fs.writeAllEntries(); err != nil {
		fs.arena.Free(ref)
		delete(fs.entries, ref)
		return nil, err
	}
	return &fileEntry{fs: fs, ref: ref}, nil
}

func (fs *FS) DeleteFile(entry vdisk.FileEntry) error {
	fe, ok := entry.(*fileEntry)
	if !ok {
		return vdisk.NewError(vdisk.ArgumentInvalid, "cpm: foreign entry")
	}
	if fs.openForks[fe.ref] != 0 {
		return vdisk.NewError(vdisk.IoFailure, "cpm: delete while open")
	}
	ee := fs.entries[fe.ref]
	for _, b := range ee.blocks {
		if b != 0 {
			fs.free[b] = true
		}
	}
	fs.arena.Free(fe.ref)
	delete(fs.entries, fe.ref)
	return fs.writeAllEntries()
}

// MoveFile renames in place; CP/M has no subdirectories, so newParent
// is ignored beyond validating it is the volume root.
func (fs *FS) MoveFile(entry vdisk.FileEntry, newParent vdisk.FileEntry, newName string) error {
	fe, ok := entry.(*fileEntry)
	if !ok {
		return vdisk.NewError(vdisk.ArgumentInvalid, "cpm: foreign entry")
	}
	base, ext := AdjustName(newName)
	full := base
	if ext != "" {
		full += "." + ext
	}
	if fs.arena.Lookup(fsnode.Root, full) != fsnode.Nil {
		return vdisk.NewError(vdisk.IoFailure, "cpm: %q already exists", full)
	}
	ee := fs.entries[fe.ref]
	ee.rawBase, ee.rawExt = packName(base, ext)
	fs.arena.Get(fe.ref).Name = full
	return fs.writeAllEntries()
}

func (fs *FS) AddRsrcFork(entry vdisk.FileEntry) error {
	return vdisk.NewError(vdisk.ArgumentInvalid, "cpm: no resource forks")
}

// writeAllEntries regenerates the whole 64-slot directory from the live
// entry set, splitting each file's block list into blocksPerExt-sized
// extents. Simpler than incremental slot bookkeeping and cheap enough
// for the 64-entry directories this engine targets.
func (fs *FS) writeAllEntries() error {
	var buf [dirEntries * dirEntrySize]byte
	for i := range buf {
		buf[i] = deletedUser
	}

	slot := 0
	for _, ee := range fs.entries {
		n := len(ee.blocks)
		if n == 0 {
			n = 1 // an empty file still occupies one (fully sparse) extent
		}
		for start := 0; start < n; start += fs.blocksPerExt {
			if slot >= dirEntries {
				return vdisk.NewError(vdisk.DiskFull, "cpm: directory is full")
			}
			end := start + fs.blocksPerExt
			if end > n {
				end = n
			}
			e := buf[slot*dirEntrySize:][:dirEntrySize]
			e[0] = ee.user
			copy(e[1:9], ee.rawBase[:])
			copy(e[9:12], ee.rawExt[:])
			if ee.readOnly {
				e[9] |= 0x80
			}
			if ee.system {
				e[10] |= 0x80
			}
			if ee.archive {
				e[11] |= 0x80
			}
			extentNum := start / fs.blocksPerExt
			e[12] = byte(extentNum % 32)
			e[14] = byte(extentNum / 32)

			rc := recordsPerAB
			if end == n {
				remBytes := ee.lengthBytes - (n-1)*allocBlockSize
				if remBytes < 0 {
					remBytes = 0
				}
				rc = (remBytes + recordSize - 1) / recordSize
				if rc == 0 && ee.lengthBytes > 0 {
					rc = 1
				}
			}
			e[15] = byte(rc)

			for j := start; j < end; j++ {
				var b uint32
				if j < len(ee.blocks) {
					b = ee.blocks[j]
				}
				if fs.use8bit {
					e[16+(j-start)] = byte(b)
				} else {
					e[16+(j-start)*2] = byte(b)
					e[17+(j-start)*2] = byte(b >> 8)
				}
			}
			slot++
		}
	}
	return fs.writeDirectoryRaw(buf)
}

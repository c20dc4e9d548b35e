// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfs

import (
	"time"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

// fileEntry is the single FileEntry implementation for both directories
// and files: HFS catalog records for the two kinds differ mainly in
// which fields are meaningful, so one wrapper (selecting on
// e.fs.arena.Get(e.ref).Kind) tracks the teacher's own BeHierarchic
// entry style more closely than two near-duplicate types would.
type fileEntry struct {
	fs  *FS
	ref fsnode.Ref
}

func (e *fileEntry) ee() *engineEntry { return e.fs.entries[e.ref] }
func (e *fileEntry) isDir() bool {
	return e.ref == fsnode.Root || e.fs.arena.Get(e.ref).Kind == vdisk.KindDirectory
}

func (e *fileEntry) FileName() string {
	if e.ref == fsnode.Root {
		return e.fs.volumeName
	}
	return e.fs.arena.Get(e.ref).Name
}
func (e *fileEntry) SetFileName(name string) error {
	if e.ref == fsnode.Root {
		if err := ValidateName(name); err != nil {
			return err
		}
		e.fs.volumeName = name
		copy(e.fs.m.volName[:], name)
		e.fs.m.volNameLen = byte(len(name))
		return nil
	}
	parent := e.fs.arena.Get(e.ref).Parent
	return e.fs.MoveFile(e, e.fs.wrapEntry(parent), name)
}
func (e *fileEntry) RawFileName() []byte              { return []byte(e.FileName()) }
func (e *fileEntry) SetRawFileName(b []byte) error    { return e.SetFileName(string(b)) }
func (e *fileEntry) FileType() uint8 {
	if e.isDir() {
		return 0
	}
	t := e.ee().fileType()
	return t[0]
}
func (e *fileEntry) AuxType() uint16 { return 0 }
func (e *fileEntry) AccessFlags() uint8 { return 0 }
func (e *fileEntry) CreateWhen() time.Time {
	if e.ref == fsnode.Root {
		return fromMacTime(e.fs.m.createDate)
	}
	return e.ee().created
}
func (e *fileEntry) ModWhen() time.Time {
	if e.ref == fsnode.Root {
		return fromMacTime(e.fs.m.modifyDate)
	}
	return e.ee().modified
}
func (e *fileEntry) HFSFileType() (uint32, bool) {
	if e.isDir() {
		return 0, false
	}
	t := e.ee().fileType()
	return be32(t[:]), true
}
func (e *fileEntry) HFSCreator() (uint32, bool) {
	if e.isDir() {
		return 0, false
	}
	c := e.ee().creator()
	return be32(c[:]), true
}
func (e *fileEntry) DataLength() int64 {
	if e.isDir() {
		return 0
	}
	return int64(e.ee().dataEOF)
}
func (e *fileEntry) RsrcLength() (int64, bool) {
	if e.isDir() {
		return 0, false
	}
	return int64(e.ee().rsrcEOF), true
}
func (e *fileEntry) StorageSize() int64 {
	if e.isDir() {
		return 0
	}
	ee := e.ee()
	return int64(totalBlocks(ee.dataExtents)+totalBlocks(ee.rsrcExtents)) * int64(e.fs.m.allocBlockSize)
}
func (e *fileEntry) IsDirectory() bool { return e.isDir() }
func (e *fileEntry) HasDataFork() bool { return !e.isDir() }
func (e *fileEntry) HasRsrcFork() bool { return !e.isDir() }
func (e *fileEntry) IsDubious() bool   { return e.fs.dubious }
func (e *fileEntry) IsDamaged() bool {
	if e.ref == fsnode.Root {
		return false
	}
	return e.ee().damaged
}
func (e *fileEntry) ContainingDir() vdisk.FileEntry {
	if e.ref == fsnode.Root {
		return nil
	}
	return e.fs.wrapEntry(e.fs.arena.Get(e.ref).Parent)
}

// BackupWhen is an HFS-specific extension exposed per spec.md's "dynamic
// casts" design note: callers that know they're holding an HFS entry can
// type-assert to *fileEntry (or call this directly) for fields the
// generic FileEntry interface has no room for.
func (e *fileEntry) BackupWhen() time.Time { return e.ee().backupWhen }

func (fs *FS) wrapEntry(ref fsnode.Ref) vdisk.FileEntry {
	return &fileEntry{fs: fs, ref: ref}
}

func (fs *FS) refOf(entry vdisk.FileEntry) fsnode.Ref {
	if e, ok := entry.(*fileEntry); ok {
		return e.ref
	}
	return fsnode.Root
}

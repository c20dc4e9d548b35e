// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package prodos

import (
	"time"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

type dirFileEntry struct {
	fs  *FS
	ref fsnode.Ref
}

func (e *dirFileEntry) ee() *engineEntry { return e.fs.entries[e.ref] }

func (e *dirFileEntry) FileName() string {
	if e.ref == fsnode.Root {
		return e.fs.volumeName
	}
	return e.fs.arena.Get(e.ref).Name
}
func (e *dirFileEntry) SetFileName(name string) error {
	if e.ref == fsnode.Root {
		return vdisk.NewError(vdisk.ArgumentInvalid, "prodos: cannot rename volume directory")
	}
	parent := e.fs.arena.Get(e.ref).Parent
	return e.fs.MoveFile(e, e.fs.wrapEntry(parent), name)
}
func (e *dirFileEntry) RawFileName() []byte { return []byte(e.FileName()) }
func (e *dirFileEntry) SetRawFileName(b []byte) error { return e.SetFileName(string(b)) }
func (e *dirFileEntry) FileType() uint8    { return 0x0f }
func (e *dirFileEntry) AuxType() uint16    { return 0 }
func (e *dirFileEntry) AccessFlags() uint8 {
	if e.ref == fsnode.Root {
		return 0xc3
	}
	return e.ee().access
}
func (e *dirFileEntry) CreateWhen() time.Time { return time.Time{} }
func (e *dirFileEntry) ModWhen() time.Time    { return time.Time{} }
func (e *dirFileEntry) HFSFileType() (uint32, bool) { return 0, false }
func (e *dirFileEntry) HFSCreator() (uint32, bool)  { return 0, false }
func (e *dirFileEntry) DataLength() int64    { return 0 }
func (e *dirFileEntry) RsrcLength() (int64, bool) { return 0, false }
func (e *dirFileEntry) StorageSize() int64 {
	return int64(len(e.fs.dirBlocks[e.ref])) * blockSize
}
func (e *dirFileEntry) IsDirectory() bool { return true }
func (e *dirFileEntry) HasDataFork() bool { return false }
func (e *dirFileEntry) HasRsrcFork() bool { return false }
func (e *dirFileEntry) IsDubious() bool   { return e.fs.dubious }
func (e *dirFileEntry) IsDamaged() bool {
	if e.ref == fsnode.Root {
		return false
	}
	return e.ee().damaged
}
func (e *dirFileEntry) ContainingDir() vdisk.FileEntry {
	if e.ref == fsnode.Root {
		return nil
	}
	return e.fs.wrapEntry(e.fs.arena.Get(e.ref).Parent)
}

type fileFileEntry struct {
	fs  *FS
	ref fsnode.Ref
}

func (e *fileFileEntry) ee() *engineEntry { return e.fs.entries[e.ref] }

func (e *fileFileEntry) FileName() string { return e.fs.arena.Get(e.ref).Name }
func (e *fileFileEntry) SetFileName(name string) error {
	parent := e.fs.arena.Get(e.ref).Parent
	return e.fs.MoveFile(e, e.fs.wrapEntry(parent), name)
}
func (e *fileFileEntry) RawFileName() []byte { return []byte(e.FileName()) }
func (e *fileFileEntry) SetRawFileName(b []byte) error { return e.SetFileName(string(b)) }
func (e *fileFileEntry) FileType() uint8 { return e.ee().ftype }
func (e *fileFileEntry) AuxType() uint16 { return e.ee().auxType }
func (e *fileFileEntry) AccessFlags() uint8 { return e.ee().access }
func (e *fileFileEntry) CreateWhen() time.Time { return e.ee().created }
func (e *fileFileEntry) ModWhen() time.Time    { return e.ee().modified }
func (e *fileFileEntry) HFSFileType() (uint32, bool) {
	ee := e.ee()
	return ee.hfsType, ee.hasHFSTypes
}
func (e *fileFileEntry) HFSCreator() (uint32, bool) {
	ee := e.ee()
	return ee.hfsCreator, ee.hasHFSTypes
}
func (e *fileFileEntry) DataLength() int64 { return int64(e.ee().eof) }
func (e *fileFileEntry) RsrcLength() (int64, bool) {
	ee := e.ee()
	if ee.storage != storageExtended {
		return 0, false
	}
	return 0, true // no resource-fork length is kept, so it reports 0; OpenFile serves the fork from the data-fork blocks (see handle.go)
}
func (e *fileFileEntry) StorageSize() int64 { return int64(e.ee().blocksUsed) * blockSize }
func (e *fileFileEntry) IsDirectory() bool  { return false }
func (e *fileFileEntry) HasDataFork() bool  { return true }
func (e *fileFileEntry) HasRsrcFork() bool  { return e.ee().storage == storageExtended }
func (e *fileFileEntry) IsDubious() bool    { return e.fs.dubious }
func (e *fileFileEntry) IsDamaged() bool    { return e.ee().damaged }
func (e *fileFileEntry) ContainingDir() vdisk.FileEntry {
	return e.fs.wrapEntry(e.fs.arena.Get(e.ref).Parent)
}

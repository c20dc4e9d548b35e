// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pascal

import (
	"time"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

type fileEntry struct {
	fs  *FS
	ref fsnode.Ref
}

func (e *fileEntry) ee() *engineEntry { return e.fs.entries[e.ref] }

func (e *fileEntry) FileName() string {
	if e.ref == fsnode.Root {
		return e.fs.volumeName
	}
	return e.fs.arena.Get(e.ref).Name
}
func (e *fileEntry) SetFileName(name string) error {
	if e.ref == fsnode.Root {
		e.fs.volumeName = AdjustVolumeName(name)
		return e.fs.writeDirectory()
	}
	return e.fs.MoveFile(e, e.fs.VolumeDir(), name)
}
func (e *fileEntry) RawFileName() []byte           { return []byte(e.FileName()) }
func (e *fileEntry) SetRawFileName(b []byte) error { return e.SetFileName(string(b)) }
func (e *fileEntry) FileType() uint8 {
	if e.ref == fsnode.Root {
		return 0
	}
	return e.ee().ftype
}
func (e *fileEntry) AuxType() uint16    { return 0 }
func (e *fileEntry) AccessFlags() uint8 { return 0 }
func (e *fileEntry) CreateWhen() time.Time {
	if e.ref == fsnode.Root {
		return time.Time{}
	}
	return e.ee().modified
}
func (e *fileEntry) ModWhen() time.Time {
	if e.ref == fsnode.Root {
		return time.Time{}
	}
	return e.ee().modified
}
func (e *fileEntry) HFSFileType() (uint32, bool) { return 0, false }
func (e *fileEntry) HFSCreator() (uint32, bool)  { return 0, false }
func (e *fileEntry) DataLength() int64 {
	if e.ref == fsnode.Root {
		return 0
	}
	ee := e.ee()
	if ee.blocks() == 0 {
		return 0
	}
	return int64(ee.blocks()-1)*blockSize + int64(ee.lastByteUse)
}
func (e *fileEntry) RsrcLength() (int64, bool) { return 0, false }
func (e *fileEntry) StorageSize() int64 {
	if e.ref == fsnode.Root {
		return 0
	}
	return int64(e.ee().blocks()) * blockSize
}
func (e *fileEntry) IsDirectory() bool { return e.ref == fsnode.Root }
func (e *fileEntry) HasDataFork() bool { return e.ref != fsnode.Root }
func (e *fileEntry) HasRsrcFork() bool { return false }
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
	return e.fs.VolumeDir()
}

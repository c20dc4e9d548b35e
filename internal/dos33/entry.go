// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dos33

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

func (e *fileEntry) FileName() string { return e.fs.arena.Get(e.ref).Name }

func (e *fileEntry) SetFileName(name string) error {
	return e.fs.MoveFile(e, nil, name)
}

func (e *fileEntry) RawFileName() []byte {
	ee := e.ee()
	out := make([]byte, 30)
	copy(out, ee.rawName[:])
	return out
}

func (e *fileEntry) SetRawFileName(b []byte) error {
	return e.SetFileName(CookName(b))
}

func (e *fileEntry) FileType() uint8 { return byte(e.ee().ftype) }
func (e *fileEntry) AuxType() uint16 { return 0 }

func (e *fileEntry) AccessFlags() uint8 {
	if e.ee().locked {
		return 0x01
	}
	return 0
}

func (e *fileEntry) CreateWhen() time.Time { return time.Time{} }
func (e *fileEntry) ModWhen() time.Time    { return time.Time{} }

func (e *fileEntry) HFSFileType() (uint32, bool) { return 0, false }
func (e *fileEntry) HFSCreator() (uint32, bool)  { return 0, false }

// DataLength computes the cooked length: for I/A/B files, the embedded
// length in the first data sector; for every other type, estimated as the
// catalog entry's sector count less one, times 256, per spec.md section 4.3.1.
func (e *fileEntry) DataLength() int64 {
	ee := e.ee()
	switch ee.ftype {
	case TypeApplesoft, TypeInteger, TypeBinary:
		var first [sectorSize]byte
		t, s := e.firstDataTS()
		if t == 0 && s == 0 {
			return 0
		}
		if err := e.fs.chunks.ReadSector(t, s, first[:]); err != nil {
			return 0
		}
		if ee.ftype == TypeBinary {
			return int64(first[2]) | int64(first[3])<<8
		}
		return int64(first[0]) | int64(first[1])<<8
	default:
		return int64(ee.sectorCount-1) * sectorSize // minus the T/S-list sectors themselves, approximated
	}
}

func (e *fileEntry) firstDataTS() (int, int) {
	ee := e.ee()
	var tsBuf [sectorSize]byte
	if err := e.fs.chunks.ReadSector(ee.firstTSTrack, ee.firstTSSector, tsBuf[:]); err != nil {
		return 0, 0
	}
	return int(tsBuf[0x0c]), int(tsBuf[0x0d])
}

func (e *fileEntry) RsrcLength() (int64, bool) { return 0, false }

func (e *fileEntry) StorageSize() int64 { return int64(e.ee().sectorCount) * sectorSize }

func (e *fileEntry) IsDirectory() bool { return false }
func (e *fileEntry) HasDataFork() bool { return true }
func (e *fileEntry) HasRsrcFork() bool { return false }

func (e *fileEntry) IsDubious() bool { return e.fs.dubious }
func (e *fileEntry) IsDamaged() bool { return e.ee().damaged }

func (e *fileEntry) ContainingDir() vdisk.FileEntry { return e.fs.VolumeDir() }

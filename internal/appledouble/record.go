// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package appledouble

import (
	"time"

	"github.com/go-vdisk/vdisk"
)

// Record is the single entry an AppleSingle/AppleDouble container ever
// holds, per spec.md section 4.4 "a single-entry archive carrying
// attributes... and optional data/rsrc forks."
type Record struct {
	arc     *Archive
	deleted bool

	fileName string
	comment  string
	isDir    bool

	meta FinderMeta

	dataFork []byte
	rsrcFork []byte
	hasData  bool
	hasRsrc  bool
}

func newRecord(a *Archive) *Record {
	now := time.Now()
	return &Record{arc: a, meta: FinderMeta{CreateTime: now, ModTime: now}}
}

func (r *Record) clone(a *Archive) *Record {
	cp := *r
	cp.arc = a
	return &cp
}

func (r *Record) checkLive() error {
	if r.deleted {
		return vdisk.NewError(vdisk.IoFailure, "appledouble: record is detached (deleted or from a cancelled transaction)")
	}
	return nil
}

func (r *Record) FileName() string { return r.fileName }

func (r *Record) SetFileName(name string) error {
	if name == "" {
		return vdisk.NewError(vdisk.ArgumentInvalid, "appledouble: empty filename")
	}
	if err := r.checkLive(); err != nil {
		return err
	}
	r.fileName = name
	return nil
}

func (r *Record) DirSep() byte { return '/' }

func (r *Record) Comment() string { return r.comment }

func (r *Record) SetComment(c string) error {
	if err := r.checkLive(); err != nil {
		return err
	}
	r.comment = c
	return nil
}

func (r *Record) CreateWhen() time.Time { return r.meta.CreateTime }
func (r *Record) ModWhen() time.Time    { return r.meta.ModTime }

func (r *Record) FileType() uint8 { return 0 }
func (r *Record) AuxType() uint16 { return 0 }

func (r *Record) HFSFileType() (uint32, bool) {
	if r.meta.Type == ([4]byte{}) {
		return 0, false
	}
	return uint32(r.meta.Type[0])<<24 | uint32(r.meta.Type[1])<<16 | uint32(r.meta.Type[2])<<8 | uint32(r.meta.Type[3]), true
}

func (r *Record) HFSCreator() (uint32, bool) {
	if r.meta.Creator == ([4]byte{}) {
		return 0, false
	}
	c := r.meta.Creator
	return uint32(c[0])<<24 | uint32(c[1])<<16 | uint32(c[2])<<8 | uint32(c[3]), true
}

func (r *Record) Parts() []vdisk.PartKind {
	var out []vdisk.PartKind
	if r.hasData {
		out = append(out, vdisk.PartData)
	}
	if r.hasRsrc {
		out = append(out, vdisk.PartRsrc)
	}
	return out
}

func (r *Record) PartInfo(kind vdisk.PartKind) (uncompressedLength, storedLength int64, format vdisk.CompressionFormat, ok bool) {
	switch kind {
	case vdisk.PartData:
		if !r.hasData {
			return 0, 0, 0, false
		}
		return int64(len(r.dataFork)), int64(len(r.dataFork)), vdisk.CompressionUncompressed, true
	case vdisk.PartRsrc:
		if !r.hasRsrc {
			return 0, 0, 0, false
		}
		return int64(len(r.rsrcFork)), int64(len(r.rsrcFork)), vdisk.CompressionUncompressed, true
	default:
		return 0, 0, 0, false
	}
}

func (r *Record) IsDubious() bool { return false }
func (r *Record) IsDamaged() bool { return false }

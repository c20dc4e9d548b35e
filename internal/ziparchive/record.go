// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ziparchive

import (
	"time"

	"github.com/go-vdisk/vdisk"
)

// part is one stored stream inside a record. ZIP records hold at most one
// part (PartData); PartRsrc is rejected per spec.md section 4.4 "Resource-
// fork parts are rejected for ZIP records," and PartDiskImage is accepted
// like any other data stream (ZIP has no disk-image thread concept of its
// own, so a disk-image part is kept under its own PartDiskImage key in
// memory and written as an ordinary entry; OpenArchive reads every entry
// back as PartData).
type part struct {
	kind         vdisk.PartKind
	data         []byte // always held uncompressed in memory
	storedLength int64  // length the source last reported as "stored" (informational only until commit recomputes it)
	format       vdisk.CompressionFormat
}

// Record is one ZIP central-directory entry plus its associated part.
type Record struct {
	arc     *Archive
	deleted bool // true once DeleteRecord has been called, or after a cancelled transaction detaches it

	fileName string
	sep      byte
	comment  string

	createWhen time.Time
	modWhen    time.Time

	parts map[vdisk.PartKind]*part

	dubious, damaged bool
}

func newRecord(a *Archive) *Record {
	return &Record{arc: a, sep: '/', parts: map[vdisk.PartKind]*part{}, modWhen: time.Now()}
}

func (r *Record) clone(a *Archive) *Record {
	cp := *r
	cp.arc = a
	cp.parts = map[vdisk.PartKind]*part{}
	for k, v := range r.parts {
		pv := *v
		cp.parts[k] = &pv
	}
	return &cp
}

func (r *Record) checkLive() error {
	if r.deleted {
		return vdisk.NewError(vdisk.IoFailure, "ziparchive: record is detached (deleted or from a cancelled transaction)")
	}
	return nil
}

func (r *Record) FileName() string { return r.fileName }

func (r *Record) SetFileName(name string) error {
	if name == "" {
		return vdisk.NewError(vdisk.ArgumentInvalid, "ziparchive: empty filename")
	}
	if err := r.checkLive(); err != nil {
		return err
	}
	r.fileName = name
	return nil
}

func (r *Record) DirSep() byte { return r.sep }

func (r *Record) Comment() string { return r.comment }

func (r *Record) SetComment(c string) error {
	if err := r.checkLive(); err != nil {
		return err
	}
	r.comment = c
	return nil
}

func (r *Record) CreateWhen() time.Time { return r.createWhen }
func (r *Record) ModWhen() time.Time    { return r.modWhen }

func (r *Record) FileType() uint8                    { return 0 }
func (r *Record) AuxType() uint16                    { return 0 }
func (r *Record) HFSFileType() (uint32, bool)        { return 0, false }
func (r *Record) HFSCreator() (uint32, bool)         { return 0, false }

func (r *Record) Parts() []vdisk.PartKind {
	out := make([]vdisk.PartKind, 0, len(r.parts))
	for k := range r.parts {
		out = append(out, k)
	}
	return out
}

func (r *Record) PartInfo(kind vdisk.PartKind) (uncompressedLength, storedLength int64, format vdisk.CompressionFormat, ok bool) {
	p, found := r.parts[kind]
	if !found {
		return 0, 0, 0, false
	}
	return int64(len(p.data)), p.storedLength, p.format, true
}

func (r *Record) IsDubious() bool { return r.dubious }
func (r *Record) IsDamaged() bool { return r.damaged }

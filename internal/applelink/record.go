// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package applelink

import (
	"time"

	"github.com/go-vdisk/vdisk"
)

// Record is one AppleLink ACU catalog entry.
type Record struct {
	arc *Archive

	fileName   string
	flags      byte
	fileType   byte
	auxType    uint16
	createWhen time.Time
	modWhen    time.Time

	data []byte
}

func (r *Record) FileName() string         { return r.fileName }
func (r *Record) SetFileName(string) error { return vdisk.NewError(vdisk.TransactionState, "applelink: archive is read-only") }
func (r *Record) DirSep() byte             { return '/' }

func (r *Record) Comment() string         { return "" }
func (r *Record) SetComment(string) error { return vdisk.NewError(vdisk.TransactionState, "applelink: archive is read-only") }

func (r *Record) CreateWhen() time.Time { return r.createWhen }
func (r *Record) ModWhen() time.Time    { return r.modWhen }

func (r *Record) FileType() uint8 { return r.fileType }
func (r *Record) AuxType() uint16 { return r.auxType }

func (r *Record) HFSFileType() (uint32, bool) { return 0, false }
func (r *Record) HFSCreator() (uint32, bool)  { return 0, false }

// IsDirectory reports the zero-length, flag-tagged directory entries
// spec.md section 4.4 describes for Binary II and AppleLink ACU.
func (r *Record) IsDirectory() bool { return r.flags&flagDirectory != 0 }

func (r *Record) Parts() []vdisk.PartKind {
	if r.IsDirectory() {
		return nil
	}
	return []vdisk.PartKind{vdisk.PartData}
}

func (r *Record) PartInfo(kind vdisk.PartKind) (uncompressedLength, storedLength int64, format vdisk.CompressionFormat, ok bool) {
	if kind != vdisk.PartData || r.IsDirectory() {
		return 0, 0, 0, false
	}
	return int64(len(r.data)), int64(len(r.data)), vdisk.CompressionUncompressed, true
}

func (r *Record) IsDubious() bool { return false }
func (r *Record) IsDamaged() bool { return false }

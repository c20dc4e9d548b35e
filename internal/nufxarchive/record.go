// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package nufxarchive

import (
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/go-vdisk/vdisk"
)

// threadKind distinguishes NuFX thread purposes. Filename and Comment
// threads are metadata (surfaced through FileName/Comment on the generic
// ArchiveRecord, not through Parts/PartInfo); Data/Rsrc/DiskImage map
// directly onto vdisk.PartKind.
type threadKind int

const (
	threadFilename threadKind = iota
	threadData
	threadRsrc
	threadDiskImage
	threadComment
)

type threadFormat int

const (
	formatUncompressed threadFormat = iota
	formatLZW1
	formatLZW2
)

type thread struct {
	kind         threadKind
	format       threadFormat
	data         []byte // always held decompressed in memory
	extraType    uint32 // disk-image block count, or comment field length
}

// Record is one NuFX/ShrinkIt record.
type Record struct {
	arc     *Archive
	deleted bool

	fileName string
	comment  string
	commentFieldLen int

	access     uint32
	fileType   uint32
	auxType    uint32
	fileSysID  uint16 // per-engine extension field, see design note "dynamic casts"
	createWhen time.Time
	modWhen    time.Time

	parts map[vdisk.PartKind]*thread
}

func newRecord(a *Archive) *Record {
	return &Record{arc: a, parts: map[vdisk.PartKind]*thread{}, modWhen: time.Now(), createWhen: time.Now()}
}

func (r *Record) clone(a *Archive) *Record {
	cp := *r
	cp.arc = a
	cp.parts = map[vdisk.PartKind]*thread{}
	for k, v := range r.parts {
		tv := *v
		cp.parts[k] = &tv
	}
	return &cp
}

func (r *Record) checkLive() error {
	if r.deleted {
		return vdisk.NewError(vdisk.IoFailure, "nufxarchive: record is detached (deleted or from a cancelled transaction)")
	}
	return nil
}

// FileSysID exposes the per-engine NuFX_FileEntry.FileSysID extension
// field described in DESIGN.md's "dynamic casts" note; callers that know
// they're holding a *nufxarchive.Record can read it directly.
func (r *Record) FileSysID() uint16 { return r.fileSysID }
func (r *Record) SetFileSysID(id uint16) { r.fileSysID = id }

func (r *Record) FileName() string { return r.fileName }

func (r *Record) SetFileName(name string) error {
	if name == "" {
		return vdisk.NewError(vdisk.ArgumentInvalid, "nufxarchive: empty filename")
	}
	if err := r.checkLive(); err != nil {
		return err
	}
	r.fileName = name
	return nil
}

func (r *Record) DirSep() byte { return '/' }

func (r *Record) Comment() string { return r.comment }

// SetComment implements spec.md section 9's open question on
// CommentFieldLength: if an existing preallocated comment field is large
// enough for the new text, its size is preserved; otherwise the field
// grows to fit exactly. A brand new comment's field is sized to its text.
func (r *Record) SetComment(c string) error {
	if err := r.checkLive(); err != nil {
		return err
	}
	// Normalize embedded CRLF to CR per spec.md section 4.4 "CRLF in input
	// is normalized to CR."
	normalized := make([]byte, 0, len(c))
	for i := 0; i < len(c); i++ {
		if c[i] == '\r' && i+1 < len(c) && c[i+1] == '\n' {
			normalized = append(normalized, '\r')
			i++
			continue
		}
		normalized = append(normalized, c[i])
	}
	r.comment = string(normalized)
	if r.commentFieldLen < len(normalized) {
		r.commentFieldLen = len(normalized)
	}
	return nil
}

func (r *Record) CreateWhen() time.Time { return r.createWhen }
func (r *Record) ModWhen() time.Time    { return r.modWhen }

func (r *Record) FileType() uint8  { return uint8(r.fileType) }
func (r *Record) AuxType() uint16 { return uint16(r.auxType) }

func (r *Record) HFSFileType() (uint32, bool) {
	if r.fileType == 0 {
		return 0, false
	}
	return r.fileType, true
}
func (r *Record) HFSCreator() (uint32, bool) { return 0, false }

func (r *Record) Parts() []vdisk.PartKind {
	out := make([]vdisk.PartKind, 0, len(r.parts))
	for k := range r.parts {
		out = append(out, k)
	}
	return out
}

func (r *Record) PartInfo(kind vdisk.PartKind) (uncompressedLength, storedLength int64, format vdisk.CompressionFormat, ok bool) {
	t, found := r.parts[kind]
	if !found {
		return 0, 0, 0, false
	}
	cf := vdisk.CompressionUncompressed
	switch t.format {
	case formatLZW1:
		cf = vdisk.CompressionLZW1
	case formatLZW2:
		cf = vdisk.CompressionLZW2
	}
	return int64(len(t.data)), int64(len(t.data)), cf, true
}

func (r *Record) IsDubious() bool { return false }
func (r *Record) IsDamaged() bool { return false }

// macRomanName converts a high-bit-set-all-cleared Mac OS Roman filename
// (spec.md section 4.4: "Filenames whose bytes have all high bits set are
// converted to Mac OS Roman with high bits cleared on read") to UTF-8.
func macRomanName(raw []byte) string {
	allHigh := len(raw) > 0
	for _, b := range raw {
		if b < 0x80 {
			allHigh = false
			break
		}
	}
	if !allHigh {
		return string(raw)
	}
	cleared := make([]byte, len(raw))
	for i, b := range raw {
		cleared[i] = b &^ 0x80
	}
	out, err := charmap.MacintoshRoman.NewDecoder().Bytes(cleared)
	if err != nil {
		return string(cleared)
	}
	return string(out)
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package vdisk

import "time"

// ArchiveKind names the archive file format a stream was recognized as,
// per spec.md section 6 "Archive file formats".
type ArchiveKind int

const (
	ArchiveUnknown ArchiveKind = iota
	ArchiveNuFX
	ArchiveNuFXBXY
	ArchiveBinary2
	ArchiveAppleLinkACU
	ArchiveAppleSingle
	ArchiveAppleDouble
	ArchiveZIP
)

func (k ArchiveKind) String() string {
	switch k {
	case ArchiveNuFX:
		return "NuFX"
	case ArchiveNuFXBXY:
		return "NuFX+BXY"
	case ArchiveBinary2:
		return "Binary II"
	case ArchiveAppleLinkACU:
		return "AppleLink ACU"
	case ArchiveAppleSingle:
		return "AppleSingle"
	case ArchiveAppleDouble:
		return "AppleDouble"
	case ArchiveZIP:
		return "ZIP"
	default:
		return "Unknown"
	}
}

// PartKind names one part/thread of an archive record, per spec.md section
// 3 "Archive record".
type PartKind int

const (
	PartData PartKind = iota
	PartRsrc
	PartDiskImage
)

// CompressionFormat selects how a part is stored.
type CompressionFormat int

const (
	// CompressionDefault: the engine picks based on the compressor's own
	// guess at whether the data is already compressed.
	CompressionDefault CompressionFormat = iota
	CompressionUncompressed
	CompressionLZW1 // NuFX only
	CompressionLZW2 // NuFX only
	CompressionDeflate // ZIP only
)

// PartSource is a pull interface an archive engine reads from when writing
// a part, per spec.md section 4.4. Sources must be rewindable: the engine
// reads once to compute a checksum, then rewinds to stream-compress into
// the output. A source may produce short reads deliberately, and a failing
// source's error propagates unchanged.
type PartSource interface {
	Open() error
	Read(buf []byte) (int, error)
	Rewind() error
	Close() error
	// Size reports the uncompressed length, known up front.
	Size() int64
}

// ArchiveRecord is the generic view of one record, per spec.md section 3.
type ArchiveRecord interface {
	FileName() string
	SetFileName(string) error
	// DirSep returns the directory-separator byte this record's filename
	// embeds (archives store paths as a single field with a record-owned
	// separator, not an OS path).
	DirSep() byte

	Comment() string
	SetComment(string) error

	CreateWhen() time.Time
	ModWhen() time.Time

	FileType() uint8
	AuxType() uint16
	HFSFileType() (uint32, bool)
	HFSCreator() (uint32, bool)

	Parts() []PartKind
	PartInfo(kind PartKind) (uncompressedLength, storedLength int64, format CompressionFormat, ok bool)

	IsDubious() bool
	IsDamaged() bool
}

// Archive is the operation set every archive engine (internal/nufxarchive,
// internal/ziparchive, internal/binary2, internal/applelink, internal/appledouble)
// exposes so far as the format allows -- Binary II and AppleLink ACU are
// read-only and return TransactionState from the mutating calls.
type Archive interface {
	Capability() Capability

	StartTransaction() error
	CancelTransaction() error
	CommitTransaction(output WriteSeeker) error

	CreateRecord() (ArchiveRecord, error)
	DeleteRecord(entry ArchiveRecord) error
	FindFileEntry(name string, sep byte) (ArchiveRecord, error)
	Records() []ArchiveRecord

	AddPart(entry ArchiveRecord, kind PartKind, source PartSource, compression CompressionFormat) error
	DeletePart(entry ArchiveRecord, kind PartKind) error
	OpenPart(entry ArchiveRecord, kind PartKind) (ReadSeekCloser, error)

	Notes() *Notes
}

// WriteSeeker is what CommitTransaction writes the serialized archive
// into; a failed commit truncates it to zero length (spec.md section 8
// "Commit atomicity").
type WriteSeeker interface {
	Write([]byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Truncate(size int64) error
}

// ReadSeekCloser is the result of OpenPart.
type ReadSeekCloser interface {
	Read([]byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package vdisk

import "time"

// EntryKind is the mode a new entry is created with -- spec.md section 4.3
// create_file(parent, name, mode).
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
	KindExtended // has both a data and a resource fork (ProDOS extended, HFS)
	KindUnknown
)

// ForkKind selects which byte stream of an entry or archive part an
// operation addresses.
type ForkKind int

const (
	ForkData ForkKind = iota
	ForkRsrc
	ForkRawData // DOS "raw" view: header bytes (length/load address) exposed directly
	ForkDiskImage
)

// OpenMode selects how a fork is opened.
type OpenMode int

const (
	OpenReadOnly OpenMode = iota
	OpenReadWrite
)

// SeekOrigin selects the semantics of a sparse-aware seek, per spec.md
// section 4.3.2 SEEK_ORIGIN_DATA/SEEK_ORIGIN_HOLE.
type SeekOrigin int

const (
	SeekOriginData SeekOrigin = iota
	SeekOriginHole
)

// Capability describes what an engine supports, replacing the source's
// interface-inheritance hierarchy with a small descriptor per design note
// "Inheritance -> capability enum" (see DESIGN.md).
type Capability struct {
	HasResourceForks bool
	HasDiskImages    bool
	HasDirectories   bool
	SupportsSparse   bool
	MaxFileName      int
	CaseSensitive    bool
}

// FileEntry is the generic, engine-agnostic view of one catalog/directory
// record, per spec.md section 3 "Filesystem entry". Per-engine extension
// fields (APM_Partition.PartitionName, HFS_FileEntry.BackupWhen,
// NuFX_FileEntry.FileSysID, ...) are not part of this interface.
type FileEntry interface {
	FileName() string             // cooked, Unicode
	SetFileName(string) error     // validates per engine; ArgumentInvalid on failure
	RawFileName() []byte          // native bytes, unvalidated on read
	SetRawFileName([]byte) error

	FileType() uint8
	AuxType() uint16
	AccessFlags() uint8
	CreateWhen() time.Time
	ModWhen() time.Time

	HFSFileType() (uint32, bool)
	HFSCreator() (uint32, bool)

	DataLength() int64
	RsrcLength() (int64, bool)
	StorageSize() int64

	IsDirectory() bool
	HasDataFork() bool
	HasRsrcFork() bool

	IsDubious() bool
	IsDamaged() bool

	ContainingDir() FileEntry // nil for the volume directory
}

// FileHandle is one open fork of one entry, per spec.md section 3 "File
// handle". At most one read-writer per fork is permitted; a read-writer
// excludes all other openers of the same fork; read-only opens stack.
type FileHandle interface {
	Read(buf []byte) (int, error)
	ReadAt(buf []byte, off int64) (int, error)
	Write(buf []byte) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	Seek(offset int64, whence int) (int64, error)

	// SeekSparse implements SEEK_ORIGIN_DATA/HOLE for engines whose
	// Capability.SupportsSparse is true; others return ArgumentInvalid.
	SeekSparse(offset int64, origin SeekOrigin) (int64, error)

	SetLength(int64) error
	Flush() error
	Close() error
}

// FileSystem is the operation set every engine in internal/dos33,
// internal/prodos, internal/hfs, internal/pascal, internal/cpm exposes,
// per spec.md section 4.3.
type FileSystem interface {
	Capability() Capability

	Format(volumeName string, volumeNum int, makeBootable bool) error

	PrepareRawAccess() error
	PrepareFileAccess(deepScan bool) error

	VolumeDir() FileEntry

	CreateFile(parent FileEntry, name string, kind EntryKind) (FileEntry, error)
	DeleteFile(entry FileEntry) error
	MoveFile(entry FileEntry, newParent FileEntry, newName string) error
	FindFileEntry(parent FileEntry, name string) (FileEntry, error)

	OpenFile(entry FileEntry, mode OpenMode, part ForkKind) (FileHandle, error)
	AddRsrcFork(entry FileEntry) error

	FreeSpace() int64

	Notes() *Notes
}

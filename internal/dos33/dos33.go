// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package dos33 implements the Apple DOS 3.2/3.3 filesystem: a VTOC-and-
// catalog directory over a chain of track/sector-list files, per
// spec.md section 4.3.1. Grounded in the teacher's internal/hfs package
// for overall engine shape (prepare/format/notes) and in
// internal/fsnode for the directory tree.
package dos33

import (
	"strings"
	"time"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

const (
	sectorSize   = 256
	defaultVTOCTrack  = 17
	defaultVTOCSector = 0
	tsListMax    = 122 // (track,sector) pairs per T/S-list sector
	catalogEntrySize = 0x23
	entriesPerCatalogSector = 7
	maxFileNameLen = 30

	// MaxFileLen bounds the T/S-list chain length the engine will build,
	// spec.md section 4.3.1 "the system enforces an explicit MAX_FILE_LEN".
	MaxFileLen = tsListMax * 400 * sectorSize
)

// FileType is the DOS 3.x type byte (high bit = locked).
type FileType byte

const (
	TypeText       FileType = 0x00
	TypeInteger    FileType = 0x01
	TypeApplesoft  FileType = 0x02
	TypeBinary     FileType = 0x04
	TypeS          FileType = 0x08
	TypeRelocatable FileType = 0x10
	TypeA          FileType = 0x20
	TypeB          FileType = 0x40
)

type engineEntry struct {
	ref      fsnode.Ref
	catTrack, catSector, catIndex int // location of the catalog entry, -1 if new/unflushed
	firstTSTrack, firstTSSector   int
	ftype    FileType
	locked   bool
	rawName  [30]byte
	sectorCount int // as recorded in the catalog entry
	damaged  bool
}

// FS is one open DOS 3.x volume.
type FS struct {
	chunks vdisk.ChunkProvider
	arena  *fsnode.Arena
	notes  vdisk.Notes

	numTracks, numSectors int
	vtocTrack, vtocSector int

	fileAccess bool
	openForks  map[fsnode.Ref]int // count of open read-only handles; -1 means one read-writer

	volumeName string
	volumeNum  int
	lastTrackAlloc int
	direction int // +1 or -1, DOS's allocation sweep direction
	bitmap   [50][4]byte // up to 50 tracks, 4 bytes each (32 bits) -- free-sector bitmap mirrored from VTOC
	dubious  bool

	catStart [2]int // (track,sector) the catalog chain starts at
	entries  map[fsnode.Ref]*engineEntry
}

// New wraps chunks (which must already be in DOS_Sector order) as a
// fresh, unformatted engine instance. Call PrepareFileAccess or Format
// before using it.
func New(chunks vdisk.ChunkProvider) *FS {
	return &FS{
		chunks:    chunks,
		vtocTrack: defaultVTOCTrack, vtocSector: defaultVTOCSector,
		numTracks: chunks.NumTracks(), numSectors: chunks.NumSectorsPerTrack(),
		openForks: map[fsnode.Ref]int{},
		entries:   map[fsnode.Ref]*engineEntry{},
	}
}

func (fs *FS) Capability() vdisk.Capability {
	return vdisk.Capability{
		HasResourceForks: false,
		HasDiskImages:    false,
		HasDirectories:   false, // DOS 3.x has one flat catalog, no subdirectories
		SupportsSparse:   true,
		MaxFileName:      maxFileNameLen,
		CaseSensitive:    false,
	}
}

func (fs *FS) Notes() *vdisk.Notes { return &fs.notes }

func (fs *FS) FreeSpace() int64 {
	free := 0
	for t := 0; t < fs.numTracks; t++ {
		for s := 0; s < fs.numSectors; s++ {
			if fs.bitFree(t, s) {
				free++
			}
		}
	}
	return int64(free) * sectorSize
}

func (fs *FS) bitFree(track, sector int) bool {
	if track >= len(fs.bitmap) {
		return false
	}
	word := fs.bitmap[track]
	byteIdx := sector / 8
	bitIdx := uint(sector % 8)
	if byteIdx >= 4 {
		return false
	}
	return word[byteIdx]&(1<<bitIdx) != 0
}

func (fs *FS) setBit(track, sector int, free bool) {
	byteIdx := sector / 8
	bitIdx := uint(sector % 8)
	if free {
		fs.bitmap[track][byteIdx] |= 1 << bitIdx
	} else {
		fs.bitmap[track][byteIdx] &^= 1 << bitIdx
	}
}

// Format lays down a fresh VTOC and an empty catalog chain, always
// reserves track 0 and the VTOC track, and (if requested) also reserves
// tracks 1-2 so that tracks 0-2 hold a bootable DOS image, matching
// spec.md's worked example: bootable 35x16 volume 1 leaves (35-4)*16
// sectors free; non-bootable volume 2 leaves (35-2)*16 free.
func (fs *FS) Format(volumeName string, volumeNum int, makeBootable bool) error {
	if len(fs.openForks) > 0 {
		return vdisk.NewError(vdisk.IoFailure, "dos33: format while handles are open")
	}
	fs.arena = fsnode.New(volumeName)
	fs.volumeName = volumeName
	fs.volumeNum = volumeNum
	fs.direction = -1
	fs.lastTrackAlloc = fs.vtocTrack

	for t := range fs.bitmap {
		fs.bitmap[t] = [4]byte{}
	}
	reserveTrack := func(t int) { fs.bitmap[t] = [4]byte{} } // all-zero = all allocated
	freeTrack := func(t int) {
		full := [4]byte{}
		for s := 0; s < fs.numSectors; s++ {
			full[s/8] |= 1 << uint(s%8)
		}
		fs.bitmap[t] = full
	}

	for t := 0; t < fs.numTracks; t++ {
		freeTrack(t)
	}
	reserveTrack(fs.vtocTrack) // VTOC + catalog chain track
	reserveTrack(0)
	if makeBootable {
		reserveTrack(1)
		reserveTrack(2)
	}

	fs.fileAccess = false
	if err := fs.writeVTOC(); err != nil {
		return err
	}
	// A single, empty catalog sector chained from the VTOC.
	var empty [sectorSize]byte
	for i := range empty {
		empty[i] = 0xff
	}
	empty[1], empty[2] = 0, 0 // no next catalog sector
	if err := fs.chunks.WriteSector(fs.vtocTrack, 1, empty[:]); err != nil {
		return vdisk.Wrap(vdisk.IoFailure, err, "dos33: write initial catalog sector")
	}
	return nil
}

func (fs *FS) writeVTOC() error {
	var v [sectorSize]byte
	v[1] = byte(fs.vtocTrack) // catalog track
	v[2] = 1                  // catalog sector
	v[3] = 3                  // DOS release
	v[6] = byte(fs.volumeNum)
	v[0x27] = tsListMax
	v[0x30] = byte(fs.lastTrackAlloc)
	v[0x31] = byte(fs.direction)
	v[0x34] = byte(fs.numTracks)
	v[0x35] = byte(fs.numSectors)
	v[0x36] = sectorSize & 0xff
	v[0x37] = sectorSize >> 8
	for t := 0; t < fs.numTracks && t < 50; t++ {
		copy(v[0x38+t*4:], fs.bitmap[t][:])
	}
	return fs.chunks.WriteSector(fs.vtocTrack, 0, v[:])
}

func (fs *FS) readVTOC() error {
	var v [sectorSize]byte
	if err := fs.chunks.ReadSector(fs.vtocTrack, fs.vtocSector, v[:]); err != nil {
		return vdisk.Wrap(vdisk.FormatError, err, "dos33: read VTOC")
	}
	catTrack, catSector := int(v[1]), int(v[2])
	fs.volumeNum = int(v[6])
	fs.lastTrackAlloc = int(v[0x30])
	fs.direction = int(int8(v[0x31]))
	fs.numTracks = int(v[0x34])
	fs.numSectors = int(v[0x35])
	for t := 0; t < fs.numTracks && t < 50; t++ {
		copy(fs.bitmap[t][:], v[0x38+t*4:0x38+t*4+4])
	}

	if catTrack < 0 || catTrack >= fs.numTracks || catSector < 0 || catSector >= fs.numSectors {
		fs.dubious = true
		fs.notes.Add(vdisk.ErrorSeverity, "dos33: VTOC catalog pointer out of range")
		return nil
	}
	fs.catStart = [2]int{catTrack, catSector}
	return nil
}

func (fs *FS) PrepareRawAccess() error {
	if len(fs.openForks) > 0 {
		return vdisk.NewError(vdisk.IoFailure, "dos33: raw access requested while handles are open")
	}
	fs.fileAccess = false
	fs.chunks.SetAccessLevel(vdisk.Open)
	return nil
}

func (fs *FS) PrepareFileAccess(deepScan bool) error {
	if err := fs.readVTOC(); err != nil {
		return err
	}
	fs.arena = fsnode.New(fs.volumeName)
	if err := fs.scanCatalog(deepScan); err != nil {
		return err
	}
	fs.fileAccess = true
	fs.chunks.SetAccessLevel(vdisk.ReadOnly)
	return nil
}

func (fs *FS) VolumeDir() vdisk.FileEntry {
	return &dirEntry{fs: fs}
}

// dirEntry is the single, flat catalog presented as the volume directory
// (DOS 3.x has no subdirectories, so every file is a direct child).
type dirEntry struct{ fs *FS }

func (d *dirEntry) FileName() string         { return d.fs.volumeName }
func (d *dirEntry) SetFileName(s string) error { return vdisk.NewError(vdisk.ArgumentInvalid, "dos33: cannot rename volume directory") }
func (d *dirEntry) RawFileName() []byte      { return []byte(d.fs.volumeName) }
func (d *dirEntry) SetRawFileName(b []byte) error { return d.SetFileName(string(b)) }
func (d *dirEntry) FileType() uint8          { return 0 }
func (d *dirEntry) AuxType() uint16          { return 0 }
func (d *dirEntry) AccessFlags() uint8       { return 0 }
func (d *dirEntry) CreateWhen() time.Time    { return time.Time{} }
func (d *dirEntry) ModWhen() time.Time       { return time.Time{} }
func (d *dirEntry) HFSFileType() (uint32, bool) { return 0, false }
func (d *dirEntry) HFSCreator() (uint32, bool)  { return 0, false }
func (d *dirEntry) DataLength() int64        { return 0 }
func (d *dirEntry) RsrcLength() (int64, bool) { return 0, false }
func (d *dirEntry) StorageSize() int64       { return 0 }
func (d *dirEntry) IsDirectory() bool        { return true }
func (d *dirEntry) HasDataFork() bool        { return false }
func (d *dirEntry) HasRsrcFork() bool        { return false }
func (d *dirEntry) IsDubious() bool          { return d.fs.dubious }
func (d *dirEntry) IsDamaged() bool          { return false }
func (d *dirEntry) ContainingDir() vdisk.FileEntry { return nil }

// ValidateRawName checks the 30-byte raw filename rule from spec.md
// section 4.3.1: first byte a letter, no comma, no trailing space.
func ValidateRawName(name string) error {
	if len(name) == 0 || len(name) > maxFileNameLen {
		return vdisk.NewError(vdisk.ArgumentInvalid, "dos33: filename must be 1-30 characters")
	}
	first := name[0] & 0x7f
	if !((first >= 'A' && first <= 'Z') || (first >= 'a' && first <= 'z')) {
		return vdisk.NewError(vdisk.ArgumentInvalid, "dos33: filename must start with a letter")
	}
	if strings.ContainsRune(name, ',') {
		return vdisk.NewError(vdisk.ArgumentInvalid, "dos33: filename may not contain a comma")
	}
	if strings.HasSuffix(name, " ") {
		return vdisk.NewError(vdisk.ArgumentInvalid, "dos33: filename may not have a trailing space")
	}
	return nil
}

// CookName strips the high bit DOS sets on every character of a raw
// filename, per spec.md's "cooked form strips high bit".
func CookName(raw []byte) string {
	b := make([]byte, 0, len(raw))
	for _, c := range raw {
		if c == 0 {
			break
		}
		b = append(b, c&0x7f)
	}
	return strings.TrimRight(string(b), " ")
}

// RawName converts a cooked name back to DOS's high-bit-set, space-padded
// 30-byte representation.
func RawName(cooked string) [30]byte {
	var out [30]byte
	for i := range out {
		out[i] = ' ' | 0x80
	}
	for i := 0; i < len(cooked) && i < 30; i++ {
		out[i] = cooked[i] | 0x80
	}
	return out
}

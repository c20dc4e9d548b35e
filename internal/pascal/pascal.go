// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package pascal implements the UCSD/Apple Pascal filesystem: a fixed
// 4-block volume directory of 77 entries, contiguous-run file storage,
// and a largest-gap allocator, per spec.md section 4.3.4. The flat,
// single-directory layout and contiguous-run allocation model follow
// the shape of internal/prodos's seedling storage, simplified down to
// Pascal's one-directory, no-bitmap design (free space is derived by
// scanning the gaps between entries, the way the original volume
// directory itself records no bitmap).
package pascal

import (
	"time"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

const (
	blockSize   = 512
	dirBlocks   = 4 // blocks 2-5
	dirEntries  = 77
	entrySize   = 26
	maxFileName = 15
	maxVolName  = 7
	maxFileLen  = 16_777_215 // 24-bit length, matching ProDOS's ceiling

	entryDeleted  = 0
	entryVolHdr   = 0
	entryData     = 1 // untyped/data file (most common file kind written by this engine)
)

type engineEntry struct {
	index       int // slot in the volume directory, 0-based (entry 0 is the volume header)
	firstBlock  int
	lastBlock   int // one past the last block used, i.e. [firstBlock, lastBlock)
	ftype       uint8
	rawName     [15]byte
	nameLen     int
	lastByteUse int // bytes used in the final block, 0-512 (0 only while the file is empty)
	modified    time.Time
	damaged     bool
}

func (ee *engineEntry) blocks() int { return ee.lastBlock - ee.firstBlock }

// FS is one open Pascal volume.
type FS struct {
	chunks vdisk.ChunkProvider
	arena  *fsnode.Arena
	notes  vdisk.Notes

	totalBlocks int
	entries     map[fsnode.Ref]*engineEntry

	openForks map[fsnode.Ref]int // single fork kind (data); counts readers, -1 means a writer

	fileAccess bool
	volumeName string
	dubious    bool
}

func New(chunks vdisk.ChunkProvider) *FS {
	return &FS{
		chunks:      chunks,
		totalBlocks: chunks.NumBlocks(),
		entries:     map[fsnode.Ref]*engineEntry{},
		openForks:   map[fsnode.Ref]int{},
	}
}

func (fs *FS) Capability() vdisk.Capability {
	return vdisk.Capability{
		HasResourceForks: false,
		HasDiskImages:    false,
		HasDirectories:   false,
		SupportsSparse:   false,
		MaxFileName:      maxFileName,
		CaseSensitive:    false,
	}
}

func (fs *FS) Notes() *vdisk.Notes { return &fs.notes }

func (fs *FS) FreeSpace() int64 {
	free := fs.totalBlocks - (dirBlocks + 2) // boot blocks + volume directory
	for _, ee := range fs.entries {
		free -= ee.blocks()
	}
	return int64(free) * blockSize
}

// AdjustFileName implements spec.md's deterministic character scrubbing
// and length clipping: invalid characters become '_', the result is
// clipped to 15 bytes.
func AdjustFileName(name string) string {
	return adjustName(name, maxFileName)
}

// AdjustVolumeName enforces the 7-character volume name limit with the
// same scrubbing rule.
func AdjustVolumeName(name string) string {
	return adjustName(name, maxVolName)
}

func adjustName(name string, max int) string {
	if len(name) > max {
		name = name[:max]
	}
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		ok := (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.'
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
			ok = true
		}
		if !ok {
			c = '_'
		}
		out[i] = c
	}
	return string(out)
}

// ValidateName enforces spec.md's filename rule: <=15 bytes of the
// allowed character set, first character a letter.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > maxFileName {
		return vdisk.NewError(vdisk.ArgumentInvalid, "pascal: filename must be 1-15 characters")
	}
	first := name[0]
	if !((first >= 'A' && first <= 'Z') || (first >= 'a' && first <= 'z')) {
		return vdisk.NewError(vdisk.ArgumentInvalid, "pascal: filename must start with a letter")
	}
	return nil
}

func packName(name string) (byte, [15]byte) {
	var out [15]byte
	copy(out[:], name)
	return byte(len(name)), out
}

func unpackName(lenByte byte, raw [15]byte) string {
	n := int(lenByte & 0x0f)
	if n > 15 {
		n = 15
	}
	return string(raw[:n])
}

// Format writes an empty volume directory: header entry plus 76 unused
// slots, one used block count of zero.
func (fs *FS) Format(volumeName string, volumeNum int, makeBootable bool) error {
	volumeName = AdjustVolumeName(volumeName)
	if len(fs.openForks) > 0 {
		return vdisk.NewError(vdisk.IoFailure, "pascal: format while handles are open")
	}

	fs.totalBlocks = fs.chunks.NumBlocks()
	fs.volumeName = volumeName
	fs.arena = fsnode.New(volumeName)
	fs.entries = map[fsnode.Ref]*engineEntry{}

	return fs.writeDirectory()
}

// writeDirectory serializes the live entry set (in directory-slot
// order) into the 4-block volume directory, header entry first.
func (fs *FS) writeDirectory() error {
	var buf [dirBlocks * blockSize]byte

	lenByte, rawName := packName(fs.volumeName)
	buf[0x06] = lenByte
	copy(buf[0x07:0x16], rawName[:])
	buf[0x00], buf[0x01] = 0, dirBlocks // first block of dir area is 0 (relative), last is dirBlocks
	putLE16(buf[0x02:], entryVolHdr)    // file kind 0 marks the header slot
	putLE16(buf[0x16:], uint16(fs.totalBlocks))
	putLE16(buf[0x18:], uint16(len(fs.entries)))

	refsBySlot := make([]fsnode.Ref, dirEntries)
	for ref, ee := range fs.entries {
		refsBySlot[ee.index] = ref
	}

	for slot := 1; slot < dirEntries; slot++ {
		off := slot * entrySize
		ref := refsBySlot[slot]
		if ref == fsnode.Nil {
			continue
		}
		ee := fs.entries[ref]
		node := fs.arena.Get(ref)
		putLE16(buf[off+0x00:], uint16(ee.firstBlock))
		putLE16(buf[off+0x02:], uint16(ee.lastBlock))
		putLE16(buf[off+0x04:], uint16(ee.ftype))
		lb, rn := packName(node.Name)
		buf[off+0x06] = lb
		copy(buf[off+0x07:off+0x16], rn[:])
		putLE16(buf[off+0x16:], uint16(ee.lastByteUse))
		putLE16(buf[off+0x18:], packPascalDate(ee.modified))
	}

	for b := 0; b < dirBlocks; b++ {
		if err := fs.chunks.WriteBlock(2+b, buf[b*blockSize:(b+1)*blockSize]); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "pascal: write volume directory block %d", b)
		}
	}
	return nil
}

func (fs *FS) PrepareRawAccess() error {
	if fs.anyOpen() {
		return vdisk.NewError(vdisk.IoFailure, "pascal: raw access requested while handles are open")
	}
	fs.fileAccess = false
	fs.chunks.SetAccessLevel(vdisk.Open)
	return nil
}

func (fs *FS) anyOpen() bool {
	for _, n := range fs.openForks {
		if n != 0 {
			return true
		}
	}
	return false
}

func (fs *FS) PrepareFileAccess(deepScan bool) error {
	var buf [dirBlocks * blockSize]byte
	for b := 0; b < dirBlocks; b++ {
		if err := fs.chunks.ReadBlock(2+b, buf[b*blockSize:(b+1)*blockSize]); err != nil {
			return vdisk.Wrap(vdisk.FormatError, err, "pascal: read volume directory block %d", b)
		}
	}

	lenByte := buf[0x06]
	var rawName [15]byte
	copy(rawName[:], buf[0x07:0x16])
	fs.volumeName = unpackName(lenByte, rawName)
	fs.totalBlocks = int(le16(buf[0x16:]))
	if fs.totalBlocks == 0 {
		fs.totalBlocks = fs.chunks.NumBlocks()
	}

	fs.arena = fsnode.New(fs.volumeName)
	fs.entries = map[fsnode.Ref]*engineEntry{}

	used := make([]bool, fs.totalBlocks+1)
	for i := 0; i < dirBlocks+2; i++ {
		if i < len(used) {
			used[i] = true
		}
	}

	for slot := 1; slot < dirEntries; slot++ {
		off := slot * entrySize
		first := int(le16(buf[off+0x00:]))
		last := int(le16(buf[off+0x02:]))
		if first == 0 && last == 0 {
			continue
		}
		kind := le16(buf[off+0x04:])
		if kind == entryDeleted {
			continue
		}
		nameLen := buf[off+0x06]
		var rn [15]byte
		copy(rn[:], buf[off+0x07:off+0x16])
		name := unpackName(nameLen, rn)

		ee := &engineEntry{
			index: slot, firstBlock: first, lastBlock: last,
			ftype: uint8(kind), nameLen: int(nameLen & 0x0f),
			lastByteUse: int(le16(buf[off+0x16:])),
			modified:    unpackPascalDate(le16(buf[off+0x18:])),
		}

		if deepScan {
			if first < dirBlocks+2 || last > fs.totalBlocks || last <= first {
				ee.damaged = true
				fs.notes.Add(vdisk.Warning, "pascal: %q has an invalid block range [%d,%d)", name, first, last)
			} else {
				for b := first; b < last; b++ {
					if used[b] {
						ee.damaged = true
						fs.notes.Add(vdisk.Warning, "pascal: %q overlaps another file's blocks", name)
						break
					}
					used[b] = true
				}
			}
		}

		ref := fs.arena.Create(fsnode.Root, name, vdisk.KindFile)
		fs.entries[ref] = ee
	}

	fs.fileAccess = true
	fs.chunks.SetAccessLevel(vdisk.ReadOnly)
	return nil
}

func (fs *FS) VolumeDir() vdisk.FileEntry {
	return &fileEntry{fs: fs, ref: fsnode.Root}
}

func putLE16(b []byte, v uint16) { b[0], b[1] = byte(v), byte(v>>8) }
func le16(b []byte) uint16       { return uint16(b[0]) | uint16(b[1])<<8 }

// packPascalDate packs year/month/day into Apple Pascal's 16-bit date:
// bits 0-3 month, 4-8 day, 9-15 year-1900.
func packPascalDate(t time.Time) uint16 {
	if t.IsZero() {
		return 0
	}
	y := t.Year() - 1900
	if y < 0 || y > 127 {
		y = 0
	}
	return uint16(y)<<9 | uint16(t.Day())<<4 | uint16(t.Month())
}

func unpackPascalDate(v uint16) time.Time {
	if v == 0 {
		return time.Time{}
	}
	month := int(v & 0xf)
	day := int((v >> 4) & 0x1f)
	year := 1900 + int(v>>9)
	if month == 0 || day == 0 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package prodos implements the Apple ProDOS filesystem: a fixed volume
// directory, seedling/sapling/tree storage, and a block bitmap
// allocator, per spec.md section 4.3.2.
package prodos

import (
	"time"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

const (
	blockSize       = 512
	entriesPerBlock = 512 / 0x27 // 13 entries per directory block, 0x27 bytes each
	entrySize       = 0x27
	maxFileName     = 15
	maxFileLen      = 16_777_215 // 24-bit length

	storageDeleted      = 0x0
	storageSeedling     = 0x1
	storageSapling      = 0x2
	storageTree         = 0x3
	storagePascalArea   = 0x4
	storageExtended     = 0x5
	storageSubdirHeader = 0xe
	storageVolumeHeader = 0xf
)

type engineEntry struct {
	dirBlock int // block holding this entry's directory
	index    int // entry slot within that block
	storage  int
	rawName  [15]byte
	nameLen  int
	ftype    uint8
	keyBlock int
	blocksUsed int
	eof      int // data length, 24-bit
	auxType  uint16
	access   uint8
	created, modified time.Time
	hfsType, hfsCreator uint32
	hasHFSTypes bool
	headerPointer int // subdirectory: block of the SubdirHeader this dir's own entries point back to
	damaged bool
}

// FS is one open ProDOS volume.
type FS struct {
	chunks vdisk.ChunkProvider
	arena  *fsnode.Arena
	notes  vdisk.Notes

	totalBlocks int
	bitmapStart int
	bitmap      []bool // true = free

	openForks map[fsnode.Ref]map[vdisk.ForkKind]int
	entries   map[fsnode.Ref]*engineEntry
	dirBlocks map[fsnode.Ref][]int // blocks making up a directory's entry list, in order

	fileAccess bool
	volumeName string
	dubious    bool
}

func New(chunks vdisk.ChunkProvider) *FS {
	return &FS{
		chunks:    chunks,
		totalBlocks: chunks.NumBlocks(),
		openForks: map[fsnode.Ref]map[vdisk.ForkKind]int{},
		entries:   map[fsnode.Ref]*engineEntry{},
		dirBlocks: map[fsnode.Ref][]int{},
	}
}

func (fs *FS) Capability() vdisk.Capability {
	return vdisk.Capability{
		HasResourceForks: true, // Extended files
		HasDiskImages:    false,
		HasDirectories:   true,
		SupportsSparse:   true,
		MaxFileName:      maxFileName,
		CaseSensitive:    false,
	}
}

func (fs *FS) Notes() *vdisk.Notes { return &fs.notes }

func (fs *FS) FreeSpace() int64 {
	n := 0
	for _, free := range fs.bitmap {
		if free {
			n++
		}
	}
	return int64(n) * blockSize
}

// ValidateName enforces spec.md's rule: <=15 bytes, uppercase letters,
// digits, and '.', first char a letter.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > maxFileName {
		return vdisk.NewError(vdisk.ArgumentInvalid, "prodos: filename must be 1-15 characters")
	}
	first := name[0]
	if !(first >= 'A' && first <= 'Z') {
		return vdisk.NewError(vdisk.ArgumentInvalid, "prodos: filename must start with an uppercase letter")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		ok := (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.'
		if !ok {
			return vdisk.NewError(vdisk.ArgumentInvalid, "prodos: invalid character %q in filename", c)
		}
	}
	return nil
}

func packName(name string) (byte, [15]byte) {
	var out [15]byte
	copy(out[:], name)
	return byte(len(name)), out
}

func unpackName(lenNibble byte, raw [15]byte) string {
	n := int(lenNibble & 0x0f)
	if n > 15 {
		n = 15
	}
	return string(raw[:n])
}

func (fs *FS) allocBlock() (int, error) {
	for i, free := range fs.bitmap {
		if free {
			fs.bitmap[i] = false
			return i, nil
		}
	}
	return 0, vdisk.NewError(vdisk.DiskFull, "prodos: no free blocks")
}

func (fs *FS) freeBlock(b int) {
	if b >= 0 && b < len(fs.bitmap) {
		fs.bitmap[b] = true
	}
}

func (fs *FS) readBitmap() {
	fs.bitmap = make([]bool, fs.totalBlocks)
	bitmapBlocks := (fs.totalBlocks + 4095) / 4096
	for bb := 0; bb < bitmapBlocks; bb++ {
		var buf [blockSize]byte
		fs.chunks.ReadBlock(fs.bitmapStart+bb, buf[:])
		for i := 0; i < blockSize*8; i++ {
			blk := bb*4096 + i
			if blk >= fs.totalBlocks {
				break
			}
			byteIdx, bitIdx := i/8, 7-uint(i%8)
			fs.bitmap[blk] = buf[byteIdx]&(1<<bitIdx) != 0
		}
	}
}

func (fs *FS) writeBitmap() error {
	bitmapBlocks := (fs.totalBlocks + 4095) / 4096
	for bb := 0; bb < bitmapBlocks; bb++ {
		var buf [blockSize]byte
		for i := 0; i < blockSize*8; i++ {
			blk := bb*4096 + i
			if blk >= fs.totalBlocks {
				break
			}
			if fs.bitmap[blk] {
				byteIdx, bitIdx := i/8, 7-uint(i%8)
				buf[byteIdx] |= 1 << bitIdx
			}
		}
		if err := fs.chunks.WriteBlock(fs.bitmapStart+bb, buf[:]); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "prodos: write bitmap block %d", bb)
		}
	}
	return nil
}

// Format writes a minimal volume: key directory blocks 2-5, bitmap
// starting at block 6, everything else free.
func (fs *FS) Format(volumeName string, volumeNum int, makeBootable bool) error {
	if err := ValidateName(volumeName); err != nil {
		return err
	}
	if len(fs.openForks) > 0 {
		return vdisk.NewError(vdisk.IoFailure, "prodos: format while handles are open")
	}

	fs.totalBlocks = fs.chunks.NumBlocks()
	fs.bitmapStart = 6
	fs.bitmap = make([]bool, fs.totalBlocks)
	for i := range fs.bitmap {
		fs.bitmap[i] = true
	}
	bitmapBlocks := (fs.totalBlocks + 4095) / 4096
	for i := 0; i < 2+4+bitmapBlocks; i++ {
		fs.bitmap[i] = false
	}

	var hdr [blockSize * 4]byte
	lenNibble, rawName := packName(volumeName)
	hdr[0x04] = storageVolumeHeader<<4 | lenNibble
	copy(hdr[0x05:0x14], rawName[:])
	now := pack25date(time.Now())
	copy(hdr[0x1c:0x20], now[:])
	hdr[0x20] = 0 // version
	hdr[0x21] = 0
	hdr[0x22] = 0xc3 // access: full
	hdr[0x23] = entrySize
	hdr[0x24] = entriesPerBlock
	hdr[0x25] = 0 // file count
	hdr[0x27], hdr[0x28] = byte(fs.bitmapStart), byte(fs.bitmapStart>>8)
	hdr[0x29], hdr[0x2a] = byte(fs.totalBlocks), byte(fs.totalBlocks>>8)

	for b := 0; b < 4; b++ {
		block := hdr[b*blockSize : b*blockSize+blockSize]
		prev, next := 0, 0
		if b > 0 {
			prev = 2 + b - 1
		}
		if b < 3 {
			next = 2 + b + 1
		}
		block[0], block[1] = byte(prev), byte(prev>>8)
		block[2], block[3] = byte(next), byte(next>>8)
		if err := fs.chunks.WriteBlock(2+b, block); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "prodos: write volume directory block %d", b)
		}
	}

	fs.volumeName = volumeName
	return fs.writeBitmap()
}

func pack25date(t time.Time) [4]byte {
	var out [4]byte
	y := t.Year() - 1900
	if y < 0 {
		y = 0
	}
	date := uint16(y%100)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	timev := uint16(t.Hour())<<8 | uint16(t.Minute())
	out[0], out[1] = byte(date), byte(date>>8)
	out[2], out[3] = byte(timev), byte(timev>>8)
	return out
}

func (fs *FS) PrepareRawAccess() error {
	if fs.anyOpen() {
		return vdisk.NewError(vdisk.IoFailure, "prodos: raw access requested while handles are open")
	}
	fs.fileAccess = false
	fs.chunks.SetAccessLevel(vdisk.Open)
	return nil
}

func (fs *FS) anyOpen() bool {
	for _, m := range fs.openForks {
		for _, n := range m {
			if n != 0 {
				return true
			}
		}
	}
	return false
}

func (fs *FS) PrepareFileAccess(deepScan bool) error {
	var hdr [blockSize]byte
	if err := fs.chunks.ReadBlock(2, hdr[:]); err != nil {
		return vdisk.Wrap(vdisk.FormatError, err, "prodos: read volume directory header")
	}
	storage := hdr[0x04] >> 4
	if storage != storageVolumeHeader {
		return vdisk.NewError(vdisk.FormatError, "prodos: bad volume header storage type")
	}
	lenNibble := hdr[0x04] & 0x0f
	var rawName [15]byte
	copy(rawName[:], hdr[0x05:0x14])
	fs.volumeName = unpackName(lenNibble, rawName)
	fs.bitmapStart = int(hdr[0x27]) | int(hdr[0x28])<<8
	fs.totalBlocks = int(hdr[0x29]) | int(hdr[0x2a])<<8
	if fs.totalBlocks == 0 {
		fs.totalBlocks = fs.chunks.NumBlocks()
	}

	fs.readBitmap()
	fs.arena = fsnode.New(fs.volumeName)
	fs.entries = map[fsnode.Ref]*engineEntry{}
	fs.dirBlocks = map[fsnode.Ref][]int{}
	fs.dirBlocks[fsnode.Root] = []int{2, 3, 4, 5}

	if err := fs.scanDirectory(fsnode.Root, 2, deepScan); err != nil {
		return err
	}

	fs.fileAccess = true
	fs.chunks.SetAccessLevel(vdisk.ReadOnly)
	return nil
}

func (fs *FS) VolumeDir() vdisk.FileEntry {
	return &dirFileEntry{fs: fs, ref: fsnode.Root}
}

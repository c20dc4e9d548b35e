// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package hfs implements the Macintosh Hierarchical File System: an MDB
// at block 2, an allocation-block bitmap, and a catalog held as a
// degenerate (single-level) B*-tree, per spec.md section 4.3.4.
package hfs

import (
	"time"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

const maxFileName = 31

type engineEntry struct {
	cnid        uint32
	dataExtents [3]extentDescriptor
	rsrcExtents [3]extentDescriptor
	dataEOF     int
	rsrcEOF     int
	finderInfo  [16]byte // type (0:4), creator (4:8), flags, ...
	created, modified, backupWhen time.Time
	valence     int // directory only: live child count
	damaged     bool
}

func (ee *engineEntry) fileType() [4]byte {
	var t [4]byte
	copy(t[:], ee.finderInfo[0:4])
	return t
}
func (ee *engineEntry) creator() [4]byte {
	var c [4]byte
	copy(c[:], ee.finderInfo[4:8])
	return c
}

// FS is one open HFS volume.
type FS struct {
	chunks vdisk.ChunkProvider
	arena  *fsnode.Arena
	notes  vdisk.Notes

	m      mdb
	bitmap volumeBitmap

	openForks map[fsnode.Ref]map[vdisk.ForkKind]int
	entries   map[fsnode.Ref]*engineEntry
	byCNID    map[uint32]fsnode.Ref

	fileAccess bool
	volumeName string
	dubious    bool
}

func New(chunks vdisk.ChunkProvider) *FS {
	return &FS{
		chunks:    chunks,
		openForks: map[fsnode.Ref]map[vdisk.ForkKind]int{},
		entries:   map[fsnode.Ref]*engineEntry{},
		byCNID:    map[uint32]fsnode.Ref{},
	}
}

func (fs *FS) Capability() vdisk.Capability {
	return vdisk.Capability{
		HasResourceForks: true,
		HasDiskImages:    false,
		HasDirectories:   true,
		SupportsSparse:   false, // forks are built from contiguous extents only
		MaxFileName:      maxFileName,
		CaseSensitive:    false,
	}
}

func (fs *FS) Notes() *vdisk.Notes { return &fs.notes }

func (fs *FS) FreeSpace() int64 { return fs.freeSpace() }

// ValidateName enforces spec.md's rule: 1-31 bytes, no colons.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > maxFileName {
		return vdisk.NewError(vdisk.ArgumentInvalid, "hfs: filename must be 1-31 characters")
	}
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return vdisk.NewError(vdisk.ArgumentInvalid, "hfs: filename may not contain ':'")
		}
	}
	return nil
}

// Format writes a minimal MDB, a bitmap in which only the catalog's own
// blocks are allocated, and an empty root directory with its catalog
// thread record.
func (fs *FS) Format(volumeName string, volumeNum int, makeBootable bool) error {
	if err := ValidateName(volumeName); err != nil {
		return err
	}
	if len(fs.openForks) > 0 {
		return vdisk.NewError(vdisk.IoFailure, "hfs: format while handles are open")
	}

	total := fs.chunks.NumBlocks()
	allocBlockSize := uint32(512)
	for int(total)/int(allocBlockSize) > 0xffff {
		allocBlockSize *= 2
	}
	numAllocBlocks := uint16(total / int(allocBlockSize/blockSize))

	fs.m = mdb{
		createDate:      toMacTime(time.Now()),
		modifyDate:      toMacTime(time.Now()),
		nextCNID:        firstUserCNID,
		freeBlocks:      numAllocBlocks,
		allocBlockSize:  allocBlockSize,
		clumpSize:       allocBlockSize * 4,
		allocBlockStart: 3 + uint16((int(numAllocBlocks)+8*blockSize-1)/(8*blockSize)),
		numAllocBlocks:  numAllocBlocks,
		volNameLen:      byte(len(volumeName)),
	}
	copy(fs.m.volName[:], volumeName)

	fs.bitmap = volumeBitmap{free: make([]bool, numAllocBlocks), startBlock: 3}
	for i := range fs.bitmap.free {
		fs.bitmap.free[i] = true
	}

	fs.volumeName = volumeName
	fs.arena = fsnode.New(volumeName)
	fs.entries = map[fsnode.Ref]*engineEntry{}
	fs.byCNID = map[uint32]fsnode.Ref{}

	rootEE := &engineEntry{cnid: rootCNID, created: time.Now(), modified: time.Now()}
	fs.entries[fsnode.Root] = rootEE
	fs.byCNID[rootCNID] = fsnode.Root

	if err := fs.rebuildCatalog(); err != nil {
		return err
	}
	fs.m.fileCount, fs.m.dirCount = 0, 0
	if err := fs.writeBitmap(); err != nil {
		return err
	}
	return fs.m.write(fs.chunks)
}

func (fs *FS) PrepareRawAccess() error {
	if fs.anyOpen() {
		return vdisk.NewError(vdisk.IoFailure, "hfs: raw access requested while handles are open")
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
	m, err := readMDB(fs.chunks)
	if err != nil {
		return err
	}
	fs.m = *m
	fs.volumeName = string(m.volName[:m.volNameLen])
	if err := fs.readBitmap(); err != nil {
		return err
	}

	fs.arena = fsnode.New(fs.volumeName)
	fs.entries = map[fsnode.Ref]*engineEntry{}
	fs.byCNID = map[uint32]fsnode.Ref{}

	recs, err := fs.readLeafChain(fs.m.catalogExtents, fs.m.catalogSize)
	if err != nil {
		return err
	}

	fs.entries[fsnode.Root] = &engineEntry{cnid: rootCNID}
	fs.byCNID[rootCNID] = fsnode.Root

	highestCNID := uint32(firstUserCNID - 1)

	// Pass 1: create every directory so parent lookups succeed regardless
	// of catalog record order.
	pending := append([]catalogRecord{}, recs...)
	progress := true
	for progress {
		progress = false
		var next []catalogRecord
		for _, r := range pending {
			if r.dataType != recDir {
				next = append(next, r)
				continue
			}
			parentRef, ok := fs.parentRefFor(r.key.parentID)
			if !ok {
				next = append(next, r)
				continue
			}
			ref := fs.arena.Create(parentRef, r.key.name, vdisk.KindDirectory)
			ee := &engineEntry{
				cnid: r.cnid,
				created: fromMacTime(be32(r.data[0x0a:])), modified: fromMacTime(be32(r.data[0x0e:])),
				backupWhen: fromMacTime(be32(r.data[0x12:])),
				valence:    int(be16(r.data[0x04:])),
			}
			fs.entries[ref] = ee
			fs.byCNID[r.cnid] = ref
			if r.cnid > highestCNID {
				highestCNID = r.cnid
			}
			progress = true
		}
		pending = next
	}
	// Any directory records still pending reference a parent we never
	// found: treat as damaged/orphaned rather than failing the mount.
	for _, r := range pending {
		if r.dataType == recDir {
			fs.notes.Add(vdisk.Warning, "hfs: directory %q has no resolvable parent, orphaned", r.key.name)
		}
	}

	for _, r := range recs {
		if r.dataType != recFile {
			continue
		}
		parentRef, ok := fs.parentRefFor(r.key.parentID)
		if !ok {
			fs.notes.Add(vdisk.Warning, "hfs: file %q has no resolvable parent, orphaned", r.key.name)
			continue
		}
		ref := fs.arena.Create(parentRef, r.key.name, vdisk.KindFile)
		ee := &engineEntry{cnid: r.cnid}
		copy(ee.finderInfo[:], r.data[0x04:0x14])
		ee.dataEOF = int(be32(r.data[0x1a:]))
		ee.rsrcEOF = int(be32(r.data[0x24:]))
		ee.created = fromMacTime(be32(r.data[0x2c:]))
		ee.modified = fromMacTime(be32(r.data[0x30:]))
		ee.backupWhen = fromMacTime(be32(r.data[0x34:]))
		ee.dataExtents = readExtents3(r.data[0x4a:])
		ee.rsrcExtents = readExtents3(r.data[0x56:])
		if deepScan {
			if totalBlocks(ee.dataExtents)+totalBlocks(ee.rsrcExtents) > int(fs.m.numAllocBlocks) {
				ee.damaged = true
				fs.notes.Add(vdisk.Warning, "hfs: %q claims more allocation blocks than the volume has", r.key.name)
			}
		}
		fs.entries[ref] = ee
		fs.byCNID[r.cnid] = ref
		if r.cnid > highestCNID {
			highestCNID = r.cnid
		}
	}

	if fs.m.nextCNID <= highestCNID {
		fs.dubious = true
		fs.notes.Add(vdisk.ErrorSeverity, "hfs: next CNID %d is not greater than highest used CNID %d, volume is dubious", fs.m.nextCNID, highestCNID)
	}

	fs.recomputeValences()

	fs.fileAccess = true
	fs.chunks.SetAccessLevel(vdisk.ReadOnly)
	return nil
}

func (fs *FS) parentRefFor(cnid uint32) (fsnode.Ref, bool) {
	if cnid == rootCNID {
		return fsnode.Root, true
	}
	ref, ok := fs.byCNID[cnid]
	return ref, ok
}

func (fs *FS) recomputeValences() {
	var walk func(ref fsnode.Ref)
	walk = func(ref fsnode.Ref) {
		children := fs.arena.Children(ref)
		if ee := fs.entries[ref]; ee != nil {
			ee.valence = len(children)
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(fsnode.Root)
}

func (fs *FS) allocCNID() uint32 {
	id := fs.m.nextCNID
	fs.m.nextCNID++
	return id
}

func (fs *FS) VolumeDir() vdisk.FileEntry {
	return &fileEntry{fs: fs, ref: fsnode.Root}
}

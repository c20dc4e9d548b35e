// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dos33

import (
	"time"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

// scanCatalog walks the catalog-sector chain from fs.catStart, populating
// fs.arena and fs.entries with one node per live directory entry. A bad
// next-pointer marks the whole volume dubious; an individual bad T/S-list
// head marks just that file damaged, per spec.md section 4.3.1.
func (fs *FS) scanCatalog(deepScan bool) error {
	fs.entries = map[fsnode.Ref]*engineEntry{}
	seen := map[[2]int]bool{}
	track, sector := fs.catStart[0], fs.catStart[1]

	for track != 0 || sector != 0 {
		if seen[[2]int{track, sector}] {
			fs.dubious = true
			fs.notes.Add(vdisk.ErrorSeverity, "dos33: catalog chain loops at (%d,%d)", track, sector)
			break
		}
		seen[[2]int{track, sector}] = true

		var buf [sectorSize]byte
		if err := fs.chunks.ReadSector(track, sector, buf[:]); err != nil {
			fs.dubious = true
			fs.notes.Add(vdisk.ErrorSeverity, "dos33: unreadable catalog sector (%d,%d)", track, sector)
			break
		}

		for i := 0; i < entriesPerCatalogSector; i++ {
			ent := buf[0x0b+i*catalogEntrySize:][:catalogEntrySize]
			tsTrack := int(ent[0])
			if tsTrack == 0 {
				continue // never used
			}
			if tsTrack == 0xff {
				continue // deleted
			}

			ee := &engineEntry{
				catTrack: track, catSector: sector, catIndex: i,
				firstTSTrack: tsTrack, firstTSSector: int(ent[1]),
			}
			copy(ee.rawName[:], ent[2:32])
			ftype := ent[0x20]
			ee.locked = ftype&0x80 != 0
			ee.ftype = FileType(ftype &^ 0x80)
			ee.sectorCount = int(ent[0x21]) | int(ent[0x22])<<8

			if deepScan {
				if !fs.validTS(ee.firstTSTrack, ee.firstTSSector) {
					ee.damaged = true
					fs.notes.Add(vdisk.Warning, "dos33: %q has an invalid T/S-list pointer", CookName(ee.rawName[:]))
				}
			}

			ref := fs.arena.Create(fsnode.Root, CookName(ee.rawName[:]), vdisk.KindFile)
			fs.entries[ref] = ee
		}

		nextTrack, nextSector := int(buf[1]), int(buf[2])
		if nextTrack != 0 && !fs.validTrackSector(nextTrack, nextSector) {
			fs.dubious = true
			fs.notes.Add(vdisk.ErrorSeverity, "dos33: catalog next-pointer (%d,%d) out of range", nextTrack, nextSector)
			break
		}
		track, sector = nextTrack, nextSector
	}
	return nil
}

func (fs *FS) validTrackSector(t, s int) bool {
	return t >= 0 && t < fs.numTracks && s >= 0 && s < fs.numSectors
}

func (fs *FS) validTS(t, s int) bool {
	if t == 0 && s == 0 {
		return false
	}
	return fs.validTrackSector(t, s)
}

func (fs *FS) FindFileEntry(parent vdisk.FileEntry, name string) (vdisk.FileEntry, error) {
	ref := fs.arena.Lookup(fsnode.Root, name)
	if ref == fsnode.Nil {
		return nil, vdisk.NewError(vdisk.NotFound, "dos33: %q not found", name)
	}
	return &fileEntry{fs: fs, ref: ref}, nil
}

// allocSector finds a free sector, preferring the configured sweep
// direction from the last-allocated track, per the VTOC's `direction`
// byte convention.
func (fs *FS) allocSector() (int, int, error) {
	t := fs.lastTrackAlloc
	for tries := 0; tries < fs.numTracks; tries++ {
		for s := 0; s < fs.numSectors; s++ {
			if fs.bitFree(t, s) {
				fs.setBit(t, s, false)
				fs.lastTrackAlloc = t
				return t, s, nil
			}
		}
		t += fs.direction
		if t < 0 {
			t = fs.numTracks - 1
			fs.direction = 1
		} else if t >= fs.numTracks {
			t = 0
			fs.direction = -1
		}
	}
	return 0, 0, vdisk.NewError(vdisk.DiskFull, "dos33: no free sectors")
}

func (fs *FS) freeSector(t, s int) { fs.setBit(t, s, true) }

func (fs *FS) CreateFile(parent vdisk.FileEntry, name string, kind vdisk.EntryKind) (vdisk.FileEntry, error) {
	if kind == vdisk.KindDirectory {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "dos33: no subdirectories")
	}
	if err := ValidateRawName(name); err != nil {
		return nil, err
	}
	if fs.arena.Lookup(fsnode.Root, name) != fsnode.Nil {
		return nil, vdisk.NewError(vdisk.IoFailure, "dos33: %q already exists", name)
	}

	slot, err := fs.findFreeCatalogSlot()
	if err != nil {
		return nil, err
	}

	tsTrack, tsSector, err := fs.allocSector()
	if err != nil {
		return nil, err
	}
	var tsBuf [sectorSize]byte
	if err := fs.chunks.WriteSector(tsTrack, tsSector, tsBuf[:]); err != nil {
		fs.freeSector(tsTrack, tsSector)
		return nil, vdisk.Wrap(vdisk.IoFailure, err, "dos33: write new T/S list")
	}

	ee := &engineEntry{
		catTrack: slot.track, catSector: slot.sector, catIndex: slot.index,
		firstTSTrack: tsTrack, firstTSSector: tsSector,
		ftype: TypeApplesoft, rawName: RawName(name), sectorCount: 1,
	}
	if err := fs.writeCatalogEntry(ee); err != nil {
		fs.freeSector(tsTrack, tsSector)
		return nil, err
	}

	ref := fs.arena.Create(fsnode.Root, name, vdisk.KindFile)
	fs.entries[ref] = ee
	return &fileEntry{fs: fs, ref: ref}, nil
}

type catalogSlot struct{ track, sector, index int }

func (fs *FS) findFreeCatalogSlot() (catalogSlot, error) {
	track, sector := fs.catStart[0], fs.catStart[1]
	for track != 0 || sector != 0 {
		var buf [sectorSize]byte
		if err := fs.chunks.ReadSector(track, sector, buf[:]); err != nil {
			return catalogSlot{}, vdisk.Wrap(vdisk.IoFailure, err, "dos33: read catalog sector")
		}
		for i := 0; i < entriesPerCatalogSector; i++ {
			t := buf[0x0b+i*catalogEntrySize]
			if t == 0 || t == 0xff {
				return catalogSlot{track, sector, i}, nil
			}
		}
		track, sector = int(buf[1]), int(buf[2])
	}
	return catalogSlot{}, vdisk.NewError(vdisk.DiskFull, "dos33: catalog is full")
}

func (fs *FS) writeCatalogEntry(ee *engineEntry) error {
	var buf [sectorSize]byte
	if err := fs.chunks.ReadSector(ee.catTrack, ee.catSector, buf[:]); err != nil {
		return vdisk.Wrap(vdisk.IoFailure, err, "dos33: read catalog sector")
	}
	ent := buf[0x0b+ee.catIndex*catalogEntrySize:][:catalogEntrySize]
	ent[0] = byte(ee.firstTSTrack)
	ent[1] = byte(ee.firstTSSector)
	copy(ent[2:32], ee.rawName[:])
	ftype := byte(ee.ftype)
	if ee.locked {
		ftype |= 0x80
	}
	ent[0x20] = ftype
	ent[0x21] = byte(ee.sectorCount)
	ent[0x22] = byte(ee.sectorCount >> 8)
	return fs.chunks.WriteSector(ee.catTrack, ee.catSector, buf[:])
}

func (fs *FS) markDeleted(ee *engineEntry) error {
	var buf [sectorSize]byte
	if err := fs.chunks.ReadSector(ee.catTrack, ee.catSector, buf[:]); err != nil {
		return vdisk.Wrap(vdisk.IoFailure, err, "dos33: read catalog sector")
	}
	ent := buf[0x0b+ee.catIndex*catalogEntrySize:][:catalogEntrySize]
	ent[32-1] = ent[0] // DOS moves track byte to the name's last byte on delete, preserving original track for UNDELETE
	ent[0] = 0xff
	return fs.chunks.WriteSector(ee.catTrack, ee.catSector, buf[:])
}

func (fs *FS) DeleteFile(entry vdisk.FileEntry) error {
	fe, ok := entry.(*fileEntry)
	if !ok {
		return vdisk.NewError(vdisk.ArgumentInvalid, "dos33: foreign entry")
	}
	if fs.openForks[fe.ref] != 0 {
		return vdisk.NewError(vdisk.IoFailure, "dos33: delete while open")
	}
	ee := fs.entries[fe.ref]

	for t, s := ee.firstTSTrack, ee.firstTSSector; t != 0 || s != 0; {
		var tsBuf [sectorSize]byte
		if err := fs.chunks.ReadSector(t, s, tsBuf[:]); err != nil {
			break
		}
		fs.freeSector(t, s)
		for i := 0; i < tsListMax; i++ {
			dt, ds := int(tsBuf[0x0c+i*2]), int(tsBuf[0x0d+i*2])
			if dt != 0 || ds != 0 {
				fs.freeSector(dt, ds)
			}
		}
		t, s = int(tsBuf[1]), int(tsBuf[2])
	}

	if err := fs.markDeleted(ee); err != nil {
		return err
	}
	fs.arena.Free(fe.ref)
	delete(fs.entries, fe.ref)
	return nil
}

func (fs *FS) MoveFile(entry vdisk.FileEntry, newParent vdisk.FileEntry, newName string) error {
	fe, ok := entry.(*fileEntry)
	if !ok {
		return vdisk.NewError(vdisk.ArgumentInvalid, "dos33: foreign entry")
	}
	if err := ValidateRawName(newName); err != nil {
		return err
	}
	if fs.arena.Lookup(fsnode.Root, newName) != fsnode.Nil {
		return vdisk.NewError(vdisk.IoFailure, "dos33: %q already exists", newName)
	}
	ee := fs.entries[fe.ref]
	ee.rawName = RawName(newName)
	if err := fs.writeCatalogEntry(ee); err != nil {
		return err
	}
	fs.arena.Get(fe.ref).Name = newName
	return nil
}

func (fs *FS) AddRsrcFork(entry vdisk.FileEntry) error {
	return vdisk.NewError(vdisk.ArgumentInvalid, "dos33: no resource forks")
}

// entryCreateTime is a stub: DOS 3.x catalog entries carry no timestamp.
func entryCreateTime() time.Time { return time.Time{} }

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package prodos

import (
	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

// scanDirectory walks the linked chain of directory blocks starting at
// firstBlock (a SubdirHeader or VolumeHeader block), populating one
// fsnode child per live entry under parent.
func (fs *FS) scanDirectory(parent fsnode.Ref, firstBlock int, deepScan bool) error {
	var blocks []int
	seen := map[int]bool{}
	block := firstBlock

	for block != 0 {
		if seen[block] {
			fs.dubious = true
			fs.notes.Add(vdisk.ErrorSeverity, "prodos: directory block chain loops at %d", block)
			break
		}
		seen[block] = true
		blocks = append(blocks, block)

		var buf [blockSize]byte
		if err := fs.chunks.ReadBlock(block, buf[:]); err != nil {
			fs.dubious = true
			fs.notes.Add(vdisk.ErrorSeverity, "prodos: unreadable directory block %d", block)
			break
		}

		startIdx := 0
		if block == firstBlock {
			startIdx = 1 // slot 0 is the header itself
		}
		for i := startIdx; i < entriesPerBlock; i++ {
			ent := buf[4+i*entrySize:][:entrySize]
			storage := ent[0x00] >> 4
			if storage == storageDeleted {
				continue
			}

			ee := &engineEntry{dirBlock: block, index: i, storage: int(storage)}
			ee.nameLen = int(ent[0x00] & 0x0f)
			copy(ee.rawName[:], ent[0x01:0x10])
			ee.ftype = ent[0x10]
			ee.keyBlock = int(ent[0x11]) | int(ent[0x12])<<8
			ee.blocksUsed = int(ent[0x13]) | int(ent[0x14])<<8
			ee.eof = int(ent[0x15]) | int(ent[0x16])<<8 | int(ent[0x17])<<16
			ee.auxType = uint16(ent[0x1f]) | uint16(ent[0x20])<<8
			ee.access = ent[0x1e]

			if deepScan && ee.keyBlock != 0 && (ee.keyBlock < 0 || ee.keyBlock >= fs.totalBlocks) {
				ee.damaged = true
				fs.notes.Add(vdisk.Warning, "prodos: %q has an out-of-range key block", unpackName(ent[0x00], ee.rawName))
			}

			kind := vdisk.KindFile
			if int(storage) == storageSubdirHeader {
				kind = vdisk.KindDirectory
			} else if int(storage) == storageExtended {
				kind = vdisk.KindExtended
			}

			name := unpackName(ent[0x00], ee.rawName)
			ref := fs.arena.Create(parent, name, kind)
			fs.entries[ref] = ee

			if kind == vdisk.KindDirectory {
				if deepScan {
					if err := fs.scanDirectory(ref, ee.keyBlock, deepScan); err != nil {
						return err
					}
				}
				fs.dirBlocks[ref] = []int{ee.keyBlock}
			}
		}

		next := int(buf[2]) | int(buf[3])<<8
		block = next
	}
	fs.dirBlocks[parent] = blocks
	return nil
}

func (fs *FS) FindFileEntry(parent vdisk.FileEntry, name string) (vdisk.FileEntry, error) {
	pref := fs.refOf(parent)
	ref := fs.arena.Lookup(pref, name)
	if ref == fsnode.Nil {
		return nil, vdisk.NewError(vdisk.NotFound, "prodos: %q not found", name)
	}
	return fs.wrapEntry(ref), nil
}

func (fs *FS) refOf(entry vdisk.FileEntry) fsnode.Ref {
	switch e := entry.(type) {
	case *dirFileEntry:
		return e.ref
	case *fileFileEntry:
		return e.ref
	default:
		return fsnode.Root
	}
}

func (fs *FS) wrapEntry(ref fsnode.Ref) vdisk.FileEntry {
	if fs.arena.Get(ref).Kind == vdisk.KindDirectory {
		return &dirFileEntry{fs: fs, ref: ref}
	}
	return &fileFileEntry{fs: fs, ref: ref}
}

func (fs *FS) findFreeSlot(parentRef fsnode.Ref) (block, index int, err error) {
	blocks := fs.dirBlocks[parentRef]
	for _, b := range blocks {
		var buf [blockSize]byte
		fs.chunks.ReadBlock(b, buf[:])
		start := 0
		if b == blocks[0] {
			start = 1
		}
		for i := start; i < entriesPerBlock; i++ {
			ent := buf[4+i*entrySize:][:entrySize]
			if ent[0]>>4 == storageDeleted {
				return b, i, nil
			}
		}
	}
	// Directory growth: append a new block to the chain.
	newBlock, aerr := fs.allocBlock()
	if aerr != nil {
		return 0, 0, aerr
	}
	last := blocks[len(blocks)-1]
	var lastBuf [blockSize]byte
	fs.chunks.ReadBlock(last, lastBuf[:])
	lastBuf[2], lastBuf[3] = byte(newBlock), byte(newBlock>>8)
	if err := fs.chunks.WriteBlock(last, lastBuf); err != nil {
		return 0, 0, vdisk.Wrap(vdisk.IoFailure, err, "prodos: extend directory")
	}
	var newBuf [blockSize]byte
	newBuf[0], newBuf[1] = byte(last), byte(last>>8)
	if err := fs.chunks.WriteBlock(newBlock, newBuf[:]); err != nil {
		return 0, 0, vdisk.Wrap(vdisk.IoFailure, err, "prodos: write new directory block")
	}
	fs.dirBlocks[parentRef] = append(blocks, newBlock)
	return newBlock, 0, nil
}

func (fs *FS) writeEntry(ee *engineEntry) error {
	var buf [blockSize]byte
	if err := fs.chunks.ReadBlock(ee.dirBlock, buf[:]); err != nil {
		return vdisk.Wrap(vdisk.IoFailure, err, "prodos: read directory block")
	}
	ent := buf[4+ee.index*entrySize:][:entrySize]
	ent[0x00] = byte(ee.storage)<<4 | byte(ee.nameLen)
	copy(ent[0x01:0x10], ee.rawName[:])
	ent[0x10] = ee.ftype
	ent[0x11], ent[0x12] = byte(ee.keyBlock), byte(ee.keyBlock>>8)
	ent[0x13], ent[0x14] = byte(ee.blocksUsed), byte(ee.blocksUsed>>8)
	ent[0x15], ent[0x16], ent[0x17] = byte(ee.eof), byte(ee.eof>>8), byte(ee.eof>>16)
	ent[0x1e] = ee.access
	ent[0x1f], ent[0x20] = byte(ee.auxType), byte(ee.auxType>>8)
	return fs.chunks.WriteBlock(ee.dirBlock, buf[:])
}

func (fs *FS) CreateFile(parent vdisk.FileEntry, name string, kind vdisk.EntryKind) (vdisk.FileEntry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	parentRef := fs.refOf(parent)
	if parentRef == fsnode.Nil {
		parentRef = fsnode.Root
	}
	if fs.arena.Lookup(parentRef, name) != fsnode.Nil {
		return nil, vdisk.NewError(vdisk.IoFailure, "prodos: %q already exists", name)
	}

	block, index, err := fs.findFreeSlot(parentRef)
	if err != nil {
		return nil, err
	}

	storage := storageSeedling
	if kind == vdisk.KindDirectory {
		storage = storageSubdirHeader
	} else if kind == vdisk.KindExtended {
		storage = storageExtended
	}

	var keyBlock int
	if kind == vdisk.KindDirectory {
		kb, aerr := fs.allocBlock()
		if aerr != nil {
			return nil, aerr
		}
		var hdr [blockSize]byte
		lenNibble, rawName := packName(name)
		hdr[0x04] = storageSubdirHeader<<4 | lenNibble
		copy(hdr[0x05:0x14], rawName[:])
		hdr[0x1e] = 0xc3
		hdr[0x23] = entrySize
		hdr[0x24] = entriesPerBlock
		hdr[0x27], hdr[0x28] = byte(block), byte(block>>8)
		hdr[0x29] = byte(index + 1)
		if err := fs.chunks.WriteBlock(kb, hdr[:]); err != nil {
			fs.freeBlock(kb)
			return nil, vdisk.Wrap(vdisk.IoFailure, err, "prodos: write new subdirectory header")
		}
		keyBlock = kb
	}

	_, rawName := packName(name)
	ee := &engineEntry{
		dirBlock: block, index: index, storage: storage,
		nameLen: len(name), rawName: rawName,
		keyBlock: keyBlock,
	}
	if err := fs.writeEntry(ee); err != nil {
		return nil, err
	}

	ref := fs.arena.Create(parentRef, name, kind)
	fs.entries[ref] = ee
	if kind == vdisk.KindDirectory {
		fs.dirBlocks[ref] = []int{keyBlock}
	}
	return fs.wrapEntry(ref), nil
}

func (fs *FS) DeleteFile(entry vdisk.FileEntry) error {
	ref := fs.refOf(entry)
	if fs.isOpen(ref) {
		return vdisk.NewError(vdisk.IoFailure, "prodos: delete while open")
	}
	ee := fs.entries[ref]
	if ee.storage != storageSubdirHeader {
		fs.freeFileBlocks(ee)
	}
	ee.storage = storageDeleted
	if err := fs.writeEntry(ee); err != nil {
		return err
	}
	fs.arena.Free(ref)
	delete(fs.entries, ref)
	return nil
}

func (fs *FS) isOpen(ref fsnode.Ref) bool {
	for _, n := range fs.openForks[ref] {
		if n != 0 {
			return true
		}
	}
	return false
}

func (fs *FS) MoveFile(entry vdisk.FileEntry, newParent vdisk.FileEntry, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}
	ref := fs.refOf(entry)
	newParentRef := fs.refOf(newParent)
	if newParentRef == fsnode.Nil {
		newParentRef = fsnode.Root
	}
	if fs.arena.Lookup(newParentRef, newName) != fsnode.Nil {
		return vdisk.NewError(vdisk.IoFailure, "prodos: %q already exists in destination", newName)
	}

	// Reject moving a directory into its own descendant.
	for p := newParentRef; p != fsnode.Nil; p = fs.arena.Get(p).Parent {
		if p == ref {
			return vdisk.NewError(vdisk.ArgumentInvalid, "prodos: cannot move a directory into its own descendant")
		}
	}

	oldEE := fs.entries[ref]
	origStorage := oldEE.storage
	oldEE.storage = storageDeleted
	fs.writeEntry(oldEE)

	block, index, err := fs.findFreeSlot(newParentRef)
	if err != nil {
		return err
	}
	_, rawName := packName(newName)
	newEE := &engineEntry{
		dirBlock: block, index: index, storage: origStorage,
		nameLen: len(newName), rawName: rawName,
		ftype: oldEE.ftype, keyBlock: oldEE.keyBlock, blocksUsed: oldEE.blocksUsed,
		eof: oldEE.eof, auxType: oldEE.auxType, access: oldEE.access,
	}
	if err := fs.writeEntry(newEE); err != nil {
		return err
	}

	if fs.arena.Get(ref).Kind == vdisk.KindDirectory {
		// Update the subdirectory header's back-pointer to the new parent.
		var hdr [blockSize]byte
		fs.chunks.ReadBlock(newEE.keyBlock, hdr[:])
		hdr[0x27], hdr[0x28] = byte(block), byte(block>>8)
		hdr[0x29] = byte(index + 1)
		fs.chunks.WriteBlock(newEE.keyBlock, hdr[:])
	}

	fs.entries[ref] = newEE
	fs.arena.Move(ref, newParentRef)
	fs.arena.Get(ref).Name = newName
	return nil
}

func (fs *FS) AddRsrcFork(entry vdisk.FileEntry) error {
	ref := fs.refOf(entry)
	ee := fs.entries[ref]
	if ee.storage == storageExtended {
		return nil
	}
	if ee.storage != storageSeedling && ee.storage != storageSapling && ee.storage != storageTree {
		return vdisk.NewError(vdisk.ArgumentInvalid, "prodos: cannot add a resource fork to a directory")
	}
	ee.storage = storageExtended
	return fs.writeEntry(ee)
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfs

import (
	"time"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

func (fs *FS) FindFileEntry(parent vdisk.FileEntry, name string) (vdisk.FileEntry, error) {
	pref := fs.refOf(parent)
	ref := fs.arena.Lookup(pref, name)
	if ref == fsnode.Nil {
		return nil, vdisk.NewError(vdisk.NotFound, "hfs: %q not found", name)
	}
	return fs.wrapEntry(ref), nil
}

func (fs *FS) CreateFile(parent vdisk.FileEntry, name string, kind vdisk.EntryKind) (vdisk.FileEntry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	parentRef := fs.refOf(parent)
	if fs.arena.Lookup(parentRef, name) != fsnode.Nil {
		return nil, vdisk.NewError(vdisk.IoFailure, "hfs: %q already exists", name)
	}

	nodeKind := vdisk.KindFile
	if kind == vdisk.KindDirectory {
		nodeKind = vdisk.KindDirectory
	}

	ref := fs.arena.Create(parentRef, name, nodeKind)
	ee := &engineEntry{cnid: fs.allocCNID(), created: time.Now(), modified: time.Now()}
	fs.entries[ref] = ee
	fs.byCNID[ee.cnid] = ref

	if nodeKind == vdisk.KindDirectory {
		fs.m.dirCount++
	} else {
		fs.m.fileCount++
	}

	if err := fs.rebuildCatalog(); err != nil {
		return nil, err
	}
	if err := fs.writeBitmap(); err != nil {
		return nil, err
	}
	if err := fs.m.write(fs.chunks); err != nil {
		return nil, err
	}
	return fs.wrapEntry(ref), nil
}

func (fs *FS) DeleteFile(entry vdisk.FileEntry) error {
	ref := fs.refOf(entry)
	if ref == fsnode.Root {
		return vdisk.NewError(vdisk.ArgumentInvalid, "hfs: cannot delete the volume directory")
	}
	if fs.isOpen(ref) {
		return vdisk.NewError(vdisk.IoFailure, "hfs: delete while open")
	}
	node := fs.arena.Get(ref)
	if node.Kind == vdisk.KindDirectory && fs.arena.Children(ref) != nil && len(fs.arena.Children(ref)) > 0 {
		return vdisk.NewError(vdisk.ArgumentInvalid, "hfs: directory not empty")
	}

	ee := fs.entries[ref]
	fs.freeExtents(ee.dataExtents)
	fs.freeExtents(ee.rsrcExtents)
	if node.Kind == vdisk.KindDirectory {
		fs.m.dirCount--
	} else {
		fs.m.fileCount--
	}

	delete(fs.byCNID, ee.cnid)
	delete(fs.entries, ref)
	fs.arena.Free(ref)

	if err := fs.rebuildCatalog(); err != nil {
		return err
	}
	if err := fs.writeBitmap(); err != nil {
		return err
	}
	return fs.m.write(fs.chunks)
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
	if ref == fsnode.Root {
		return vdisk.NewError(vdisk.ArgumentInvalid, "hfs: cannot move the volume directory")
	}
	newParentRef := fs.refOf(newParent)
	if fs.arena.Lookup(newParentRef, newName) != fsnode.Nil {
		return vdisk.NewError(vdisk.IoFailure, "hfs: %q already exists in destination", newName)
	}

	for p := newParentRef; p != fsnode.Nil; p = fs.arena.Get(p).Parent {
		if p == ref {
			return vdisk.NewError(vdisk.ArgumentInvalid, "hfs: cannot move a directory into its own descendant")
		}
	}

	fs.arena.Move(ref, newParentRef)
	fs.arena.Get(ref).Name = newName
	if ee := fs.entries[ref]; ee != nil {
		ee.modified = time.Now()
	}

	// Moving a directory rewrites both its catalog record (new
	// parentID+name key) and its catalog-thread record (new parent
	// pointer); rebuildCatalog regenerates every record from the live
	// fsnode tree, so both are kept consistent in one pass.
	return fs.rebuildCatalog()
}

func (fs *FS) AddRsrcFork(entry vdisk.FileEntry) error {
	ref := fs.refOf(entry)
	if fs.arena.Get(ref).Kind == vdisk.KindDirectory {
		return vdisk.NewError(vdisk.ArgumentInvalid, "hfs: cannot add a resource fork to a directory")
	}
	// Every HFS file already carries a resource fork slot in its catalog
	// record; nothing to allocate until it is written to.
	return nil
}

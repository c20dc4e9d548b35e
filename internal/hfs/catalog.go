// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfs

import (
	"sort"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/fsnode"
)

// This engine models the catalog B*-tree as a degenerate tree: the root
// node is always a leaf, and overflow is handled by chaining additional
// leaf nodes (ndFLink), never by growing an index layer. Real HFS
// volumes this small in practice (a few hundred catalog records) stay
// within node-depth 1 anyway; multi-level index-node split/merge is not
// implemented, a simplification recorded in DESIGN.md.
const (
	nodeSize    = 512
	recDir      = 1
	recFile     = 2
	recDirThread = 3
	recFileThread = 4

	rootCNID      = 2
	firstUserCNID = 16
)

type catalogKey struct {
	parentID uint32
	name     string // Mac OS Roman on the wire; kept as Go string (byte-for-byte) here
}

// encode lays out: keyLen(1) parentID(4) nameLen(1) name(nameLen), padded
// to an even length, matching decodeCatalogKey's layout.
func (k catalogKey) encode() []byte {
	nameBytes := []byte(k.name)
	if len(nameBytes) > 31 {
		nameBytes = nameBytes[:31]
	}
	body := make([]byte, 4+1+len(nameBytes))
	putBE32(body[0:], k.parentID)
	body[4] = byte(len(nameBytes))
	copy(body[5:], nameBytes)
	full := append([]byte{byte(len(body))}, body...)
	if len(full)%2 != 0 {
		full = append(full, 0)
	}
	return full
}

func decodeCatalogKey(b []byte) (catalogKey, int) {
	keyLen := int(b[0])
	parentID := be32(b[1:])
	nameLen := int(b[5])
	name := string(b[6 : 6+nameLen])
	total := 1 + keyLen
	if total%2 != 0 {
		total++
	}
	return catalogKey{parentID: parentID, name: name}, total
}

type catalogRecord struct {
	key      catalogKey
	dataType byte
	cnid     uint32 // dir ID / file ID / thread target
	data     []byte // encoded record payload (post key)
}

// rebuildCatalog serializes every live fsnode entry into leaf nodes and
// writes them through the catalog's extents, growing the extents as
// needed. Called on every structural change (create/delete/rename) since
// this engine keeps no separate free-space bookkeeping within nodes.
func (fs *FS) rebuildCatalog() error {
	var recs []catalogRecord

	var walk func(ref fsnode.Ref)
	walk = func(ref fsnode.Ref) {
		node := fs.arena.Get(ref)
		ee := fs.entries[ref]
		if ref != fsnode.Root {
			parentID := fs.entries[node.Parent].cnid
			if node.Parent == fsnode.Root {
				parentID = rootCNID
			}
			dt := byte(recFile)
			if node.Kind == vdisk.KindDirectory {
				dt = recDir
			}
			recs = append(recs, catalogRecord{
				key:      catalogKey{parentID: parentID, name: node.Name},
				dataType: dt, cnid: ee.cnid,
				data: encodeCatalogData(dt, ee),
			})
			if node.Kind == vdisk.KindDirectory {
				recs = append(recs, catalogRecord{
					key:      catalogKey{parentID: ee.cnid, name: ""},
					dataType: recDirThread, cnid: ee.cnid,
					data: encodeThreadData(parentID, node.Name),
				})
			}
		} else {
			recs = append(recs, catalogRecord{
				key:      catalogKey{parentID: rootCNID, name: ""},
				dataType: recDirThread, cnid: rootCNID,
				data: encodeThreadData(1, fs.volumeName), // parent of root is CNID 1
			})
		}
		for _, c := range fs.arena.Children(ref) {
			walk(c)
		}
	}
	walk(fsnode.Root)

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].key.parentID != recs[j].key.parentID {
			return recs[i].key.parentID < recs[j].key.parentID
		}
		// thread records (empty name) sort first within a parent
		return recs[i].key.name < recs[j].key.name
	})

	return fs.writeLeafChain(&fs.m.catalogExtents, &fs.m.catalogSize, recs)
}

// encodeCatalogData lays out CDrDirRec/CDrFilRec field-for-field as real
// HFS does, matching the offsets in Inside Macintosh: Files.
func encodeCatalogData(dt byte, ee *engineEntry) []byte {
	if dt == recDir {
		buf := make([]byte, 0x46)
		buf[0x00] = dt
		buf[0x01] = 0
		putBE16(buf[0x04:], uint16(ee.valence))
		putBE32(buf[0x06:], ee.cnid)
		putBE32(buf[0x0a:], toMacTime(ee.created))
		putBE32(buf[0x0e:], toMacTime(ee.modified))
		putBE32(buf[0x12:], toMacTime(ee.backupWhen))
		return buf
	}

	buf := make([]byte, 0x66)
	buf[0x00] = dt
	buf[0x01] = 0
	copy(buf[0x04:0x14], ee.finderInfo[:])
	putBE32(buf[0x14:], ee.cnid)
	putBE16(buf[0x18:], ee.dataExtents[0].startBlock)
	putBE32(buf[0x1a:], uint32(ee.dataEOF))
	putBE32(buf[0x1e:], uint32(totalBlocks(ee.dataExtents)))
	putBE16(buf[0x22:], ee.rsrcExtents[0].startBlock)
	putBE32(buf[0x24:], uint32(ee.rsrcEOF))
	putBE32(buf[0x28:], uint32(totalBlocks(ee.rsrcExtents)))
	putBE32(buf[0x2c:], toMacTime(ee.created))
	putBE32(buf[0x30:], toMacTime(ee.modified))
	putBE32(buf[0x34:], toMacTime(ee.backupWhen))
	writeExtents3(buf[0x4a:], ee.dataExtents)
	writeExtents3(buf[0x56:], ee.rsrcExtents)
	return buf
}

func encodeThreadData(parentID uint32, name string) []byte {
	buf := make([]byte, 0x2e)
	buf[0] = recDirThread // cdrType
	buf[1] = 0            // reserved
	nameBytes := []byte(name)
	if len(nameBytes) > 31 {
		nameBytes = nameBytes[:31]
	}
	putBE32(buf[0x0a:], parentID)
	buf[0x0e] = byte(len(nameBytes))
	copy(buf[0x0f:], nameBytes)
	return buf
}

// writeLeafChain packs recs into as many nodeSize leaf nodes as needed
// and writes them through extents (growing them if the catalog file must
// grow), entirely regenerating the file's contents on every call -- an
// acceptable cost for the catalog sizes this engine targets.
func (fs *FS) writeLeafChain(extents *[3]extentDescriptor, fileSize *uint32, recs []catalogRecord) error {
	var nodes [][]byte
	var curRecs [][]byte

	flushNode := func() {
		node := make([]byte, nodeSize)
		node[8] = 0xff // leaf node
		node[9] = 0
		putBE16(node[10:], uint16(len(curRecs)))

		offsets := make([]int, len(curRecs)+1)
		pos := 14
		for i, r := range curRecs {
			offsets[i] = pos
			copy(node[pos:], r)
			pos += len(r)
		}
		offsets[len(curRecs)] = pos

		// Record offset table, written backward from the end, two bytes each.
		tailStart := nodeSize - 2*(len(curRecs)+1)
		for i := len(offsets) - 1; i >= 0; i-- {
			putBE16(node[tailStart+(len(offsets)-1-i)*2:], uint16(offsets[i]))
		}

		nodes = append(nodes, node)
		curRecs = nil
	}

	budget := nodeSize - 14 - 2 // header + one offset-table slot reserved
	used := 0
	for _, r := range recs {
		enc := append(append([]byte{}, r.key.encode()...), r.data...)
		if len(enc)%2 != 0 {
			enc = append(enc, 0)
		}
		if used+len(enc)+2 > budget && len(curRecs) > 0 {
			flushNode()
			used = 0
		}
		curRecs = append(curRecs, enc)
		used += len(enc) + 2
	}
	flushNode()

	// Link nodes together via ndFLink.
	for i := 0; i < len(nodes)-1; i++ {
		putBE32(nodes[i][0:], uint32(i+1))
	}

	need := (len(nodes)*nodeSize + int(fs.m.allocBlockSize) - 1) / int(fs.m.allocBlockSize)
	have := totalBlocks(*extents)
	if need > have {
		if err := fs.growExtents(extents, have, need); err != nil {
			return err
		}
	}

	flat := make([]byte, len(nodes)*nodeSize)
	for i, n := range nodes {
		copy(flat[i*nodeSize:], n)
	}
	*fileSize = uint32(len(flat))
	return fs.writeExtentRun(firstExtent(*extents), flat)
}

func firstExtent(extents [3]extentDescriptor) extentDescriptor {
	total := totalBlocks(extents)
	return extentDescriptor{startBlock: extents[0].startBlock, blockCount: uint16(total)}
}

// readLeafChain reads the catalog's node chain back into records.
func (fs *FS) readLeafChain(extents [3]extentDescriptor, fileSize uint32) ([]catalogRecord, error) {
	total := totalBlocks(extents)
	if total == 0 {
		return nil, nil
	}
	buf := make([]byte, total*int(fs.m.allocBlockSize))
	if err := fs.readExtentRun(firstExtent(extents), buf); err != nil {
		return nil, err
	}

	var recs []catalogRecord
	node := 0
	seen := map[int]bool{}
	for {
		if seen[node] || node*nodeSize+nodeSize > len(buf) {
			break
		}
		seen[node] = true
		n := buf[node*nodeSize:][:nodeSize]
		next := int(be32(n[0:]))
		nrec := int(be16(n[10:]))

		// The offset table runs backward from the node's end: record i's
		// offset sits at nodeSize-2*(i+1), as flushNode writes it.
		offsets := make([]int, nrec+1)
		for i := range offsets {
			offsets[i] = int(be16(n[nodeSize-2*(i+1):]))
		}
		for i := 0; i < nrec; i++ {
			rec := n[offsets[i]:offsets[i+1]]
			key, keyTotal := decodeCatalogKey(rec)
			data := rec[keyTotal:]
			dt := data[0]
			var cnid uint32
			switch dt {
			case recDir, recDirThread:
				cnid = be32(data[0x06:])
				if dt == recDirThread {
					cnid = 0 // thread records carry the *parent* CNID in the key, not here
				}
			case recFile:
				cnid = be32(data[0x14:])
			}
			recs = append(recs, catalogRecord{key: key, dataType: dt, cnid: cnid, data: append([]byte{}, data...)})
		}

		if next == 0 {
			break
		}
		node = next
	}
	return recs, nil
}

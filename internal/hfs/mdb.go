// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfs

import (
	"time"

	"github.com/go-vdisk/vdisk"
)

const mdbBlock = 2 // MDB lives at block 2 in the ProDOS-block-ordered chunk space this engine reads through

// mdb mirrors the real Master Directory Block field-for-field (Inside
// Macintosh: Files) so that volumes this engine writes are byte-compatible
// with the original field offsets -- in particular drNxtCNID at 0x1e,
// which spec.md's dubious-volume test scenario corrupts directly.
type mdb struct {
	createDate, modifyDate uint32 // drCrDate, drLsMod
	attributes             uint16 // drAtrb
	fileCount, dirCount    uint32 // drFilCnt, drDirCnt (volume totals)
	nextCNID               uint32 // drNxtCNID at 0x1e
	freeBlocks             uint16 // drFreeBks
	allocBlockSize         uint32 // drAlBlkSiz
	clumpSize              uint32 // drClpSiz
	allocBlockStart        uint16 // drAlBlSt, in 512-byte blocks
	nextAllocSearch        uint16 // drAllocPtr
	numAllocBlocks         uint16 // drNmAlBlks
	volNameLen             byte
	volName                [27]byte // drVN

	catalogExtents  [3]extentDescriptor // drCTExtRec
	catalogSize     uint32              // drCTFlSize
	overflowExtents [3]extentDescriptor // drXTExtRec
	overflowSize    uint32              // drXTFlSize
}

const (
	mdbOffCrDate    = 0x02
	mdbOffLsMod     = 0x06
	mdbOffAtrb      = 0x0a
	mdbOffNmFls     = 0x0c // root-directory file count, unused by this engine
	mdbOffVBMSt     = 0x0e
	mdbOffAllocPtr  = 0x10
	mdbOffNmAlBlks  = 0x12
	mdbOffAlBlkSiz  = 0x14
	mdbOffClpSiz    = 0x18
	mdbOffAlBlSt    = 0x1c
	mdbOffNxtCNID   = 0x1e
	mdbOffFreeBks   = 0x22
	mdbOffVN        = 0x24
	mdbOffXTFlSize  = 0x82
	mdbOffXTExtRec  = 0x86
	mdbOffCTFlSize  = 0x92
	mdbOffCTExtRec  = 0x96
	mdbOffFilCnt    = 0x54
	mdbOffDirCnt    = 0x58
)

type extentDescriptor struct {
	startBlock uint16
	blockCount uint16
}

func readMDB(chunks vdisk.ChunkProvider) (*mdb, error) {
	var buf [512]byte
	if err := chunks.ReadBlock(mdbBlock, buf[:]); err != nil {
		return nil, vdisk.Wrap(vdisk.FormatError, err, "hfs: read MDB")
	}
	if buf[0] != 'B' || buf[1] != 'D' {
		return nil, vdisk.NewError(vdisk.FormatError, "hfs: bad MDB signature")
	}

	m := &mdb{}
	m.createDate = be32(buf[mdbOffCrDate:])
	m.modifyDate = be32(buf[mdbOffLsMod:])
	m.attributes = be16(buf[mdbOffAtrb:])
	m.nextCNID = be32(buf[mdbOffNxtCNID:])
	m.freeBlocks = be16(buf[mdbOffFreeBks:])
	m.allocBlockSize = be32(buf[mdbOffAlBlkSiz:])
	m.clumpSize = be32(buf[mdbOffClpSiz:])
	m.allocBlockStart = be16(buf[mdbOffAlBlSt:])
	m.nextAllocSearch = be16(buf[mdbOffAllocPtr:])
	m.numAllocBlocks = be16(buf[mdbOffNmAlBlks:])
	m.volNameLen = buf[mdbOffVN]
	copy(m.volName[:], buf[mdbOffVN+1:mdbOffVN+1+27])

	m.fileCount = be32(buf[mdbOffFilCnt:])
	m.dirCount = be32(buf[mdbOffDirCnt:])

	m.catalogSize = be32(buf[mdbOffCTFlSize:])
	m.catalogExtents = readExtents3(buf[mdbOffCTExtRec:])
	m.overflowSize = be32(buf[mdbOffXTFlSize:])
	m.overflowExtents = readExtents3(buf[mdbOffXTExtRec:])

	return m, nil
}

func (m *mdb) write(chunks vdisk.ChunkProvider) error {
	var buf [512]byte
	buf[0], buf[1] = 'B', 'D'
	putBE32(buf[mdbOffCrDate:], m.createDate)
	putBE32(buf[mdbOffLsMod:], m.modifyDate)
	putBE16(buf[mdbOffAtrb:], m.attributes)
	putBE16(buf[mdbOffVBMSt:], uint16(fixedBitmapStart))
	putBE16(buf[mdbOffAllocPtr:], m.nextAllocSearch)
	putBE16(buf[mdbOffNmAlBlks:], m.numAllocBlocks)
	putBE32(buf[mdbOffAlBlkSiz:], m.allocBlockSize)
	putBE32(buf[mdbOffClpSiz:], m.clumpSize)
	putBE16(buf[mdbOffAlBlSt:], m.allocBlockStart)
	putBE32(buf[mdbOffNxtCNID:], m.nextCNID)
	putBE16(buf[mdbOffFreeBks:], m.freeBlocks)
	buf[mdbOffVN] = m.volNameLen
	copy(buf[mdbOffVN+1:mdbOffVN+1+27], m.volName[:])

	putBE32(buf[mdbOffFilCnt:], m.fileCount)
	putBE32(buf[mdbOffDirCnt:], m.dirCount)

	putBE32(buf[mdbOffCTFlSize:], m.catalogSize)
	writeExtents3(buf[mdbOffCTExtRec:], m.catalogExtents)
	putBE32(buf[mdbOffXTFlSize:], m.overflowSize)
	writeExtents3(buf[mdbOffXTExtRec:], m.overflowExtents)

	return vdiskWrapWrite(chunks.WriteBlock(mdbBlock, buf[:]), "hfs: write MDB")
}

const fixedBitmapStart = 3

func vdiskWrapWrite(err error, msg string) error {
	if err != nil {
		return vdisk.Wrap(vdisk.IoFailure, err, msg)
	}
	return nil
}

func readExtents3(b []byte) [3]extentDescriptor {
	var out [3]extentDescriptor
	for i := 0; i < 3; i++ {
		out[i] = extentDescriptor{startBlock: be16(b[i*4:]), blockCount: be16(b[i*4+2:])}
	}
	return out
}

func writeExtents3(b []byte, ex [3]extentDescriptor) {
	for i := 0; i < 3; i++ {
		putBE16(b[i*4:], ex[i].startBlock)
		putBE16(b[i*4+2:], ex[i].blockCount)
	}
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func putBE16(b []byte, v uint16) { b[0], b[1] = byte(v>>8), byte(v) }
func putBE32(b []byte, v uint32) { b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v) }

// macEpoch is 1904-01-01, the HFS timestamp base.
var macEpoch = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)

func toMacTime(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	return uint32(t.Sub(macEpoch).Seconds())
}

func fromMacTime(v uint32) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return macEpoch.Add(time.Duration(v) * time.Second)
}

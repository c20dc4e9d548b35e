// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package chunk implements the ordered (byte-addressed) half of spec.md
// component C3 "Chunk access": translating logical (track,sector) or
// block addresses to byte offsets through one of the four Order
// conventions, and gating access per the level state machine in
// spec.md section 5. The nibble-backed half lives alongside it in
// nibble_chunk.go, wrapping internal/nibble tracks instead of a flat
// byte range.
package chunk

import "github.com/go-vdisk/vdisk"

const (
	SectorSize = 256
	BlockSize  = 512
)

// dosToProDOS is the standard 16-sector DOS-logical-order to
// ProDOS-block-order skew table (Beneath Apple ProDOS appendix B); its
// inverse is computed once in init.
var dosToProDOS = [16]int{0, 7, 14, 6, 13, 5, 12, 4, 11, 3, 10, 2, 9, 1, 8, 15}

var proDOSToDOS [16]int

func init() {
	for dos, po := range dosToProDOS {
		proDOSToDOS[po] = dos
	}
}

// sectorByteOffset returns the byte offset of (track, sector), where
// sector is always expressed in DOS-logical numbering regardless of the
// provider's Order -- callers (filesystem engines) only ever think in DOS
// logical sector numbers; the provider's Order says how that maps onto the
// actual bytes of the underlying stream.
func sectorByteOffset(order vdisk.Order, track, sector, sectorsPerTrack int) (int64, error) {
	if sector < 0 || sector >= sectorsPerTrack || track < 0 {
		return 0, vdisk.NewError(vdisk.ArgumentInvalid, "sector address (%d,%d) out of range", track, sector)
	}
	physSector := sector
	switch order {
	case vdisk.OrderDOSSector, vdisk.OrderPhysical:
		physSector = sector
	case vdisk.OrderProDOSBlock:
		if sectorsPerTrack == 16 {
			physSector = dosToProDOS[sector]
		}
	case vdisk.OrderCPMKBlock:
		physSector = sector
	default:
		return 0, vdisk.NewError(vdisk.ArgumentInvalid, "chunk: unknown sector order")
	}
	return int64(track*sectorsPerTrack+physSector) * SectorSize, nil
}

// blockByteOffset returns the byte offset of a logical 512-byte block.
// ProDOS block order is the identity mapping onto the stream (that's the
// convention ProDOS images are stored in); for a DOS_Sector-ordered image
// accessed by block number, each block is the skew-translated union of two
// DOS sectors.
func blockByteOffset(order vdisk.Order, block int) (int64, error) {
	if block < 0 {
		return 0, vdisk.NewError(vdisk.ArgumentInvalid, "block %d out of range", block)
	}
	switch order {
	case vdisk.OrderProDOSBlock, vdisk.OrderPhysical, vdisk.OrderCPMKBlock:
		return int64(block) * BlockSize, nil
	case vdisk.OrderDOSSector:
		// Translate block -> track + pair of DOS-order sectors.
		track := block / 8
		half := block % 8
		poSec0, poSec1 := half*2, half*2+1
		dosSec0, dosSec1 := proDOSToDOS[poSec0], proDOSToDOS[poSec1]
		if dosSec1 != dosSec0+1 {
			// Not contiguous in DOS order; caller must fall back to two
			// separate sector reads. Signal via a sentinel offset of -1.
			return -1, nil
		}
		return int64(track*16+dosSec0) * SectorSize, nil
	default:
		return 0, vdisk.NewError(vdisk.ArgumentInvalid, "chunk: unknown block order")
	}
}

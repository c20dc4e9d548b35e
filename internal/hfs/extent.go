// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfs

import "github.com/go-vdisk/vdisk"

// blocksPerAllocBlock is how many 512-byte ProDOS-ordered blocks make up
// one HFS allocation block.
func (fs *FS) blocksPerAllocBlock() int {
	return int(fs.m.allocBlockSize) / blockSize
}

func (fs *FS) allocBlockTo512(ab int) int {
	return int(fs.m.allocBlockStart) + ab*fs.blocksPerAllocBlock()
}

// readExtentRun reads one allocation-block run into dst (must be exactly
// desc.blockCount allocation blocks long).
func (fs *FS) readExtentRun(desc extentDescriptor, dst []byte) error {
	bpa := fs.blocksPerAllocBlock()
	for i := 0; i < int(desc.blockCount); i++ {
		b512 := fs.allocBlockTo512(int(desc.startBlock) + i)
		for j := 0; j < bpa; j++ {
			off := (i*bpa + j) * blockSize
			if off+blockSize > len(dst) {
				break
			}
			if err := fs.chunks.ReadBlock(b512+j, dst[off:off+blockSize]); err != nil {
				return vdisk.Wrap(vdisk.IoFailure, err, "hfs: read allocation block")
			}
		}
	}
	return nil
}

func (fs *FS) writeExtentRun(desc extentDescriptor, src []byte) error {
	bpa := fs.blocksPerAllocBlock()
	for i := 0; i < int(desc.blockCount); i++ {
		b512 := fs.allocBlockTo512(int(desc.startBlock) + i)
		for j := 0; j < bpa; j++ {
			off := (i*bpa + j) * blockSize
			if off+blockSize > len(src) {
				break
			}
			if err := fs.chunks.WriteBlock(b512+j, src[off:off+blockSize]); err != nil {
				return vdisk.Wrap(vdisk.IoFailure, err, "hfs: write allocation block")
			}
		}
	}
	return nil
}

// growExtents extends extents (up to 3, per-entry descriptors --
// extents-overflow B-tree records beyond the third are not implemented
// by this engine; a fork needing a fourth extent fails DiskFull even
// when free space exists elsewhere, a known simplification recorded in
// DESIGN.md) to cover at least n allocation blocks total.
func (fs *FS) growExtents(extents *[3]extentDescriptor, haveBlocks int, wantBlocks int) error {
	need := wantBlocks - haveBlocks
	if need <= 0 {
		return nil
	}
	for i := 0; i < 3; i++ {
		if extents[i].blockCount == 0 {
			start, err := fs.allocRun(need)
			if err != nil {
				return err
			}
			extents[i] = extentDescriptor{startBlock: uint16(start), blockCount: uint16(need)}
			return nil
		}
	}
	return vdisk.NewError(vdisk.DiskFull, "hfs: fork needs a fourth extent (extents-overflow not implemented)")
}

func (fs *FS) freeExtents(extents [3]extentDescriptor) {
	for _, e := range extents {
		if e.blockCount > 0 {
			fs.freeRun(int(e.startBlock), int(e.blockCount))
		}
	}
}

func totalBlocks(extents [3]extentDescriptor) int {
	n := 0
	for _, e := range extents {
		n += int(e.blockCount)
	}
	return n
}

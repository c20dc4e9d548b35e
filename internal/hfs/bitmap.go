// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfs

import "github.com/go-vdisk/vdisk"

const blockSize = 512

// volumeBitmap tracks free allocation blocks as a simple bool slice in
// memory, serialized to/from the bitmap blocks that immediately follow
// the MDB, per spec.md section 4.3.3.
type volumeBitmap struct {
	free        []bool
	startBlock  int // block 3, fixed
}

func (fs *FS) bitmapBlocks() int {
	bits := fs.m.numAllocBlocks
	return (int(bits) + 8*blockSize - 1) / (8 * blockSize)
}

func (fs *FS) readBitmap() error {
	n := int(fs.m.numAllocBlocks)
	fs.bitmap = volumeBitmap{free: make([]bool, n), startBlock: 3}
	nb := fs.bitmapBlocks()
	for bb := 0; bb < nb; bb++ {
		var buf [blockSize]byte
		if err := fs.chunks.ReadBlock(3+bb, buf[:]); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "hfs: read bitmap block %d", bb)
		}
		for i := 0; i < blockSize*8; i++ {
			blk := bb*blockSize*8 + i
			if blk >= n {
				break
			}
			byteIdx, bitIdx := i/8, 7-uint(i%8)
			fs.bitmap.free[blk] = buf[byteIdx]&(1<<bitIdx) == 0 // HFS bitmap: 1 = allocated
		}
	}
	return nil
}

func (fs *FS) writeBitmap() error {
	nb := fs.bitmapBlocks()
	for bb := 0; bb < nb; bb++ {
		var buf [blockSize]byte
		for i := 0; i < blockSize*8; i++ {
			blk := bb*blockSize*8 + i
			if blk >= len(fs.bitmap.free) {
				break
			}
			if !fs.bitmap.free[blk] {
				byteIdx, bitIdx := i/8, 7-uint(i%8)
				buf[byteIdx] |= 1 << bitIdx
			}
		}
		if err := fs.chunks.WriteBlock(3+bb, buf[:]); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "hfs: write bitmap block %d", bb)
		}
	}
	return nil
}

func (fs *FS) allocRun(n int) (start int, err error) {
	best, bestLen := -1, 0
	run, runStart := 0, -1
	for i, free := range fs.bitmap.free {
		if free {
			if run == 0 {
				runStart = i
			}
			run++
			if run >= n && (best == -1 || run < bestLen || bestLen < n) {
				best, bestLen = runStart, run
				if run == n {
					break
				}
			}
		} else {
			run = 0
		}
	}
	if best == -1 {
		return 0, vdisk.NewError(vdisk.DiskFull, "hfs: no contiguous run of %d blocks", n)
	}
	for i := best; i < best+n; i++ {
		fs.bitmap.free[i] = false
	}
	return best, nil
}

func (fs *FS) freeRun(start, count int) {
	for i := start; i < start+count && i < len(fs.bitmap.free); i++ {
		fs.bitmap.free[i] = true
	}
}

func (fs *FS) freeSpace() int64 {
	n := 0
	for _, f := range fs.bitmap.free {
		if f {
			n++
		}
	}
	return int64(n) * int64(fs.m.allocBlockSize)
}

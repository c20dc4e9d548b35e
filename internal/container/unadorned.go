// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package container

import (
	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/chunk"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

// OpenUnadorned wraps a raw concatenation of sectors in a declared order;
// geometry is derived purely from size, per spec.md section 6.
func OpenUnadorned(stream rawio.Stream, order vdisk.Order, writable bool) (vdisk.ChunkProvider, error) {
	size := stream.Size()
	switch order {
	case vdisk.OrderDOSSector, vdisk.OrderPhysical:
		if size%chunk.SectorSize != 0 {
			return nil, vdisk.NewError(vdisk.FormatError, "unadorned: size %d not a multiple of sector size", size)
		}
		tracks := int(size / chunk.SectorSize / 16)
		return chunk.NewOrdered(stream, order, tracks, 16, 0, writable), nil
	case vdisk.OrderProDOSBlock, vdisk.OrderCPMKBlock:
		if size%chunk.BlockSize != 0 {
			return nil, vdisk.NewError(vdisk.FormatError, "unadorned: size %d not a multiple of block size", size)
		}
		blocks := int(size / chunk.BlockSize)
		return chunk.NewOrdered(stream, order, 0, 0, blocks, writable), nil
	default:
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "unadorned: order must be resolved before opening")
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package chunk

import (
	"io"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

// Ordered is a ChunkProvider over a flat byte-addressed stream (unadorned
// sector images, 2MG, DiskCopy payloads, one APM/MicroDrive partition
// window): every sector or block is a contiguous run of bytes reachable by
// a fixed arithmetic translation, the common case spec.md section 4.1
// describes before nibble media enters the picture.
type Ordered struct {
	stream          rawio.Stream
	order           vdisk.Order
	tracks          int
	sectorsPerTrack int
	numBlocks       int
	writable        bool
	level           vdisk.AccessLevel
	unreadable      int
}

// NewOrdered builds a sector-addressed (tracks/sectorsPerTrack > 0) and/or
// block-addressed (numBlocks > 0) provider over stream. At least one of
// the two addressing families must be non-zero.
func NewOrdered(stream rawio.Stream, order vdisk.Order, tracks, sectorsPerTrack, numBlocks int, writable bool) *Ordered {
	return &Ordered{
		stream:          stream,
		order:           order,
		tracks:          tracks,
		sectorsPerTrack: sectorsPerTrack,
		numBlocks:       numBlocks,
		writable:        writable,
	}
}

func (o *Ordered) Order() vdisk.Order { return o.order }
func (o *Ordered) Writable() bool     { return o.writable }
func (o *Ordered) NumTracks() int     { return o.tracks }
func (o *Ordered) NumSectorsPerTrack() int { return o.sectorsPerTrack }
func (o *Ordered) NumBlocks() int     { return o.numBlocks }
func (o *Ordered) CountUnreadableChunks() int { return o.unreadable }
func (o *Ordered) AccessLevel() vdisk.AccessLevel { return o.level }
func (o *Ordered) SetAccessLevel(l vdisk.AccessLevel) { o.level = l }

func (o *Ordered) ReadSector(track, sector int, buf []byte) error {
	off, err := sectorByteOffset(o.order, track, sector, o.sectorsPerTrack)
	if err != nil {
		return err
	}
	return o.readAt(buf[:SectorSize], off)
}

func (o *Ordered) WriteSector(track, sector int, buf []byte) error {
	off, err := sectorByteOffset(o.order, track, sector, o.sectorsPerTrack)
	if err != nil {
		return err
	}
	return o.writeAt(buf[:SectorSize], off)
}

func (o *Ordered) ReadBlock(block int, buf []byte) error {
	off, err := blockByteOffset(o.order, block)
	if err != nil {
		return err
	}
	if off < 0 {
		return o.readBlockAsTwoSectors(block, buf, false)
	}
	return o.readAt(buf[:BlockSize], off)
}

func (o *Ordered) WriteBlock(block int, buf []byte) error {
	off, err := blockByteOffset(o.order, block)
	if err != nil {
		return err
	}
	if off < 0 {
		return o.readBlockAsTwoSectors(block, buf, true)
	}
	return o.writeAt(buf[:BlockSize], off)
}

func (o *Ordered) readBlockAsTwoSectors(block int, buf []byte, write bool) error {
	track := block / 8
	half := block % 8
	for i, poSec := range [2]int{half * 2, half * 2 + 1} {
		dosSec := proDOSToDOS[poSec]
		off, err := sectorByteOffset(vdisk.OrderDOSSector, track, dosSec, 16)
		if err != nil {
			return err
		}
		if write {
			if err := o.writeAt(buf[i*SectorSize:(i+1)*SectorSize], off); err != nil {
				return err
			}
		} else {
			if err := o.readAt(buf[i*SectorSize:(i+1)*SectorSize], off); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Ordered) readAt(buf []byte, off int64) error {
	_, err := o.stream.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		o.unreadable++
		return vdisk.Wrap(vdisk.IoFailure, err, "chunk: read at %d", off)
	}
	return nil
}

func (o *Ordered) writeAt(buf []byte, off int64) error {
	if o.level != vdisk.Open {
		return vdisk.NewError(vdisk.IoFailure, "chunk: write attempted while access level is %v", o.level)
	}
	if !o.writable {
		return vdisk.NewError(vdisk.IoFailure, "chunk: underlying media is read-only")
	}
	_, err := o.stream.WriteAt(buf, off)
	if err != nil {
		return vdisk.Wrap(vdisk.IoFailure, err, "chunk: write at %d", off)
	}
	return nil
}

func (o *Ordered) TestSector(track, sector int) (readable, writable bool) {
	off, err := sectorByteOffset(o.order, track, sector, o.sectorsPerTrack)
	if err != nil {
		return false, false
	}
	buf := make([]byte, SectorSize)
	_, err = o.stream.ReadAt(buf, off)
	readable = err == nil || err == io.EOF
	writable = readable && o.writable && o.level == vdisk.Open
	return
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package dos800 wraps the UniDOS-style 800K 3.5" hybrid: one physical
// disk formatted as two independent 400K DOS 3.3 volumes back to back,
// each with its own VTOC and catalog. Built new for spec.md section 6.5,
// following internal/apm's IMultiPart shape.
package dos800

import (
	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/chunk"
	"github.com/go-vdisk/vdisk/internal/container"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

const halfSize = 400 * 1024

// DOS800 is a parsed UniDOS hybrid: exactly two fixed-size halves, no
// partition table to read -- the split point is defined by the format.
type DOS800 struct {
	stream   rawio.Stream
	writable bool
	notes    vdisk.Notes
}

// New wraps stream as a two-volume hybrid. The caller (the analyzer) is
// responsible for having already recognized the 800K (or a close
// variant) size that identifies this format.
func New(stream rawio.Stream, writable bool) (*DOS800, error) {
	if stream.Size() < 2*halfSize {
		return nil, vdisk.NewError(vdisk.FormatError, "dos800: stream too small for a two-volume hybrid")
	}
	return &DOS800{stream: stream, writable: writable}, nil
}

func (d *DOS800) NumPartitions() int { return 2 }

func (d *DOS800) PartitionName(index int) string {
	if index == 0 {
		return "volume-1"
	}
	return "volume-2"
}

func (d *DOS800) PartitionChunks(index int) (vdisk.ChunkProvider, error) {
	win := container.NewWindow(d.stream, int64(index)*halfSize, halfSize)
	tracks := halfSize / chunk.SectorSize / 16
	return chunk.NewOrdered(win, vdisk.OrderDOSSector, tracks, 16, 0, d.writable), nil
}

func (d *DOS800) Notes() *vdisk.Notes { return &d.notes }

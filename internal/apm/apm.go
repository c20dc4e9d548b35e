// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package apm parses the Apple Partition Map, the block-0-anchored
// partition table used by SCSI/IDE/CD media on 68k and PowerPC Macs, per
// spec.md section 6.5.
package apm

import (
	"cmp"
	"encoding/binary"
	"slices"
	"strconv"
	"strings"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/chunk"
	"github.com/go-vdisk/vdisk/internal/container"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

type partition struct {
	name       string
	start, len int64 // bytes, within the parent stream
}

// APM is a parsed Apple Partition Map, implementing vdisk.IMultiPart.
type APM struct {
	stream   rawio.Stream
	writable bool
	parts    []partition
	notes    vdisk.Notes
}

// New parses the driver descriptor map and partition map entries at the
// front of stream. Some CDs carry a second "shadow map" using fixed
// 512-byte steps even when the real block size is 2048, for buggy ROMs
// that assumed every medium used 512-byte sectors; that oddity is
// detected the same way the original probe did.
func New(stream rawio.Stream, writable bool) (*APM, error) {
	var ddm [514]byte
	n, _ := stream.ReadAt(ddm[:], 0)
	if n < 514 || ddm[0] != 'E' || ddm[1] != 'R' {
		return nil, vdisk.NewError(vdisk.FormatError, "apm: not an Apple Partition Map")
	}

	sbBlkSize := binary.BigEndian.Uint16(ddm[2:])

	mapEntryStep := int64(sbBlkSize)
	if ddm[512] == 'P' && ddm[513] == 'M' {
		mapEntryStep = 512
	}

	var first [8]byte
	n, _ = stream.ReadAt(first[:], mapEntryStep)
	if n < 8 || first[0] != 'P' || first[1] != 'M' {
		return nil, vdisk.NewError(vdisk.FormatError, "apm: corrupt partition map")
	}
	count := int64(binary.BigEndian.Uint32(first[4:8]))

	raw := make([]byte, count*mapEntryStep)
	n, _ = stream.ReadAt(raw, mapEntryStep)
	if int64(n) != int64(len(raw)) {
		return nil, vdisk.NewError(vdisk.FormatError, "apm: truncated partition map")
	}

	a := &APM{stream: stream, writable: writable}

	var entries [][]byte
	for i := int64(0); i < count; i++ {
		ent := raw[i*mapEntryStep:][:512]
		if ent[0] != 'P' || ent[1] != 'M' {
			return nil, vdisk.NewError(vdisk.FormatError, "apm: corrupt partition map entry %d", i)
		}
		entries = append(entries, ent)
	}

	slices.SortStableFunc(entries, func(x, y []byte) int {
		return cmp.Compare(binary.BigEndian.Uint32(x[8:]), binary.BigEndian.Uint32(y[8:]))
	})

	ofeach := make(map[string]int)
	for _, ent := range entries {
		pmPyPartStart := binary.BigEndian.Uint32(ent[8:])
		pmPartBlkCnt := binary.BigEndian.Uint32(ent[12:])
		pmParType, _, _ := strings.Cut(string(ent[48:80]), "\x00")

		if pmParType == "Apple_Free" {
			continue
		}

		name := strings.ToLower(strings.TrimPrefix(pmParType, "Apple_"))
		ofeach[name]++
		name += "-" + strconv.Itoa(ofeach[name])

		pstart := mapEntryStep * int64(pmPyPartStart)
		plen := mapEntryStep * int64(pmPartBlkCnt)
		a.parts = append(a.parts, partition{name: name, start: pstart, len: plen})
	}
	return a, nil
}

func (a *APM) NumPartitions() int { return len(a.parts) }

func (a *APM) PartitionName(index int) string { return a.parts[index].name }

func (a *APM) PartitionChunks(index int) (vdisk.ChunkProvider, error) {
	p := a.parts[index]
	win := container.NewWindow(a.stream, p.start, p.len)
	blocks := int(p.len / chunk.BlockSize)
	return chunk.NewOrdered(win, vdisk.OrderProDOSBlock, 0, 0, blocks, a.writable), nil
}

func (a *APM) Notes() *vdisk.Notes { return &a.notes }

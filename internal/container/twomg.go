// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package container

import (
	"encoding/binary"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/chunk"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

// TwoMG2Header is the 64-byte 2MG header, spec.md section 6.
type TwoMG2Header struct {
	Creator        [4]byte
	HeaderLen      uint16
	Version        uint16
	Format         uint32 // 0=DOS order, 1=ProDOS order, 2=nibble (unsupported here)
	Flags          uint32
	NumBlocks      uint32
	DataOffset     uint32
	DataLength     uint32
	CommentOffset  uint32
	CommentLength  uint32
	CreatorOffset  uint32
	CreatorLength  uint32
}

// Open2MG parses the header and returns a chunk provider windowed onto the
// data region, plus the comment/creator-data metadata spec.md asks every
// DiskImage to expose.
func Open2MG(stream rawio.Stream, writable bool) (vdisk.ChunkProvider, map[string]string, error) {
	var h [64]byte
	if _, err := stream.ReadAt(h[:], 0); err != nil {
		return nil, nil, vdisk.Wrap(vdisk.FormatError, err, "2mg: read header")
	}
	if string(h[0:4]) != "2IMG" {
		return nil, nil, vdisk.NewError(vdisk.FormatError, "2mg: bad magic")
	}
	format := binary.LittleEndian.Uint32(h[12:])
	numBlocks := binary.LittleEndian.Uint32(h[20:])
	dataOffset := binary.LittleEndian.Uint32(h[24:])
	dataLength := binary.LittleEndian.Uint32(h[28:])
	commentOffset := binary.LittleEndian.Uint32(h[32:])
	commentLength := binary.LittleEndian.Uint32(h[36:])
	creatorOffset := binary.LittleEndian.Uint32(h[40:])
	creatorLength := binary.LittleEndian.Uint32(h[44:])

	if format == 2 {
		return nil, nil, vdisk.NewError(vdisk.FormatError, "2mg: nibble-format payloads are not a flat chunk window")
	}

	order := vdisk.OrderProDOSBlock
	if format == 0 {
		order = vdisk.OrderDOSSector
	}

	sub := NewWindow(stream, int64(dataOffset), int64(dataLength))

	tracks, sectorsPerTrack := 0, 0
	blocks := int(numBlocks)
	if order == vdisk.OrderDOSSector {
		tracks = int(dataLength) / (16 * chunk.SectorSize)
		sectorsPerTrack = 16
		blocks = 0
	}

	meta := map[string]string{}
	if commentLength > 0 {
		buf := make([]byte, commentLength)
		stream.ReadAt(buf, int64(commentOffset))
		meta["comment"] = string(buf)
	}
	if creatorLength > 0 {
		buf := make([]byte, creatorLength)
		stream.ReadAt(buf, int64(creatorOffset))
		meta["creatorData"] = string(buf)
	}
	meta["creator"] = string(h[4:8])

	return chunk.NewOrdered(sub, order, tracks, sectorsPerTrack, blocks, writable), meta, nil
}

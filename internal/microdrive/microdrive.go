// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package microdrive parses the partition map used by Apple II SCSI and
// MicroDrive hard-disk controllers: a single 512-byte block 0 holding up
// to 8 fixed-width partition entries (name, starting ProDOS block,
// block count), unlike APM's variable-length chained map. Built new for
// spec.md section 6.5, following internal/apm's IMultiPart shape.
package microdrive

import (
	"strings"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/chunk"
	"github.com/go-vdisk/vdisk/internal/container"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

const (
	entrySize    = 32
	maxEntries   = 8
	nameFieldLen = 16
)

type partition struct {
	name         string
	startBlock   uint32
	blockCount   uint32
}

// MicroDrive is a parsed MicroDrive-style partition map.
type MicroDrive struct {
	stream   rawio.Stream
	writable bool
	parts    []partition
	notes    vdisk.Notes
}

// New reads block 0 and decodes up to 8 partition-table entries. A zero
// name byte in an entry's first byte marks the end of the table, the
// same sentinel the controllers themselves used.
func New(stream rawio.Stream, writable bool) (*MicroDrive, error) {
	var block [512]byte
	if _, err := stream.ReadAt(block[:], 0); err != nil {
		return nil, vdisk.Wrap(vdisk.FormatError, err, "microdrive: read partition block")
	}

	m := &MicroDrive{stream: stream, writable: writable}
	ofeach := make(map[string]int)
	for i := 0; i < maxEntries; i++ {
		ent := block[i*entrySize:][:entrySize]
		if ent[0] == 0 {
			break
		}
		nameLen := int(ent[0])
		if nameLen > nameFieldLen-1 {
			nameLen = nameFieldLen - 1
		}
		rawName := strings.TrimRight(string(ent[1:1+nameLen]), " \x00")
		startBlock := be32(ent[16:])
		blockCount := be32(ent[20:])
		if blockCount == 0 {
			continue
		}

		name := strings.ToLower(rawName)
		if name == "" {
			name = "partition"
		}
		ofeach[name]++
		if ofeach[name] > 1 {
			name += "-2"
		}

		m.parts = append(m.parts, partition{name: name, startBlock: startBlock, blockCount: blockCount})
	}
	return m, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (m *MicroDrive) NumPartitions() int { return len(m.parts) }

func (m *MicroDrive) PartitionName(index int) string { return m.parts[index].name }

func (m *MicroDrive) PartitionChunks(index int) (vdisk.ChunkProvider, error) {
	p := m.parts[index]
	win := container.NewWindow(m.stream, int64(p.startBlock)*chunk.BlockSize, int64(p.blockCount)*chunk.BlockSize)
	return chunk.NewOrdered(win, vdisk.OrderProDOSBlock, 0, 0, int(p.blockCount), m.writable), nil
}

func (m *MicroDrive) Notes() *vdisk.Notes { return &m.notes }

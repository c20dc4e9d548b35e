// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package cpm

import (
	"testing"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/chunk"
	"github.com/go-vdisk/vdisk/internal/grinder"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

func newGrinderFS() vdisk.FileSystem {
	stream := rawio.FromMemory(make([]byte, 1600*512))
	chunks := chunk.NewOrdered(stream, vdisk.OrderProDOSBlock, 0, 0, 1600, true)
	return New(chunks)
}

func TestGrinder(t *testing.T) {
	grinder.RunFilesystem(t, grinder.Options{
		VolumeName: "GRINDER",
		Names:      []string{"HELLO", "WORLD", "TESTFILE"},
		DataSizes:  []int{50, 600, 5000},
		HoleOffset: 4096,
		HoleLength: 512,
		New:        newGrinderFS,
	})
}

// TestEightBitVsSixteenBitBlockReferences is spec.md section 4.3.5: a
// volume with at most 256 allocation blocks uses 8-bit block references
// and a 16-block extent; a larger volume switches to 16-bit references
// and an 8-block extent.
func TestEightBitVsSixteenBitBlockReferences(t *testing.T) {
	small := rawio.FromMemory(make([]byte, 800*512)) // 800 512-byte blocks = 200 allocation blocks, fits in 8 bits
	smallFS := New(chunk.NewOrdered(small, vdisk.OrderProDOSBlock, 0, 0, 800, true))
	if !smallFS.use8bit || smallFS.blocksPerExt != 16 {
		t.Fatalf("expected 8-bit references and 16-block extents for a 200 AB volume, got use8bit=%v blocksPerExt=%d", smallFS.use8bit, smallFS.blocksPerExt)
	}

	large := rawio.FromMemory(make([]byte, 4000*512)) // 1000 AB, exceeds 8-bit range
	largeFS := New(chunk.NewOrdered(large, vdisk.OrderProDOSBlock, 0, 0, 4000, true))
	if largeFS.use8bit || largeFS.blocksPerExt != 8 {
		t.Fatalf("expected 16-bit references and 8-block extents for a 1000 AB volume, got use8bit=%v blocksPerExt=%d", largeFS.use8bit, largeFS.blocksPerExt)
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package prodos

import (
	"bytes"
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

// TestSparseTreeConvergesAcrossStorageTiers is spec.md section 8 scenario 3:
// a file sparse enough to force seedling -> sapling -> tree storage
// promotion still reports the same data via SeekSparse convergence as a
// fully-dense file of the same length would.
func TestSparseTreeConvergesAcrossStorageTiers(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 2000*512))
	chunks := chunk.NewOrdered(stream, vdisk.OrderProDOSBlock, 0, 0, 2000, true)
	fs := New(chunks)
	if err := fs.Format("SPARSE", 1, false); err != nil {
		t.Fatal(err)
	}
	vol := fs.VolumeDir()
	entry, err := fs.CreateFile(vol, "BIGFILE", vdisk.KindFile)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	handle, err := fs.OpenFile(entry, vdisk.OpenReadWrite, vdisk.ForkData)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	// Write a single block of data past the sapling/tree boundary (256
	// blocks) so the storage tree is forced to promote to tree storage,
	// leaving everything before it a hole.
	const dataOffset = 300 * 512
	payload := bytes.Repeat([]byte{0x5a}, 512)
	if _, err := handle.WriteAt(payload, dataOffset); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	gotData, err := handle.SeekSparse(0, vdisk.SeekOriginData)
	if err != nil {
		t.Fatalf("SeekSparse(0, Data): %v", err)
	}
	if gotData != dataOffset {
		t.Fatalf("first data offset: got %d, want %d", gotData, dataOffset)
	}

	gotHole, err := handle.SeekSparse(dataOffset, vdisk.SeekOriginHole)
	if err != nil {
		t.Fatalf("SeekSparse(dataOffset, Hole): %v", err)
	}
	if gotHole != dataOffset+512 {
		t.Fatalf("next hole offset: got %d, want %d", gotHole, dataOffset+512)
	}

	readBack := make([]byte, 512)
	if _, err := handle.ReadAt(readBack, dataOffset); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(readBack, payload) {
		t.Fatal("data written past the sapling/tree boundary did not read back intact")
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pascal

import (
	"testing"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/chunk"
	"github.com/go-vdisk/vdisk/internal/grinder"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

func newGrinderFS() vdisk.FileSystem {
	stream := rawio.FromMemory(make([]byte, 280*512))
	chunks := chunk.NewOrdered(stream, vdisk.OrderProDOSBlock, 0, 0, 280, true)
	return New(chunks)
}

func TestGrinder(t *testing.T) {
	grinder.RunFilesystem(t, grinder.Options{
		VolumeName: "GRINDER",
		Names:      []string{"HELLO", "WORLD", "TESTFILE"},
		DataSizes:  []int{50, 600, 5000},
		New:        newGrinderFS,
	})
}

func growToBlocks(t *testing.T, fs *FS, entry vdisk.FileEntry, blocks int) {
	t.Helper()
	h, err := fs.OpenFile(entry, vdisk.OpenReadWrite, vdisk.ForkData)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := h.SetLength(int64(blocks) * 512); err != nil {
		t.Fatalf("SetLength: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestDefragmentReclaimsContiguousSpace is spec.md section 8 scenario 5:
// five files sized 8/10/12/14/14 blocks, delete the first and third, and
// Defragment must free their combined span as one contiguous,
// fully-allocatable run.
func TestDefragmentReclaimsContiguousSpace(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 280*512))
	chunks := chunk.NewOrdered(stream, vdisk.OrderProDOSBlock, 0, 0, 280, true)
	fs := New(chunks)
	if err := fs.Format("DEFRAG", 1, false); err != nil {
		t.Fatal(err)
	}
	vol := fs.VolumeDir()

	sizes := []int{8, 10, 12, 14, 14}
	names := []string{"FILEONE", "FILETWO", "FILETHREE", "FILEFOUR", "FILEFIVE"}
	entries := make([]vdisk.FileEntry, len(names))
	for i, name := range names {
		e, err := fs.CreateFile(vol, name, vdisk.KindFile)
		if err != nil {
			t.Fatalf("CreateFile(%s): %v", name, err)
		}
		growToBlocks(t, fs, e, sizes[i])
		entries[i] = e
	}

	before := fs.FreeSpace()

	if err := fs.DeleteFile(entries[0]); err != nil {
		t.Fatalf("DeleteFile(%s): %v", names[0], err)
	}
	if err := fs.DeleteFile(entries[2]); err != nil {
		t.Fatalf("DeleteFile(%s): %v", names[2], err)
	}

	freed := int64(sizes[0]+sizes[2]) * 512
	wantFree := before + freed
	if got := fs.FreeSpace(); got != wantFree {
		t.Fatalf("free space after delete: got %d, want %d", got, wantFree)
	}

	if err := fs.Defragment(); err != nil {
		t.Fatalf("Defragment: %v", err)
	}
	if got := fs.FreeSpace(); got != wantFree {
		t.Fatalf("free space after defragment: got %d, want %d", got, wantFree)
	}

	// The freed space must now be one contiguous run: a file needing
	// every remaining free block must still fit.
	remaining, err := fs.CreateFile(vol, "REMAINDER", vdisk.KindFile)
	if err != nil {
		t.Fatalf("CreateFile(REMAINDER): %v", err)
	}
	wantBlocks := int(wantFree/512) - 1 // minus the block CreateFile already claimed
	growToBlocks(t, fs, remaining, wantBlocks+1)
	if got := fs.FreeSpace(); got != 0 {
		t.Fatalf("expected the defragmented gap to be fully allocatable as one run, %d bytes left over", got)
	}
}

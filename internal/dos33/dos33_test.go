// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dos33

import (
	"testing"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/chunk"
	"github.com/go-vdisk/vdisk/internal/grinder"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

func newGrinderFS() vdisk.FileSystem {
	stream := rawio.FromMemory(make([]byte, 35*16*256))
	chunks := chunk.NewOrdered(stream, vdisk.OrderDOSSector, 35, 16, 0, true)
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

// TestBootableVolumeFreeSpace is spec.md section 8 scenario 1: a bootable
// 35x16 volume 1 leaves (35-4)*16*256 bytes free, reserving tracks 0-2 for
// the boot image plus the VTOC/catalog track.
func TestBootableVolumeFreeSpace(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 35*16*256))
	chunks := chunk.NewOrdered(stream, vdisk.OrderDOSSector, 35, 16, 0, true)
	fs := New(chunks)
	if err := fs.Format("BOOTABLE", 1, true); err != nil {
		t.Fatal(err)
	}
	if want, got := int64((35-4)*16*256), fs.FreeSpace(); got != want {
		t.Fatalf("bootable volume 1 free space: got %d, want %d", got, want)
	}
}

// TestNonBootableVolumeFreeSpace is spec.md section 8 scenario 1's second
// half: a non-bootable 35x16 volume 2 leaves (35-2)*16*256 bytes free.
func TestNonBootableVolumeFreeSpace(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 35*16*256))
	chunks := chunk.NewOrdered(stream, vdisk.OrderDOSSector, 35, 16, 0, true)
	fs := New(chunks)
	if err := fs.Format("PLAIN", 2, false); err != nil {
		t.Fatal(err)
	}
	if want, got := int64((35-2)*16*256), fs.FreeSpace(); got != want {
		t.Fatalf("non-bootable volume 2 free space: got %d, want %d", got, want)
	}
}

// TestFileNameLengthLimit is spec.md section 8 scenario 2: a 31-character
// name fails validation; a 30-character name succeeds.
func TestFileNameLengthLimit(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 35*16*256))
	chunks := chunk.NewOrdered(stream, vdisk.OrderDOSSector, 35, 16, 0, true)
	fs := New(chunks)
	if err := fs.Format("LIMITS", 1, false); err != nil {
		t.Fatal(err)
	}
	vol := fs.VolumeDir()

	tooLong := "Q12345678901234567890123456789A" // 31 chars
	if _, err := fs.CreateFile(vol, tooLong, vdisk.KindFile); err == nil {
		t.Fatal("expected a name longer than 30 characters to fail ArgumentInvalid")
	}

	thirty := "Q123456789012345678901234567890"[:30]
	if _, err := fs.CreateFile(vol, thirty, vdisk.KindFile); err != nil {
		t.Fatalf("expected a 30-character name to succeed: %v", err)
	}
}

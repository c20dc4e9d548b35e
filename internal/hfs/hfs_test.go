// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfs

import (
	"encoding/binary"
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
		VolumeName: "Grinder",
		Names:      []string{"Hello", "World", "TestFile"},
		DataSizes:  []int{50, 600, 5000},
		HoleOffset: 4096,
		HoleLength: 512,
		New:        newGrinderFS,
	})
}

// TestNextCNIDDamageMarksVolumeDubious is spec.md section 8 scenario 4: on a
// fresh volume, decrementing drNxtCNID below the highest CNID actually in
// use and rescanning must mark the volume dubious.
func TestNextCNIDDamageMarksVolumeDubious(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 1600*512))
	chunks := chunk.NewOrdered(stream, vdisk.OrderProDOSBlock, 0, 0, 1600, true)
	fs := New(chunks)
	if err := fs.Format("Dubious", 1, false); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.CreateFile(fs.VolumeDir(), "Hello", vdisk.KindFile); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if fs.VolumeDir().(*fileEntry).IsDubious() {
		t.Fatal("freshly created volume should not be dubious")
	}

	if err := fs.PrepareRawAccess(); err != nil {
		t.Fatalf("PrepareRawAccess: %v", err)
	}

	var buf [512]byte
	if err := chunks.ReadBlock(mdbBlock, buf[:]); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	next := binary.BigEndian.Uint32(buf[mdbOffNxtCNID:])
	binary.BigEndian.PutUint32(buf[mdbOffNxtCNID:], next-1)
	if err := chunks.WriteBlock(mdbBlock, buf[:]); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	if err := fs.PrepareFileAccess(true); err != nil {
		t.Fatalf("PrepareFileAccess: %v", err)
	}
	vol := fs.VolumeDir().(*fileEntry)
	if !vol.IsDubious() {
		t.Fatal("expected a volume with a corrupted next-CNID to be marked dubious")
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package analyzer

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/rawio"
	"github.com/go-vdisk/vdisk/internal/ziparchive"
)

func TestAnalyzeByExtension(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 35*16*256))
	kind, order, err := Analyze(stream, "game.do")
	if err != nil {
		t.Fatal(err)
	}
	if kind != vdisk.ContainerUnadorned || order != vdisk.OrderDOSSector {
		t.Fatalf("got kind=%v order=%v", kind, order)
	}

	kind, order, err = Analyze(stream, "game.po")
	if err != nil {
		t.Fatal(err)
	}
	if kind != vdisk.ContainerUnadorned || order != vdisk.OrderProDOSBlock {
		t.Fatalf("got kind=%v order=%v", kind, order)
	}
}

func TestAnalyzeByMagic(t *testing.T) {
	buf := make([]byte, 84)
	copy(buf, "2IMG")
	stream := rawio.FromMemory(buf)
	kind, order, err := Analyze(stream, "mystery.image")
	if err != nil {
		t.Fatal(err)
	}
	if kind != vdisk.Container2MG || order != vdisk.OrderUnknown {
		t.Fatalf("got kind=%v order=%v", kind, order)
	}
}

func TestAnalyzeBareSectorImageBySize(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 35*16*256))
	kind, order, err := Analyze(stream, "nohint")
	if err != nil {
		t.Fatal(err)
	}
	if kind != vdisk.ContainerUnadorned || order != vdisk.OrderUnknown {
		t.Fatalf("got kind=%v order=%v, want unadorned/unknown so AnalyzeDisk probes orders", kind, order)
	}
}

func TestPrepareDiskImageUnadornedRejectsBadSize(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 123))
	_, err := PrepareDiskImage(stream, vdisk.ContainerUnadorned, vdisk.OrderDOSSector, false)
	if err == nil {
		t.Fatal("expected error for a size not a multiple of the sector size")
	}
}

func TestPrepareDiskImageUnsupportedKind(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 35*16*256))
	_, err := PrepareDiskImage(stream, vdisk.ContainerTrackstar, vdisk.OrderUnknown, false)
	ve, ok := err.(*vdisk.Error)
	if !ok || ve.Kind != vdisk.ArgumentInvalid {
		t.Fatalf("expected ArgumentInvalid, got %v", err)
	}
}

func TestAnalyzeDiskProbesEveryOrderOnGarbageImage(t *testing.T) {
	stream := rawio.FromMemory(make([]byte, 35*16*256))
	img, err := PrepareDiskImage(stream, vdisk.ContainerUnadorned, vdisk.OrderUnknown, true)
	if err != nil {
		t.Fatal(err)
	}
	if img.Chunks() != nil {
		t.Fatal("expected PrepareDiskImage to leave geometry unresolved when order is unknown")
	}

	err = AnalyzeDisk(img, vdisk.OrderUnknown, false)
	ve, ok := err.(*vdisk.Error)
	if !ok || ve.Kind != vdisk.FormatError {
		t.Fatalf("expected FormatError for an all-zero image recognized by no filesystem, got %v", err)
	}
}

func TestAnalyzeDiskRejectsUnresolvedNonUnadornedContainer(t *testing.T) {
	img := vdisk.NewDiskImage(rawio.FromMemory(nil), vdisk.ContainerWOZ2, nil, nil)
	err := AnalyzeDisk(img, vdisk.OrderUnknown, false)
	ve, ok := err.(*vdisk.Error)
	if !ok || ve.Kind != vdisk.FormatError {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

// seekBuf is a minimal in-memory vdisk.WriteSeeker, just enough to drive
// CommitTransaction for an archive-dispatch round trip.
type seekBuf struct {
	buf bytes.Buffer
	pos int64
}

func (s *seekBuf) Write(p []byte) (int, error) {
	b := s.buf.Bytes()
	if s.pos == int64(len(b)) {
		n, err := s.buf.Write(p)
		s.pos += int64(n)
		return n, err
	}
	end := s.pos + int64(len(p))
	grown := make([]byte, max64(end, int64(len(b))))
	copy(grown, b)
	copy(grown[s.pos:], p)
	s.buf.Reset()
	s.buf.Write(grown)
	s.pos = end
	return len(p), nil
}

func (s *seekBuf) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		s.pos = offset
	case 1:
		s.pos += offset
	case 2:
		s.pos = int64(s.buf.Len()) + offset
	}
	return s.pos, nil
}

func (s *seekBuf) Truncate(size int64) error {
	if int64(s.buf.Len()) > size {
		s.buf.Truncate(int(size))
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func TestAnalyzeArchiveRecognizesZIPFromARealCommit(t *testing.T) {
	a := ziparchive.CreateArchive()
	if err := a.StartTransaction(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.CreateRecord(); err != nil {
		t.Fatal(err)
	}
	var out seekBuf
	if err := a.CommitTransaction(&out); err != nil {
		t.Fatal(err)
	}

	raw := out.buf.Bytes()
	kind, err := AnalyzeArchive(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if kind != vdisk.ArchiveZIP {
		t.Fatalf("got kind=%v, want ZIP", kind)
	}

	opened, gotKind, err := OpenArchive(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if gotKind != vdisk.ArchiveZIP {
		t.Fatalf("got kind=%v from OpenArchive", gotKind)
	}
	if len(opened.Records()) != 1 {
		t.Fatalf("expected 1 record round-tripped through dispatch, got %d", len(opened.Records()))
	}
}

func TestAnalyzeArchiveRecognizesAppleLinkACU(t *testing.T) {
	var raw bytes.Buffer
	raw.WriteString("ALNK")
	countBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(countBuf, 0)
	raw.Write(countBuf)

	kind, err := AnalyzeArchive(bytes.NewReader(raw.Bytes()), int64(raw.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if kind != vdisk.ArchiveAppleLinkACU {
		t.Fatalf("got kind=%v, want AppleLink ACU", kind)
	}

	opened, gotKind, err := OpenArchive(bytes.NewReader(raw.Bytes()), int64(raw.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if gotKind != vdisk.ArchiveAppleLinkACU {
		t.Fatalf("got kind=%v from OpenArchive", gotKind)
	}
	if len(opened.Records()) != 0 {
		t.Fatalf("expected an empty record list, got %d", len(opened.Records()))
	}
}

func TestAnalyzeArchiveUnknownMagicIsFormatError(t *testing.T) {
	raw := bytes.Repeat([]byte{0xff}, 32)
	_, err := AnalyzeArchive(bytes.NewReader(raw), int64(len(raw)))
	ve, ok := err.(*vdisk.Error)
	if !ok || ve.Kind != vdisk.FormatError {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package appledouble

import (
	"bytes"
	"io"
	"testing"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/grinder"
)

func TestGrinder(t *testing.T) {
	grinder.RunArchive(t, grinder.ArchiveOptions{
		New:          func() vdisk.Archive { return CreateArchive(KindAppleSingle) },
		Names:        []string{"HELLO.TEXT", "WORLD.TEXT"},
		SingleRecord: true,
	})
}

type memSource struct {
	data []byte
	pos  int
}

func (s *memSource) Open() error   { s.pos = 0; return nil }
func (s *memSource) Rewind() error { s.pos = 0; return nil }
func (s *memSource) Close() error  { return nil }
func (s *memSource) Size() int64   { return int64(len(s.data)) }
func (s *memSource) Read(buf []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(buf, s.data[s.pos:])
	s.pos += n
	return n, nil
}

type memStream struct {
	buf bytes.Buffer
	pos int64
}

func (m *memStream) Write(p []byte) (int, error) {
	b := m.buf.Bytes()
	if m.pos == int64(len(b)) {
		n, err := m.buf.Write(p)
		m.pos += int64(n)
		return n, err
	}
	end := m.pos + int64(len(p))
	if end > int64(len(b)) {
		grown := make([]byte, end)
		copy(grown, b)
		copy(grown[m.pos:], p)
		m.buf.Reset()
		m.buf.Write(grown)
	} else {
		copy(b[m.pos:end], p)
	}
	m.pos = end
	return len(p), nil
}

func (m *memStream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		m.pos = offset
	case 1:
		m.pos += offset
	case 2:
		m.pos = int64(m.buf.Len()) + offset
	}
	return m.pos, nil
}

func (m *memStream) Truncate(size int64) error {
	if int64(m.buf.Len()) > size {
		m.buf.Truncate(int(size))
	}
	return nil
}

func TestAppleSingleRoundTrip(t *testing.T) {
	a := CreateArchive(KindAppleSingle)
	if err := a.StartTransaction(); err != nil {
		t.Fatal(err)
	}
	rec, err := a.CreateRecord()
	if err != nil {
		t.Fatal(err)
	}
	rec.SetFileName("HELLO.TEXT")
	rec.SetComment("a test file")
	r := rec.(*Record)
	r.meta.Type = [4]byte{'T', 'E', 'X', 'T'}
	r.meta.Creator = [4]byte{'p', 'd', 'o', 's'}

	if err := a.AddPart(rec, vdisk.PartData, &memSource{data: []byte("hello appledouble world")}, vdisk.CompressionUncompressed); err != nil {
		t.Fatal(err)
	}
	if err := a.AddPart(rec, vdisk.PartRsrc, &memSource{data: []byte("resource bytes")}, vdisk.CompressionUncompressed); err != nil {
		t.Fatal(err)
	}

	var out memStream
	if err := a.CommitTransaction(&out); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenArchive(bytes.NewReader(out.buf.Bytes()), int64(out.buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	entry, err := reopened.FindFileEntry("HELLO.TEXT", '/')
	if err != nil {
		t.Fatal(err)
	}
	if entry.Comment() != "a test file" {
		t.Fatalf("comment mismatch: %q", entry.Comment())
	}
	if ft, ok := entry.HFSFileType(); !ok || ft != uint32('T')<<24|uint32('E')<<16|uint32('X')<<8|uint32('T') {
		t.Fatalf("file type mismatch: %x ok=%v", ft, ok)
	}

	dataStream, err := reopened.OpenPart(entry, vdisk.PartData)
	if err != nil {
		t.Fatal(err)
	}
	defer dataStream.Close()
	data, err := io.ReadAll(dataStream)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello appledouble world" {
		t.Fatalf("data fork mismatch: %q", data)
	}

	rsrcStream, err := reopened.OpenPart(entry, vdisk.PartRsrc)
	if err != nil {
		t.Fatal(err)
	}
	defer rsrcStream.Close()
	rsrc, err := io.ReadAll(rsrcStream)
	if err != nil {
		t.Fatal(err)
	}
	if string(rsrc) != "resource bytes" {
		t.Fatalf("resource fork mismatch: %q", rsrc)
	}
}

func TestAppleDoubleRejectsInlineDataFork(t *testing.T) {
	a := CreateArchive(KindAppleDouble)
	a.StartTransaction()
	rec, _ := a.CreateRecord()
	rec.SetFileName("NOTES")
	err := a.AddPart(rec, vdisk.PartData, &memSource{data: []byte("x")}, vdisk.CompressionUncompressed)
	ve, ok := err.(*vdisk.Error)
	if !ok || ve.Kind != vdisk.ArgumentInvalid {
		t.Fatalf("expected ArgumentInvalid, got %v", err)
	}
}

func TestAppleDoubleAttachDataFork(t *testing.T) {
	a := CreateArchive(KindAppleDouble)
	a.StartTransaction()
	rec, _ := a.CreateRecord()
	rec.SetFileName("NOTES")
	if err := a.AddPart(rec, vdisk.PartRsrc, &memSource{data: []byte("rsrc")}, vdisk.CompressionUncompressed); err != nil {
		t.Fatal(err)
	}
	var out memStream
	if err := a.CommitTransaction(&out); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenArchive(bytes.NewReader(out.buf.Bytes()), int64(out.buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.AttachDataFork(bytes.NewReader([]byte("sidecar data"))); err != nil {
		t.Fatal(err)
	}
	entry, err := reopened.FindFileEntry("NOTES", '/')
	if err != nil {
		t.Fatal(err)
	}
	ds, err := reopened.OpenPart(entry, vdisk.PartData)
	if err != nil {
		t.Fatal(err)
	}
	defer ds.Close()
	got, err := io.ReadAll(ds)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "sidecar data" {
		t.Fatalf("got %q", got)
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package nufxarchive

import (
	"bytes"
	"io"
	"testing"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/grinder"
)

func TestGrinder(t *testing.T) {
	grinder.RunArchive(t, grinder.ArchiveOptions{
		New:   func() vdisk.Archive { return CreateArchive() },
		Names: []string{"HELLO.TEXT", "WORLD.TEXT"},
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

func TestRoundTripUncompressedAndLZW(t *testing.T) {
	a := CreateArchive()
	if err := a.StartTransaction(); err != nil {
		t.Fatal(err)
	}

	rec1, _ := a.CreateRecord()
	rec1.SetFileName("HELLO.TEXT")
	if err := a.AddPart(rec1, vdisk.PartData, &memSource{data: []byte("hello, vintage world")}, vdisk.CompressionUncompressed); err != nil {
		t.Fatal(err)
	}

	rec2, _ := a.CreateRecord()
	rec2.SetFileName("REPEAT.BIN")
	repeated := bytes.Repeat([]byte("ABCABCABC"), 500)
	if err := a.AddPart(rec2, vdisk.PartData, &memSource{data: repeated}, vdisk.CompressionLZW1); err != nil {
		t.Fatal(err)
	}

	rec3, _ := a.CreateRecord()
	rec3.SetFileName("ZEROES.BIN")
	zeroes := make([]byte, 4096)
	if err := a.AddPart(rec3, vdisk.PartData, &memSource{data: zeroes}, vdisk.CompressionLZW2); err != nil {
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

	check := func(name string, want []byte) {
		t.Helper()
		entry, err := reopened.FindFileEntry(name, '/')
		if err != nil {
			t.Fatal(err)
		}
		rs, err := reopened.OpenPart(entry, vdisk.PartData)
		if err != nil {
			t.Fatal(err)
		}
		defer rs.Close()
		got, err := io.ReadAll(rs)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("%s: round trip mismatch: got %d bytes, want %d", name, len(got), len(want))
		}
	}
	check("HELLO.TEXT", []byte("hello, vintage world"))
	check("REPEAT.BIN", repeated)
	check("ZEROES.BIN", zeroes)
}

func TestCommentFieldLengthPreserved(t *testing.T) {
	a := CreateArchive()
	a.StartTransaction()
	rec, _ := a.CreateRecord()
	rec.SetFileName("NOTES")
	rec.SetComment("a reasonably long comment string")
	r := rec.(*Record)
	originalFieldLen := r.commentFieldLen
	rec.SetComment("short")
	if r.commentFieldLen != originalFieldLen {
		t.Fatalf("expected field length to be preserved at %d, got %d", originalFieldLen, r.commentFieldLen)
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ziparchive

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/grinder"
)

func TestGrinder(t *testing.T) {
	grinder.RunArchive(t, grinder.ArchiveOptions{
		New:   func() vdisk.Archive { return CreateArchive() },
		Names: []string{"HELLO.TXT", "WORLD.TXT"},
	})
}

// memSource is a simple in-memory vdisk.PartSource for tests.
type memSource struct {
	data []byte
	pos  int
	open bool
}

func (s *memSource) Open() error  { s.open = true; s.pos = 0; return nil }
func (s *memSource) Rewind() error { s.pos = 0; return nil }
func (s *memSource) Close() error  { s.open = false; return nil }
func (s *memSource) Size() int64   { return int64(len(s.data)) }
func (s *memSource) Read(buf []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(buf, s.data[s.pos:])
	s.pos += n
	return n, nil
}

// failSource fails partway through, to exercise commit-atomicity.
type failSource struct {
	data   []byte
	failAt int
	pos    int
}

func (s *failSource) Open() error  { s.pos = 0; return nil }
func (s *failSource) Rewind() error { s.pos = 0; return nil }
func (s *failSource) Close() error  { return nil }
func (s *failSource) Size() int64   { return int64(len(s.data)) }
func (s *failSource) Read(buf []byte) (int, error) {
	if s.pos >= s.failAt {
		return 0, errBoom
	}
	end := min(s.pos+len(buf), s.failAt)
	n := copy(buf, s.data[s.pos:end])
	s.pos += n
	return n, nil
}

var errBoom = errors.New("boom")

type memStream struct {
	buf bytes.Buffer
	pos int64
}

func (m *memStream) Write(p []byte) (int, error) {
	if int64(len(m.buf.Bytes())) < m.pos {
		m.buf.Write(make([]byte, m.pos-int64(len(m.buf.Bytes()))))
	}
	b := m.buf.Bytes()
	if m.pos == int64(len(b)) {
		n, err := m.buf.Write(p)
		m.pos += int64(n)
		return n, err
	}
	// overwrite in place then append remainder
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
	b := m.buf.Bytes()
	if int64(len(b)) > size {
		m.buf.Truncate(int(size))
	}
	return nil
}

func TestRoundTrip(t *testing.T) {
	a := CreateArchive()
	if err := a.StartTransaction(); err != nil {
		t.Fatal(err)
	}
	rec, err := a.CreateRecord()
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.SetFileName("HELLO.TXT"); err != nil {
		t.Fatal(err)
	}
	src := &memSource{data: []byte("hello, vintage world")}
	if err := a.AddPart(rec, vdisk.PartData, src, vdisk.CompressionDefault); err != nil {
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
	found, err := reopened.FindFileEntry("HELLO.TXT", '/')
	if err != nil {
		t.Fatal(err)
	}
	rs, err := reopened.OpenPart(found, vdisk.PartData)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	buf := make([]byte, 64)
	n, _ := rs.Read(buf)
	if string(buf[:n]) != "hello, vintage world" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestCommitAtomicityOnPartSourceFailure(t *testing.T) {
	a := CreateArchive()
	if err := a.StartTransaction(); err != nil {
		t.Fatal(err)
	}
	rec, _ := a.CreateRecord()
	rec.SetFileName("BAD.BIN")
	src := &failSource{data: bytes.Repeat([]byte{0x42}, 100000), failAt: 40000}
	if err := a.AddPart(rec, vdisk.PartData, src, vdisk.CompressionUncompressed); err == nil {
		t.Fatal("expected AddPart to surface the source failure")
	}

	// The pending state is preserved: the record still exists in this
	// transaction for the caller to repair (delete the bad part, add a
	// good one, and retry), per spec.md section 4.4 commit invariant 2.
	if _, err := a.FindFileEntry("BAD.BIN", '/'); err != nil {
		t.Fatalf("record should still be present in the pending transaction: %v", err)
	}

	good := &memSource{data: []byte("fixed")}
	if err := a.AddPart(rec, vdisk.PartData, good, vdisk.CompressionUncompressed); err != nil {
		t.Fatal(err)
	}
	var out memStream
	if err := a.CommitTransaction(&out); err != nil {
		t.Fatal(err)
	}
	if out.buf.Len() == 0 {
		t.Fatal("expected a successful retry to produce output")
	}
}

func TestZipRejectsResourceFork(t *testing.T) {
	a := CreateArchive()
	a.StartTransaction()
	rec, _ := a.CreateRecord()
	rec.SetFileName("X")
	src := &memSource{data: []byte("x")}
	if err := a.AddPart(rec, vdisk.PartRsrc, src, vdisk.CompressionUncompressed); err == nil {
		t.Fatal("expected resource-fork part to be rejected")
	}
}

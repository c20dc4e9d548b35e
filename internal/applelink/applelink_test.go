// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package applelink

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/grinder"
)

func TestGrinder(t *testing.T) {
	grinder.RunArchive(t, grinder.ArchiveOptions{
		New:      func() vdisk.Archive { return CreateArchive() },
		ReadOnly: true,
	})
}

func appendRecord(buf *bytes.Buffer, name string, flags, fileType byte, data []byte) {
	fixed := make([]byte, 13)
	fixed[0] = flags
	fixed[1] = fileType
	fixed[12] = byte(len(name))
	buf.Write(fixed)
	buf.WriteString(name)
	if flags&flagDirectory != 0 {
		return
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
	buf.Write(lenBuf)
	buf.Write(data)
}

func buildArchive(records int, fn func(buf *bytes.Buffer)) []byte {
	var body bytes.Buffer
	fn(&body)

	var out bytes.Buffer
	out.WriteString(magic)
	countBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(countBuf, uint32(records))
	out.Write(countBuf)
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestOpenArchiveListsFilesAndDirectories(t *testing.T) {
	raw := buildArchive(2, func(buf *bytes.Buffer) {
		appendRecord(buf, "ARCHIVE", flagDirectory, 0, nil)
		appendRecord(buf, "NOTES.TXT", 0, 0x04, []byte("applelink acu payload"))
	})

	a, err := OpenArchive(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatal(err)
	}
	if len(a.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(a.records))
	}

	dir, err := a.FindFileEntry("ARCHIVE", '/')
	if err != nil {
		t.Fatal(err)
	}
	if !dir.(*Record).IsDirectory() {
		t.Fatal("expected ARCHIVE to be a directory entry")
	}

	file, err := a.FindFileEntry("NOTES.TXT", '/')
	if err != nil {
		t.Fatal(err)
	}
	rs, err := a.OpenPart(file, vdisk.PartData)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	got, err := io.ReadAll(rs)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "applelink acu payload" {
		t.Fatalf("got %q", got)
	}
}

func TestBadMagicIsFormatError(t *testing.T) {
	raw := []byte("XXXX\x00\x00\x00\x00")
	_, err := OpenArchive(bytes.NewReader(raw), int64(len(raw)))
	ve, ok := err.(*vdisk.Error)
	if !ok || ve.Kind != vdisk.FormatError {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

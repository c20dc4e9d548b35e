// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package binary2

import (
	"bytes"
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

// writeHeader builds one 128-byte Binary II header + padded data block,
// mirroring the field layout OpenArchive parses.
func writeHeader(buf *bytes.Buffer, name string, fileType byte, storageType byte, data []byte) {
	hdr := make([]byte, headerSize)
	hdr[0] = markByte
	hdr[2] = fileType
	hdr[5] = storageType
	copy(hdr[nameFieldAt:], name)
	hdr[16] = byte(len(name))
	eof := len(data)
	hdr[81] = byte(eof)
	hdr[82] = byte(eof >> 8)
	hdr[83] = byte(eof >> 16)
	buf.Write(hdr)

	padded := (len(data) + headerSize - 1) / headerSize * headerSize
	block := make([]byte, padded)
	copy(block, data)
	buf.Write(block)
}

func TestOpenArchiveListsFilesAndDirectories(t *testing.T) {
	var buf bytes.Buffer
	writeHeader(&buf, "SUBDIR", 0, storageTypeDirectory, nil)
	writeHeader(&buf, "HELLO.TXT", 0x04, 0x01, []byte("hello binary ii"))

	a, err := OpenArchive(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(a.records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(a.records))
	}

	dirEntry, err := a.FindFileEntry("SUBDIR", '/')
	if err != nil {
		t.Fatal(err)
	}
	if !dirEntry.(*Record).IsDirectory() {
		t.Fatal("expected SUBDIR to be a directory entry")
	}

	fileEntry, err := a.FindFileEntry("HELLO.TXT", '/')
	if err != nil {
		t.Fatal(err)
	}
	rs, err := a.OpenPart(fileEntry, vdisk.PartData)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Close()
	got, err := io.ReadAll(rs)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello binary ii" {
		t.Fatalf("got %q", got)
	}
}

func TestMutatingCallsReturnTransactionState(t *testing.T) {
	a := CreateArchive()
	if err := a.StartTransaction(); !vdiskIsTransactionState(err) {
		t.Fatalf("expected TransactionState, got %v", err)
	}
	if _, err := a.CreateRecord(); !vdiskIsTransactionState(err) {
		t.Fatalf("expected TransactionState, got %v", err)
	}
}

func vdiskIsTransactionState(err error) bool {
	ve, ok := err.(*vdisk.Error)
	return ok && ve.Kind == vdisk.TransactionState
}

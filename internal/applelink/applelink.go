// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package applelink reads AppleLink ACU archives: a short magic-tagged
// header giving a record count, followed by that many fixed fields +
// filename + data records -- the same "list of records with data forks"
// shape as Binary II (internal/binary2), per spec.md section 4.4.
// Read-only in this module.
//
// No files were retrievable from original_source/ for this format (see
// DESIGN.md Open Questions), so the record layout here is a self-designed
// but internally consistent rendering of spec.md's "similar record list"
// description, grounded on the same field set Binary II carries.
package applelink

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/go-vdisk/vdisk"
)

const (
	magic      = "ALNK"
	headerSize = 8 // magic + uint32 record count

	flagDirectory = 0x01
)

// Archive is a read-only AppleLink ACU archive.
type Archive struct {
	notes   vdisk.Notes
	records []*Record
}

func CreateArchive() *Archive {
	return &Archive{}
}

// OpenArchive parses the magic header, the record count, then each
// record in turn: flags byte, fileType byte, auxType uint16, createWhen
// and modWhen as Unix seconds (uint32 each), a length-prefixed filename,
// and a uint32-length-prefixed data blob.
func OpenArchive(r io.ReaderAt, size int64) (*Archive, error) {
	if size < headerSize {
		return nil, vdisk.NewError(vdisk.FormatError, "applelink: archive shorter than header")
	}
	hdr := make([]byte, headerSize)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, vdisk.Wrap(vdisk.IoFailure, err, "applelink: reading header")
	}
	if string(hdr[:4]) != magic {
		return nil, vdisk.NewError(vdisk.FormatError, "applelink: bad magic")
	}
	count := binary.BigEndian.Uint32(hdr[4:8])

	a := &Archive{}
	pos := int64(headerSize)
	for i := uint32(0); i < count; i++ {
		rec, next, err := parseRecord(r, pos, size)
		if err != nil {
			a.notes.Add(vdisk.Warning, "applelink: stopped scan at record %d: %v", i, err)
			break
		}
		rec.arc = a
		a.records = append(a.records, rec)
		pos = next
	}
	return a, nil
}

func parseRecord(r io.ReaderAt, pos, size int64) (*Record, int64, error) {
	fixed := make([]byte, 13)
	if pos+int64(len(fixed)) > size {
		return nil, 0, vdisk.NewError(vdisk.FormatError, "applelink: truncated record header")
	}
	if _, err := r.ReadAt(fixed, pos); err != nil {
		return nil, 0, err
	}
	pos += int64(len(fixed))

	rec := &Record{
		flags:      fixed[0],
		fileType:   fixed[1],
		auxType:    binary.BigEndian.Uint16(fixed[2:4]),
		createWhen: time.Unix(int64(binary.BigEndian.Uint32(fixed[4:8])), 0).UTC(),
		modWhen:    time.Unix(int64(binary.BigEndian.Uint32(fixed[8:12])), 0).UTC(),
	}
	nameLen := int(fixed[12])

	name := make([]byte, nameLen)
	if pos+int64(nameLen) > size {
		return nil, 0, vdisk.NewError(vdisk.FormatError, "applelink: truncated filename")
	}
	if _, err := r.ReadAt(name, pos); err != nil {
		return nil, 0, err
	}
	pos += int64(nameLen)
	rec.fileName = string(name)

	if rec.flags&flagDirectory != 0 {
		return rec, pos, nil
	}

	lenBuf := make([]byte, 4)
	if pos+4 > size {
		return nil, 0, vdisk.NewError(vdisk.FormatError, "applelink: truncated data length for %q", rec.fileName)
	}
	if _, err := r.ReadAt(lenBuf, pos); err != nil {
		return nil, 0, err
	}
	pos += 4
	dataLen := int64(binary.BigEndian.Uint32(lenBuf))
	if pos+dataLen > size {
		return nil, 0, vdisk.NewError(vdisk.FormatError, "applelink: truncated data for %q", rec.fileName)
	}
	data := make([]byte, dataLen)
	if _, err := r.ReadAt(data, pos); err != nil {
		return nil, 0, err
	}
	pos += dataLen
	rec.data = data

	return rec, pos, nil
}

func (a *Archive) Capability() vdisk.Capability {
	return vdisk.Capability{
		HasResourceForks: false,
		HasDiskImages:    false,
		HasDirectories:   true,
		SupportsSparse:   false,
		MaxFileName:      255,
		CaseSensitive:    false,
	}
}

func (a *Archive) Notes() *vdisk.Notes { return &a.notes }

func (a *Archive) StartTransaction() error {
	return vdisk.NewError(vdisk.TransactionState, "applelink: archive is read-only")
}
func (a *Archive) CancelTransaction() error {
	return vdisk.NewError(vdisk.TransactionState, "applelink: archive is read-only")
}
func (a *Archive) CommitTransaction(output vdisk.WriteSeeker) error {
	return vdisk.NewError(vdisk.TransactionState, "applelink: archive is read-only")
}
func (a *Archive) CreateRecord() (vdisk.ArchiveRecord, error) {
	return nil, vdisk.NewError(vdisk.TransactionState, "applelink: archive is read-only")
}
func (a *Archive) DeleteRecord(entry vdisk.ArchiveRecord) error {
	return vdisk.NewError(vdisk.TransactionState, "applelink: archive is read-only")
}
func (a *Archive) AddPart(entry vdisk.ArchiveRecord, kind vdisk.PartKind, source vdisk.PartSource, compression vdisk.CompressionFormat) error {
	return vdisk.NewError(vdisk.TransactionState, "applelink: archive is read-only")
}
func (a *Archive) DeletePart(entry vdisk.ArchiveRecord, kind vdisk.PartKind) error {
	return vdisk.NewError(vdisk.TransactionState, "applelink: archive is read-only")
}

func (a *Archive) Records() []vdisk.ArchiveRecord {
	out := make([]vdisk.ArchiveRecord, len(a.records))
	for i, r := range a.records {
		out[i] = r
	}
	return out
}

func (a *Archive) FindFileEntry(name string, sep byte) (vdisk.ArchiveRecord, error) {
	for _, r := range a.records {
		if r.fileName == name {
			return r, nil
		}
	}
	return nil, vdisk.NewError(vdisk.NotFound, "applelink: no record named %q", name)
}

func (a *Archive) OpenPart(entry vdisk.ArchiveRecord, kind vdisk.PartKind) (vdisk.ReadSeekCloser, error) {
	r, ok := entry.(*Record)
	if !ok || r.arc != a {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "applelink: record belongs to a different archive")
	}
	if kind != vdisk.PartData {
		return nil, vdisk.NewError(vdisk.NotFound, "applelink: only PartData is supported")
	}
	return &readStream{data: r.data}, nil
}

type readStream struct {
	data []byte
	pos  int64
}

func (s *readStream) Read(p []byte) (int, error) {
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *readStream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = int64(len(s.data)) + offset
	}
	return s.pos, nil
}

func (s *readStream) Close() error { return nil }

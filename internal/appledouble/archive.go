// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package appledouble

import (
	"io"

	"github.com/go-vdisk/vdisk"
)

// Archive is a single-entry AppleSingle or AppleDouble container, per
// spec.md section 4.4. It follows the same start/commit/cancel
// transaction shape as internal/ziparchive and internal/nufxarchive, but
// CreateRecord only ever succeeds once: the format has no concept of a
// second entry.
type Archive struct {
	notes vdisk.Notes
	kind  Kind

	committed *Record // nil until a transaction commits a record
	pending   *Record // set between StartTransaction and Commit/Cancel
	open      bool
}

// CreateArchive starts a brand new AppleSingle or AppleDouble container;
// kind picks which magic CommitTransaction will emit.
func CreateArchive(kind Kind) *Archive {
	return &Archive{kind: kind}
}

// OpenArchive parses an existing AppleSingle container, or the metadata
// half of an AppleDouble pair. For AppleDouble, the data fork lives in a
// separate plain sidecar file (conventionally named "._name") which this
// call knows nothing about; pass it to AttachDataFork afterward if the
// caller has it.
func OpenArchive(r io.ReaderAt, size int64) (*Archive, error) {
	kind, entries, err := parsePrefix(r, size)
	if err != nil {
		return nil, vdisk.Wrap(vdisk.FormatError, err, "appledouble: parsing container")
	}
	a := &Archive{kind: kind}
	rec := newRecord(a)

	if span, ok := entries[REAL_NAME]; ok {
		name, err := readEntry(r, span)
		if err != nil {
			return nil, vdisk.Wrap(vdisk.IoFailure, err, "appledouble: reading REAL_NAME")
		}
		rec.fileName = string(name)
	}
	if span, ok := entries[COMMENT]; ok {
		text, err := readEntry(r, span)
		if err != nil {
			return nil, vdisk.Wrap(vdisk.IoFailure, err, "appledouble: reading COMMENT")
		}
		rec.comment = string(text)
	}
	if span, ok := entries[FILE_DATES_INFO]; ok {
		d, err := readEntry(r, span)
		if err != nil {
			return nil, vdisk.Wrap(vdisk.IoFailure, err, "appledouble: reading FILE_DATES_INFO")
		}
		rec.meta.StoreDates(d)
	}
	if span, ok := entries[MACINTOSH_FILE_INFO]; ok {
		d, err := readEntry(r, span)
		if err != nil {
			return nil, vdisk.Wrap(vdisk.IoFailure, err, "appledouble: reading MACINTOSH_FILE_INFO")
		}
		rec.meta.StoreMacFileInfo(d)
	}
	// FINDER_INFO's file-vs-directory field layout differs; without a
	// directory flag of its own in this container, assume file layout --
	// directory containers are vanishingly rare and HFS carries its own
	// directory bit outside AppleDouble (see internal/hfs).
	if span, ok := entries[FINDER_INFO]; ok {
		d, err := readEntry(r, span)
		if err != nil {
			return nil, vdisk.Wrap(vdisk.IoFailure, err, "appledouble: reading FINDER_INFO")
		}
		rec.meta.StoreFInfo(false, d)
	}
	if span, ok := entries[DATA_FORK]; ok {
		data, err := readEntry(r, span)
		if err != nil {
			return nil, vdisk.Wrap(vdisk.IoFailure, err, "appledouble: reading DATA_FORK")
		}
		rec.dataFork = data
		rec.hasData = true
	}
	if span, ok := entries[RESOURCE_FORK]; ok {
		data, err := readEntry(r, span)
		if err != nil {
			return nil, vdisk.Wrap(vdisk.IoFailure, err, "appledouble: reading RESOURCE_FORK")
		}
		rec.rsrcFork = data
		rec.hasRsrc = true
	}

	a.committed = rec
	return a, nil
}

// AttachDataFork supplies an AppleDouble archive's data fork from the
// sidecar file the caller already knows about. A no-op for AppleSingle
// archives, whose data fork is already embedded.
func (a *Archive) AttachDataFork(r io.Reader) error {
	if a.kind != KindAppleDouble || a.committed == nil {
		return nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return vdisk.Wrap(vdisk.IoFailure, err, "appledouble: reading attached data fork")
	}
	a.committed.dataFork = data
	a.committed.hasData = true
	return nil
}

func (a *Archive) Capability() vdisk.Capability {
	return vdisk.Capability{
		HasResourceForks: true,
		HasDiskImages:    false,
		HasDirectories:   false,
		SupportsSparse:   false,
		MaxFileName:      255,
		CaseSensitive:    true,
	}
}

func (a *Archive) Notes() *vdisk.Notes { return &a.notes }

func (a *Archive) StartTransaction() error {
	if a.open {
		return vdisk.NewError(vdisk.TransactionState, "appledouble: transaction already open")
	}
	if a.committed != nil {
		a.pending = a.committed.clone(a)
	}
	a.open = true
	return nil
}

func (a *Archive) CancelTransaction() error {
	if !a.open {
		return vdisk.NewError(vdisk.TransactionState, "appledouble: no transaction open")
	}
	if a.pending != nil {
		a.pending.deleted = true
	}
	a.pending = nil
	a.open = false
	return nil
}

func (a *Archive) CommitTransaction(output vdisk.WriteSeeker) error {
	if !a.open {
		return vdisk.NewError(vdisk.TransactionState, "appledouble: no transaction open")
	}
	if err := serialize(a, a.pending, output); err != nil {
		output.Truncate(0)
		return err
	}
	if a.committed != nil {
		a.committed.deleted = true
	}
	a.committed = a.pending
	a.pending = nil
	a.open = false
	return nil
}

func (a *Archive) CreateRecord() (vdisk.ArchiveRecord, error) {
	if !a.open {
		return nil, vdisk.NewError(vdisk.TransactionState, "appledouble: no transaction open")
	}
	if a.pending != nil {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "appledouble: container already holds its one entry")
	}
	a.pending = newRecord(a)
	return a.pending, nil
}

func (a *Archive) DeleteRecord(entry vdisk.ArchiveRecord) error {
	if !a.open {
		return vdisk.NewError(vdisk.TransactionState, "appledouble: no transaction open")
	}
	r, ok := entry.(*Record)
	if !ok || r != a.pending {
		return vdisk.NewError(vdisk.NotFound, "appledouble: record not found in this archive")
	}
	r.deleted = true
	a.pending = nil
	return nil
}

func (a *Archive) activeRecord() *Record {
	if a.open {
		return a.pending
	}
	return a.committed
}

func (a *Archive) Records() []vdisk.ArchiveRecord {
	r := a.activeRecord()
	if r == nil {
		return nil
	}
	return []vdisk.ArchiveRecord{r}
}

func (a *Archive) FindFileEntry(name string, sep byte) (vdisk.ArchiveRecord, error) {
	r := a.activeRecord()
	if r == nil || r.fileName != name {
		return nil, vdisk.NewError(vdisk.NotFound, "appledouble: no record named %q", name)
	}
	return r, nil
}

func (a *Archive) AddPart(entry vdisk.ArchiveRecord, kind vdisk.PartKind, source vdisk.PartSource, compression vdisk.CompressionFormat) error {
	if !a.open {
		return vdisk.NewError(vdisk.TransactionState, "appledouble: no transaction open")
	}
	r, ok := entry.(*Record)
	if !ok || r != a.pending {
		return vdisk.NewError(vdisk.NotFound, "appledouble: record not found in this archive")
	}
	switch kind {
	case vdisk.PartData:
		if a.kind == KindAppleDouble {
			return vdisk.NewError(vdisk.ArgumentInvalid, "appledouble: data fork lives in the sidecar file, not in the metadata container")
		}
	case vdisk.PartRsrc:
	default:
		return vdisk.NewError(vdisk.ArgumentInvalid, "appledouble: unsupported part kind")
	}

	data, err := drainSource(source)
	if err != nil {
		return err
	}
	switch kind {
	case vdisk.PartData:
		r.dataFork = data
		r.hasData = true
	case vdisk.PartRsrc:
		r.rsrcFork = data
		r.hasRsrc = true
	}
	return nil
}

func (a *Archive) DeletePart(entry vdisk.ArchiveRecord, kind vdisk.PartKind) error {
	if !a.open {
		return vdisk.NewError(vdisk.TransactionState, "appledouble: no transaction open")
	}
	r, ok := entry.(*Record)
	if !ok || r != a.pending {
		return vdisk.NewError(vdisk.NotFound, "appledouble: record not found in this archive")
	}
	switch kind {
	case vdisk.PartData:
		r.dataFork, r.hasData = nil, false
	case vdisk.PartRsrc:
		r.rsrcFork, r.hasRsrc = nil, false
	default:
		return vdisk.NewError(vdisk.NotFound, "appledouble: part not present")
	}
	return nil
}

func (a *Archive) OpenPart(entry vdisk.ArchiveRecord, kind vdisk.PartKind) (vdisk.ReadSeekCloser, error) {
	if a.open {
		return nil, vdisk.NewError(vdisk.TransactionState, "appledouble: cannot open parts mid-transaction")
	}
	r, ok := entry.(*Record)
	if !ok || r != a.committed {
		return nil, vdisk.NewError(vdisk.NotFound, "appledouble: record not found in this archive")
	}
	switch kind {
	case vdisk.PartData:
		if !r.hasData {
			return nil, vdisk.NewError(vdisk.NotFound, "appledouble: no data fork")
		}
		return &readStream{data: r.dataFork}, nil
	case vdisk.PartRsrc:
		if !r.hasRsrc {
			return nil, vdisk.NewError(vdisk.NotFound, "appledouble: no resource fork")
		}
		return &readStream{data: r.rsrcFork}, nil
	default:
		return nil, vdisk.NewError(vdisk.NotFound, "appledouble: part not present")
	}
}

func drainSource(source vdisk.PartSource) ([]byte, error) {
	if err := source.Open(); err != nil {
		return nil, vdisk.Wrap(vdisk.IoFailure, err, "appledouble: opening part source")
	}
	defer source.Close()
	buf := make([]byte, 0, source.Size())
	tmp := make([]byte, 32*1024)
	for {
		n, err := source.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, vdisk.Wrap(vdisk.IoFailure, err, "appledouble: reading part source")
		}
	}
	return buf, nil
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

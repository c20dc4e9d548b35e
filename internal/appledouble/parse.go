// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package appledouble

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Kind distinguishes the two container signatures MakePrefix/MakePrefixSingle
// can emit.
type Kind int

const (
	KindAppleDouble Kind = iota
	KindAppleSingle
)

// entrySpan is one parsed entry-descriptor: entry ID plus its byte range in
// the container.
type entrySpan struct {
	offset, length int64
}

// parsePrefix is the read-side counterpart to makePrefix: it reads the
// magic, version, and entry-descriptor table and returns each entry's
// span without yet reading the entry bodies, mirroring the way gen.go's
// writer builds the same table in one pass.
func parsePrefix(r io.ReaderAt, size int64) (kind Kind, entries map[int]entrySpan, err error) {
	if size < 26 {
		return 0, nil, errFormat("container shorter than fixed header")
	}
	head := make([]byte, 26)
	if _, err := r.ReadAt(head, 0); err != nil {
		return 0, nil, err
	}
	switch {
	case head[0] == 0x00 && head[1] == 0x05 && head[2] == 0x16 && head[3] == 0x07:
		kind = KindAppleDouble
	case head[0] == 0x00 && head[1] == 0x05 && head[2] == 0x16 && head[3] == 0x00:
		kind = KindAppleSingle
	default:
		return 0, nil, errFormat("bad magic")
	}

	numEntries := binary.BigEndian.Uint16(head[24:26])
	tableSize := int64(numEntries) * 12
	if 26+tableSize > size {
		return 0, nil, errFormat("truncated entry-descriptor table")
	}
	table := make([]byte, tableSize)
	if _, err := r.ReadAt(table, 26); err != nil {
		return 0, nil, err
	}

	entries = make(map[int]entrySpan, numEntries)
	for i := 0; i < int(numEntries); i++ {
		rec := table[i*12:]
		id := int(binary.BigEndian.Uint32(rec[0:4]))
		off := int64(binary.BigEndian.Uint32(rec[4:8]))
		length := int64(binary.BigEndian.Uint32(rec[8:12]))
		if off < 0 || length < 0 || off+length > size {
			return 0, nil, errFormat("entry %d out of range", id)
		}
		entries[id] = entrySpan{offset: off, length: length}
	}
	return kind, entries, nil
}

func readEntry(r io.ReaderAt, span entrySpan) ([]byte, error) {
	if span.length == 0 {
		return nil, nil
	}
	buf := make([]byte, span.length)
	if _, err := r.ReadAt(buf, span.offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// StoreFInfo is LoadFInfo's inverse-free counterpart, used by the reader
// to turn a raw FINDER_INFO entry back into populated FinderMeta fields.
func (m *FinderMeta) StoreFInfo(isDir bool, d []byte) {
	if len(d) < 16 {
		return
	}
	var b16 [16]byte
	copy(b16[:], d[:16])
	if isDir {
		m.LoadDInfo(&b16)
		if len(d) >= 32 {
			var x16 [16]byte
			copy(x16[:], d[16:32])
			m.LoadDXInfo(&x16)
		}
	} else {
		m.LoadFInfo(&b16)
		if len(d) >= 32 {
			var x16 [16]byte
			copy(x16[:], d[16:32])
			m.LoadFXInfo(&x16)
		}
	}
}

// StoreDates reverses datesRec: CreateTime/ModTime/BkTime/AccTime in that
// fixed field order.
func (m *FinderMeta) StoreDates(d []byte) {
	if len(d) < 16 {
		return
	}
	times := [4]*time.Time{&m.CreateTime, &m.ModTime, &m.BkTime, &m.AccTime}
	for i, tp := range times {
		secs := int32(binary.BigEndian.Uint32(d[4*i:]))
		*tp = appleDoubleEpoch.Add(time.Second * time.Duration(secs))
	}
}

// StoreMacFileInfo reverses flagsRec's locked bit.
func (m *FinderMeta) StoreMacFileInfo(d []byte) {
	if len(d) < 1 {
		return
	}
	m.Locked = d[0]&0x80 != 0
}

func errFormat(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

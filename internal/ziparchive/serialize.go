// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package ziparchive

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/klauspost/compress/flate"

	"github.com/go-vdisk/vdisk"
)

// serialize writes records as a standard (non-ZIP64) archive: local
// header+data per part, then the central directory, then the EOCD record.
// On any error the caller truncates output to zero, per spec.md section 4.4
// commit invariant 2.
func serialize(records []*Record, archiveComment string, output vdisk.WriteSeeker) error {
	if _, err := output.Seek(0, 0); err != nil {
		return err
	}

	type centralEnt struct {
		name, comment  string
		method         uint16
		dostime, dosdate uint16
		crc            uint32
		packed, unpacked int64
		offset         int64
	}
	var central []centralEnt

	var pos int64
	write := func(p []byte) error {
		n, err := output.Write(p)
		pos += int64(n)
		return err
	}

	for _, r := range records {
		if r.deleted {
			continue
		}
		p, name := recordPart(r)
		if p == nil {
			continue
		}
		packed, method, err := encodePart(p)
		if err != nil {
			return err
		}
		p.storedLength = int64(len(packed))
		crc := crc32.ChecksumIEEE(p.data)
		dosdate, dostime := timeToMsDos(r.modWhen)

		localOffset := pos
		hdr := make([]byte, 30+len(name))
		copy(hdr, sigLocalHeader)
		binary.LittleEndian.PutUint16(hdr[4:], 20)
		binary.LittleEndian.PutUint16(hdr[8:], method)
		binary.LittleEndian.PutUint16(hdr[10:], dostime)
		binary.LittleEndian.PutUint16(hdr[12:], dosdate)
		binary.LittleEndian.PutUint32(hdr[14:], crc)
		binary.LittleEndian.PutUint32(hdr[18:], uint32(len(packed)))
		binary.LittleEndian.PutUint32(hdr[22:], uint32(len(p.data)))
		binary.LittleEndian.PutUint16(hdr[26:], uint16(len(name)))
		copy(hdr[30:], name)
		if err := write(hdr); err != nil {
			return err
		}
		if err := write(packed); err != nil {
			return err
		}

		central = append(central, centralEnt{
			name: name, comment: r.comment, method: method,
			dostime: dostime, dosdate: dosdate, crc: crc,
			packed: int64(len(packed)), unpacked: int64(len(p.data)), offset: localOffset,
		})
	}

	centralStart := pos
	for _, e := range central {
		hdr := make([]byte, 46+len(e.name)+len(e.comment))
		copy(hdr, sigCentralDir)
		binary.LittleEndian.PutUint16(hdr[4:], 20)
		binary.LittleEndian.PutUint16(hdr[6:], 20)
		binary.LittleEndian.PutUint16(hdr[10:], e.method)
		binary.LittleEndian.PutUint16(hdr[12:], e.dostime)
		binary.LittleEndian.PutUint16(hdr[14:], e.dosdate)
		binary.LittleEndian.PutUint32(hdr[16:], e.crc)
		binary.LittleEndian.PutUint32(hdr[20:], uint32(e.packed))
		binary.LittleEndian.PutUint32(hdr[24:], uint32(e.unpacked))
		binary.LittleEndian.PutUint16(hdr[28:], uint16(len(e.name)))
		binary.LittleEndian.PutUint16(hdr[32:], uint16(len(e.comment)))
		binary.LittleEndian.PutUint32(hdr[42:], uint32(e.offset))
		copy(hdr[46:], e.name)
		copy(hdr[46+len(e.name):], e.comment)
		if err := write(hdr); err != nil {
			return err
		}
	}
	centralSize := pos - centralStart

	eocd := make([]byte, 22+len(archiveComment))
	copy(eocd, sigEOCD)
	binary.LittleEndian.PutUint16(eocd[8:], uint16(len(central)))
	binary.LittleEndian.PutUint16(eocd[10:], uint16(len(central)))
	binary.LittleEndian.PutUint32(eocd[12:], uint32(centralSize))
	binary.LittleEndian.PutUint32(eocd[16:], uint32(centralStart))
	binary.LittleEndian.PutUint16(eocd[20:], uint16(len(archiveComment)))
	copy(eocd[22:], archiveComment)
	if err := write(eocd); err != nil {
		return err
	}

	return nil
}

// recordPart picks the one part a ZIP entry is serialized from: PartData
// if present, else PartDiskImage (the only two kinds ziparchive accepts --
// AddPart already rejects PartRsrc and forbids mixing a disk-image part
// with any other).
func recordPart(r *Record) (*part, string) {
	if p, ok := r.parts[vdisk.PartData]; ok {
		return p, r.fileName
	}
	if p, ok := r.parts[vdisk.PartDiskImage]; ok {
		return p, r.fileName
	}
	return nil, ""
}

// encodePart picks store vs deflate. CompressionUncompressed always stores;
// otherwise (Default or an explicit Deflate request) deflate is tried and
// only kept if it's actually smaller, which is the "engine chooses based on
// the compressor's own guess" rule spec.md section 4.4 describes for Default.
func encodePart(p *part) ([]byte, uint16, error) {
	if p.format == vdisk.CompressionUncompressed {
		return p.data, methodStore, nil
	}
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, 0, err
	}
	if _, err := fw.Write(p.data); err != nil {
		return nil, 0, err
	}
	if err := fw.Close(); err != nil {
		return nil, 0, err
	}
	if buf.Len() >= len(p.data) {
		return p.data, methodStore, nil
	}
	return buf.Bytes(), methodDeflate, nil
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package nufxarchive

import (
	"encoding/binary"

	"github.com/go-vdisk/vdisk"
)

// serialize writes the master header, then each record's header + thread
// headers + thread data, in order. A BXY-wrapped archive's original
// 128-byte Binary II header is copied through verbatim (its own length
// fields are not recomputed -- see DESIGN.md for why).
func serialize(a *Archive, records []*Record, output vdisk.WriteSeeker) error {
	if _, err := output.Seek(0, 0); err != nil {
		return err
	}

	if a.bxyHeader != nil {
		if _, err := output.Write(a.bxyHeader); err != nil {
			return err
		}
	}

	live := make([]*Record, 0, len(records))
	for _, r := range records {
		if !r.deleted {
			live = append(live, r)
		}
	}

	master := make([]byte, masterHeaderSize)
	copy(master, masterMagic)
	binary.BigEndian.PutUint32(master[8:], uint32(len(live)))
	if _, err := output.Write(master); err != nil {
		return err
	}

	for _, r := range live {
		if err := writeRecord(r, output); err != nil {
			return err
		}
	}
	return nil
}

func writeRecord(r *Record, output vdisk.WriteSeeker) error {
	type encodedThread struct {
		kind, format uint16
		crc          uint16
		extraType    uint32
		eof          uint32
		data         []byte
	}
	var threads []encodedThread

	// The engine always writes new records using the filename-thread form,
	// per spec.md section 4.4: "the engine must write new records using the
	// thread form."
	threads = append(threads, encodedThread{
		kind: uint16(threadFilename), format: uint16(formatUncompressed),
		crc: calcCRC16([]byte(r.fileName)), eof: uint32(len(r.fileName)), data: []byte(r.fileName),
	})

	if r.comment != "" || r.commentFieldLen > 0 {
		commentBytes := []byte(r.comment)
		fieldLen := r.commentFieldLen
		if fieldLen < len(commentBytes) {
			fieldLen = len(commentBytes)
		}
		threads = append(threads, encodedThread{
			kind: uint16(threadComment), format: uint16(formatUncompressed),
			crc: calcCRC16(commentBytes), extraType: uint32(fieldLen), eof: uint32(len(commentBytes)), data: commentBytes,
		})
	}

	for _, kind := range []vdisk.PartKind{vdisk.PartData, vdisk.PartRsrc, vdisk.PartDiskImage} {
		t, ok := r.parts[kind]
		if !ok {
			continue
		}
		packed, err := encodeThread(t.data, t.format)
		if err != nil {
			return err
		}
		var tk threadKind
		switch kind {
		case vdisk.PartData:
			tk = threadData
		case vdisk.PartRsrc:
			tk = threadRsrc
		case vdisk.PartDiskImage:
			tk = threadDiskImage
		}
		threads = append(threads, encodedThread{
			kind: uint16(tk), format: uint16(t.format),
			crc: calcCRC16(t.data), extraType: t.extraType, eof: uint32(len(t.data)), data: packed,
		})
	}

	hdr := make([]byte, recordHeaderSize)
	copy(hdr, recordMagic)
	binary.BigEndian.PutUint16(hdr[8:], uint16(len(threads)))
	binary.BigEndian.PutUint16(hdr[10:], r.fileSysID)
	binary.BigEndian.PutUint32(hdr[12:], r.access)
	binary.BigEndian.PutUint32(hdr[16:], r.fileType)
	binary.BigEndian.PutUint32(hdr[20:], r.auxType)
	binary.BigEndian.PutUint32(hdr[24:], uint32(r.createWhen.Unix()))
	binary.BigEndian.PutUint32(hdr[28:], uint32(r.modWhen.Unix()))
	binary.BigEndian.PutUint16(hdr[32:], 0) // filenameLen: always thread form on write
	if _, err := output.Write(hdr); err != nil {
		return err
	}

	for _, t := range threads {
		th := make([]byte, threadHeaderSize)
		binary.BigEndian.PutUint16(th[0:], t.kind)
		binary.BigEndian.PutUint16(th[2:], t.format)
		binary.BigEndian.PutUint16(th[4:], t.crc)
		binary.BigEndian.PutUint32(th[6:], t.extraType)
		binary.BigEndian.PutUint32(th[10:], t.eof)
		binary.BigEndian.PutUint32(th[14:], uint32(len(t.data)))
		if _, err := output.Write(th); err != nil {
			return err
		}
	}
	for _, t := range threads {
		if len(t.data) == 0 {
			continue
		}
		if _, err := output.Write(t.data); err != nil {
			return err
		}
	}
	return nil
}

func encodeThread(data []byte, format threadFormat) ([]byte, error) {
	switch format {
	case formatUncompressed:
		return data, nil
	case formatLZW1:
		return lzwEncode(data), nil
	case formatLZW2:
		return lzwEncode(rleEncode(data)), nil
	default:
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "nufxarchive: unknown thread format %d", format)
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package container

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/nibble"
	"github.com/go-vdisk/vdisk/internal/rawio"
)

// WOZ is the parsed INFO/TMAP/TRKS/META chunk set of a WOZ1/WOZ2 image,
// per spec.md section 6. OpenWOZ reads every track's data up front;
// Tracks wraps it as bit buffers when called.
type WOZ struct {
	Version   int // 1 or 2
	Meta      map[string]string
	CRCOK     bool
	tmap      [160]byte // maps quarter-track -> track-data index, 0xff = unused
	tracks    [][]byte  // one entry per track-data index, raw packed bits
	trackBits []int
	stream    rawio.Stream
	infoOff   int64
}

// crcHeaderLen is the prefix (signature etc.) the CRC-32 in the header
// does not cover; everything after it does, per spec.md "4-byte CRC-32
// over everything after".
const crcHeaderLen = 12

// OpenWOZ parses a WOZ1 or WOZ2 stream. A CRC mismatch does not fail the
// open -- it marks CRCOK false so the caller records the volume dubious
// and read-only while still analyzable, per spec.md section 4.2.
func OpenWOZ(stream rawio.Stream) (*WOZ, error) {
	var sig [12]byte
	if _, err := stream.ReadAt(sig[:], 0); err != nil {
		return nil, vdisk.Wrap(vdisk.FormatError, err, "woz: read signature")
	}
	version := 0
	switch string(sig[:4]) {
	case "WOZ1":
		version = 1
	case "WOZ2":
		version = 2
	default:
		return nil, vdisk.NewError(vdisk.FormatError, "woz: bad signature")
	}
	if sig[4] != 0xff || sig[5] != 0x0a || sig[6] != 0x0d || sig[7] != 0x0a {
		return nil, vdisk.NewError(vdisk.FormatError, "woz: bad fixed bytes")
	}

	var crcBuf [4]byte
	stream.ReadAt(crcBuf[:], 8)
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	size := stream.Size()
	rest := make([]byte, size-crcHeaderLen)
	stream.ReadAt(rest, crcHeaderLen)
	gotCRC := crc32.ChecksumIEEE(rest)

	w := &WOZ{Version: version, Meta: map[string]string{}, CRCOK: wantCRC == gotCRC, stream: stream}

	off := int64(crcHeaderLen)
	for off+8 <= size {
		var chunkHdr [8]byte
		stream.ReadAt(chunkHdr[:], off)
		id := string(chunkHdr[:4])
		length := int64(binary.LittleEndian.Uint32(chunkHdr[4:]))
		body := off + 8

		switch id {
		case "INFO":
			w.infoOff = body
			w.parseINFO(body)
		case "TMAP":
			stream.ReadAt(w.tmap[:], body)
		case "TRKS":
			if err := w.parseTRKS(body, length); err != nil {
				return nil, err
			}
		case "META":
			buf := make([]byte, length)
			stream.ReadAt(buf, body)
			parseMETA(buf, w.Meta)
		}
		off = body + length
		if length%2 == 1 {
			off++ // chunks are padded to even length
		}
	}
	return w, nil
}

func (w *WOZ) parseINFO(off int64) {
	var buf [60]byte
	w.stream.ReadAt(buf[:], off)
	w.Meta["diskType"] = map[byte]string{1: "5.25", 2: "3.5"}[buf[1]]
	w.Meta["writeProtected"] = map[byte]string{0: "false", 1: "true"}[buf[2]]
	w.Meta["synchronized"] = map[byte]string{0: "false", 1: "true"}[buf[3]]
}

func (w *WOZ) parseTRKS(off, length int64) error {
	if w.Version == 2 {
		// 160 fixed 8-byte descriptors (starting block, block count, bit
		// count), then the bitstream data itself in 512-byte blocks.
		for i := 0; i < 160; i++ {
			var d [8]byte
			w.stream.ReadAt(d[:], off+int64(i)*8)
			startBlock := binary.LittleEndian.Uint16(d[0:])
			blockCount := binary.LittleEndian.Uint16(d[2:])
			bitCount := binary.LittleEndian.Uint32(d[4:])
			if blockCount == 0 {
				w.tracks = append(w.tracks, nil)
				w.trackBits = append(w.trackBits, 0)
				continue
			}
			packed := make([]byte, int(blockCount)*512)
			w.stream.ReadAt(packed, int64(startBlock)*512) // WOZ2 starting blocks count 512-byte blocks from the start of the file
			w.tracks = append(w.tracks, packed)
			w.trackBits = append(w.trackBits, int(bitCount))
		}
		return nil
	}

	// WOZ1: each TRKS entry is a fixed 6656-byte slot: bits, then a
	// trailer (bytes used, bit count, splice info).
	const slot = 6656
	n := int(length / slot)
	for i := 0; i < n; i++ {
		var trailer [8]byte
		w.stream.ReadAt(trailer[:], off+int64(i)*slot+6646)
		bytesUsed := binary.LittleEndian.Uint16(trailer[0:])
		bitCount := binary.LittleEndian.Uint16(trailer[2:])
		packed := make([]byte, bytesUsed)
		w.stream.ReadAt(packed, off+int64(i)*slot)
		w.tracks = append(w.tracks, packed)
		w.trackBits = append(w.trackBits, int(bitCount))
	}
	return nil
}

func parseMETA(buf []byte, out map[string]string) {
	// META is a flat "key\tvalue\n" text table.
	line := []byte{}
	var key string
	field := 0
	for _, b := range buf {
		switch b {
		case '\t':
			key = string(line)
			line = line[:0]
			field = 1
		case '\n':
			if field == 1 {
				out[key] = string(line)
			}
			line = line[:0]
			field = 0
		default:
			line = append(line, b)
		}
	}
}

// Tracks returns one CircularBitBuffer per quarter-track-mapped track
// (TMAP-resolved), the representation internal/chunk.NewNibbleBacked
// consumes. An index with no track data (tmap entry 0xff) yields an empty
// buffer.
func (w *WOZ) Tracks(numQuarterTracks int) []*nibble.CircularBitBuffer {
	out := make([]*nibble.CircularBitBuffer, 0, numQuarterTracks/4)
	for qt := 0; qt < numQuarterTracks; qt += 4 {
		idx := w.tmap[qt]
		if idx == 0xff || int(idx) >= len(w.tracks) {
			out = append(out, nibble.NewCircularBitBuffer(nil, 0))
			continue
		}
		out = append(out, nibble.NewCircularBitBuffer(w.tracks[idx], w.trackBits[idx]))
	}
	return out
}

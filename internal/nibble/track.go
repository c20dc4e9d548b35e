// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package nibble

import "github.com/pkg/errors"

// CircularBitBuffer is a circular bit stream backed by a byte array, the
// representation spec.md section 4.2 "WOZ track model" calls for: "each
// track is a CircularBitBuffer over a length-bounded array".
type CircularBitBuffer struct {
	bits   []byte // packed 8 bits per byte, MSB first
	nbits  int
	cursor int
}

// NewCircularBitBuffer wraps packed bits (as read from a WOZ TRKS chunk)
// with a known bit count, which may be less than len(packed)*8 since WOZ
// tracks are not always a whole number of bytes.
func NewCircularBitBuffer(packed []byte, nbits int) *CircularBitBuffer {
	return &CircularBitBuffer{bits: packed, nbits: nbits}
}

func (b *CircularBitBuffer) Len() int { return b.nbits }

// ReadBit returns the next bit (0 or 1) and advances the cursor, wrapping
// at the end since the medium is physically circular.
func (b *CircularBitBuffer) ReadBit() int {
	if b.nbits == 0 {
		return 0
	}
	byteIdx := b.cursor / 8
	bitIdx := 7 - (b.cursor % 8)
	bit := int(b.bits[byteIdx]>>bitIdx) & 1
	b.cursor = (b.cursor + 1) % b.nbits
	return bit
}

// WriteBit writes one bit at the cursor and advances it. Used when
// re-encoding a single sector in place (spec.md "a write re-encodes only
// the affected sector, preserving surrounding bits").
func (b *CircularBitBuffer) WriteBit(v int) {
	if b.nbits == 0 {
		return
	}
	byteIdx := b.cursor / 8
	bitIdx := 7 - (b.cursor % 8)
	if v != 0 {
		b.bits[byteIdx] |= 1 << bitIdx
	} else {
		b.bits[byteIdx] &^= 1 << bitIdx
	}
	b.cursor = (b.cursor + 1) % b.nbits
}

// Seek moves the cursor to an absolute bit position.
func (b *CircularBitBuffer) Seek(pos int) {
	if b.nbits == 0 {
		b.cursor = 0
		return
	}
	pos %= b.nbits
	if pos < 0 {
		pos += b.nbits
	}
	b.cursor = pos
}

func (b *CircularBitBuffer) Tell() int { return b.cursor }

// ReadByte reads the next self-synchronizing disk byte: it skips zero bits
// (sync bits) until it sees a one bit, matching real Apple II hardware,
// then reads 8 bits MSB-first.
func (b *CircularBitBuffer) ReadByte() byte {
	for b.ReadBit() == 0 {
	}
	v := byte(1)
	for range 7 {
		v = v<<1 | byte(b.ReadBit())
	}
	return v
}

// WriteByte writes a plain 8-bit disk byte (no extra sync bits); callers
// that need inter-byte sync gaps write 0xff sync bytes explicitly, which
// is what every standard codec's field layout already reserves space for.
func (b *CircularBitBuffer) WriteByte(v byte) {
	for i := 7; i >= 0; i-- {
		b.WriteBit(int(v>>i) & 1)
	}
}

// Bytes returns the packed backing array, for re-serializing a WOZ TRKS
// chunk after a write.
func (b *CircularBitBuffer) Bytes() []byte { return b.bits }

// LocatedSector is one address-field match found by Scan.
type LocatedSector struct {
	Track, Sector int
	AddrBitOffset int // start of the address prolog
	DataBitOffset int // start of the data prolog, once located
}

// Scan walks the whole circular buffer once looking for every address
// field whose prolog matches codec, decoding volume/track/sector and the
// address checksum per spec.md "sectors are discovered by latch-sequence
// scan". It does not decode data fields; callers locate the matching data
// field separately via ReadSectorAt, since address and data fields for the
// same sector are not always contiguous on damaged media.
func Scan(buf *CircularBitBuffer, codec *CodecDescriptor) []LocatedSector {
	if buf.Len() == 0 {
		return nil
	}
	start := buf.Tell()
	var found []LocatedSector
	seen := make(map[int]bool)
	limit := buf.Len() * 2 // at most one full physical revolution, with slack
	for i := 0; i < limit; i++ {
		pos := buf.Tell()
		if seen[pos] {
			break
		}
		if matchProlog(buf, codec.AddressProlog) {
			addrStart := pos
			field := make([]byte, 8)
			for j := range field {
				field[j] = buf.ReadByte()
			}
			_, track, sector, ok := DecodeAddressField(field, codec.AddrChecksumSeed)
			if !codec.DoTestAddrChecksum || ok {
				found = append(found, LocatedSector{Track: int(track), Sector: int(sector), AddrBitOffset: addrStart})
			}
			seen[addrStart] = true
		} else {
			buf.ReadBit()
		}
		if buf.Tell() == start && i > 0 {
			break
		}
	}
	return found
}

// matchProlog tries to match a 3-byte prolog starting at the current
// position, consuming it on success; on failure the cursor ends one bit
// past where the attempt started.
func matchProlog(buf *CircularBitBuffer, prolog [3]byte) bool {
	save := buf.Tell()
	for _, want := range prolog {
		got := buf.ReadByte()
		if got != want {
			buf.Seek(save + 1)
			return false
		}
	}
	return true
}

// ReadDataField reads and decodes one sector's data field immediately
// following an address field located by Scan, returning ErrBadChecksum or
// ErrDataPrologMissing mapped onto spec.md's "Unreadable sectors return a
// defined error, never zeros".
func ReadDataField(buf *CircularBitBuffer, codec *CodecDescriptor, addrBitOffset int) ([]byte, error) {
	buf.Seek(addrBitOffset)
	for range (8 + 32) * 8 { // one bit per attempt: address field (8 bytes) plus generous sync gap
		if matchProlog(buf, codec.DataProlog) {
			size := codec.EncodedSectorSize()
			field := make([]byte, size+1)
			for i := range field {
				field[i] = buf.ReadByte()
			}
			sector, ok := DecodeDataField62(field, codec.DataChecksumSeed)
			if codec.DoTestDataChecksum && !ok {
				return nil, ErrBadChecksum
			}
			return sector, nil
		}
	}
	return nil, ErrDataPrologMissing
}

// WriteDataField re-encodes one sector in place, starting at the data
// prolog found right after addrBitOffset's address field, preserving every
// bit before and after it.
func WriteDataField(buf *CircularBitBuffer, codec *CodecDescriptor, addrBitOffset int, sector []byte) error {
	buf.Seek(addrBitOffset)
	for range (8 + 32) * 8 {
		if matchProlog(buf, codec.DataProlog) {
			field := EncodeDataField62(sector, codec.DataChecksumSeed)
			for _, b := range field {
				buf.WriteByte(b)
			}
			for _, b := range codec.DataEpilog[:codec.DataEpilogReadCount] {
				buf.WriteByte(b)
			}
			return nil
		}
	}
	return ErrDataPrologMissing
}

var (
	ErrBadChecksum       = errors.New("nibble: sector checksum mismatch")
	ErrDataPrologMissing = errors.New("nibble: data field prolog not found")
)

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package chunk

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"
	"github.com/go-vdisk/vdisk"
	"github.com/go-vdisk/vdisk/internal/nibble"
)

// NibbleBacked is a ChunkProvider over GCR nibble tracks (spec.md section
// 4.1 "For nibble-backed chunks, reads decode the selected track on demand
// and cache located sectors; a write re-encodes only the affected sector").
//
// Decoding a whole track to find one sector is the expensive part, so
// every successfully decoded sector is kept in a small LRU-with-frequency
// cache (tinylfu, a teacher dependency otherwise unused by its read-only
// code paths) keyed by an xxhash of (track, sector, generation); the
// generation counter is bumped on every write so a write can never leave a
// stale cached copy of a sector it just re-encoded.
type NibbleBacked struct {
	tracks     []*nibble.CircularBitBuffer
	codec      *nibble.CodecDescriptor
	writable   bool
	level      vdisk.AccessLevel
	generation uint32
	unreadable int
	cache      *tinylfu.T[cacheKey, []byte]
	dirty      map[int]bool
}

type cacheKey struct {
	track, sector int
	generation    uint32
}

func cacheKeyHash(k cacheKey) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(k.track))
	binary.LittleEndian.PutUint32(buf[4:], uint32(k.sector))
	binary.LittleEndian.PutUint32(buf[8:], k.generation)
	return xxhash.Sum64(buf[:])
}

// NewNibbleBacked wraps one CircularBitBuffer per track (already decoded
// from a WOZ TRKS chunk, or synthesized fresh on Format) under codec.
func NewNibbleBacked(tracks []*nibble.CircularBitBuffer, codec *nibble.CodecDescriptor, writable bool) *NibbleBacked {
	return &NibbleBacked{
		tracks:   tracks,
		codec:    codec,
		writable: writable,
		cache:    tinylfu.New[cacheKey, []byte](1024, 1024*10, cacheKeyHash),
		dirty:    make(map[int]bool),
	}
}

func (n *NibbleBacked) Order() vdisk.Order          { return vdisk.OrderPhysical }
func (n *NibbleBacked) Writable() bool              { return n.writable }
func (n *NibbleBacked) NumTracks() int              { return len(n.tracks) }
func (n *NibbleBacked) NumSectorsPerTrack() int     { return 16 }
func (n *NibbleBacked) NumBlocks() int              { return 0 }
func (n *NibbleBacked) CountUnreadableChunks() int  { return n.unreadable }
func (n *NibbleBacked) AccessLevel() vdisk.AccessLevel     { return n.level }
func (n *NibbleBacked) SetAccessLevel(l vdisk.AccessLevel) { n.level = l }

func (n *NibbleBacked) ReadBlock(block int, buf []byte) error {
	return vdisk.NewError(vdisk.ArgumentInvalid, "chunk: nibble media does not support block addressing")
}
func (n *NibbleBacked) WriteBlock(block int, buf []byte) error {
	return vdisk.NewError(vdisk.ArgumentInvalid, "chunk: nibble media does not support block addressing")
}

func (n *NibbleBacked) ReadSector(track, sector int, buf []byte) error {
	if track < 0 || track >= len(n.tracks) {
		return vdisk.NewError(vdisk.ArgumentInvalid, "track %d out of range", track)
	}
	key := cacheKey{track, sector, n.generation}
	if cached, ok := n.cache.Get(key); ok {
		copy(buf, cached)
		return nil
	}

	tb := n.tracks[track]
	located := nibble.Scan(tb, n.codec)
	for _, ls := range located {
		if ls.Sector != sector {
			continue
		}
		data, err := nibble.ReadDataField(tb, n.codec, ls.AddrBitOffset)
		if err != nil {
			n.unreadable++
			return vdisk.Wrap(vdisk.IoFailure, err, "nibble sector (%d,%d) unreadable", track, sector)
		}
		n.cache.Add(key, data)
		copy(buf, data)
		return nil
	}
	n.unreadable++
	return vdisk.NewError(vdisk.IoFailure, "nibble sector (%d,%d) not found on track", track, sector)
}

func (n *NibbleBacked) WriteSector(track, sector int, buf []byte) error {
	if n.level != vdisk.Open {
		return vdisk.NewError(vdisk.IoFailure, "chunk: write attempted while access level is %v", n.level)
	}
	if !n.writable {
		return vdisk.NewError(vdisk.IoFailure, "chunk: underlying media is read-only")
	}
	if track < 0 || track >= len(n.tracks) {
		return vdisk.NewError(vdisk.ArgumentInvalid, "track %d out of range", track)
	}
	tb := n.tracks[track]
	located := nibble.Scan(tb, n.codec)
	for _, ls := range located {
		if ls.Sector != sector {
			continue
		}
		if err := nibble.WriteDataField(tb, n.codec, ls.AddrBitOffset, buf[:SectorSize]); err != nil {
			return vdisk.Wrap(vdisk.IoFailure, err, "nibble sector (%d,%d) unwritable", track, sector)
		}
		n.generation++ // invalidate every cached sector, not just this one: bit
		               // positions downstream on the track may have shifted
		n.dirty[track] = true
		return nil
	}
	return vdisk.NewError(vdisk.IoFailure, "nibble sector (%d,%d) not found on track", track, sector)
}

func (n *NibbleBacked) TestSector(track, sector int) (readable, writable bool) {
	buf := make([]byte, SectorSize)
	err := n.ReadSector(track, sector, buf)
	readable = err == nil
	writable = readable && n.writable && n.level == vdisk.Open
	return
}

// Flush clears the set of dirty tracks that DirtyTracks reports. It does
// not write any track back into the WOZ container (internal/container).
func (n *NibbleBacked) Flush() error {
	n.dirty = make(map[int]bool)
	return nil
}

// DirtyTracks reports which track indices have unflushed writes.
func (n *NibbleBacked) DirtyTracks() []int {
	out := make([]int, 0, len(n.dirty))
	for t := range n.dirty {
		out = append(out, t)
	}
	return out
}

// Track exposes one raw track buffer, used by the WOZ container writer to
// read back bits for serialization.
func (n *NibbleBacked) Track(i int) *nibble.CircularBitBuffer { return n.tracks[i] }

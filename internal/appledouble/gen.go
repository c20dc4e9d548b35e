// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package appledouble

import (
	"encoding/binary"
	"math"
	"time"
)

// FinderMeta holds everything the AppleSingle/AppleDouble engine round-trips
// through FINDER_INFO, FILE_DATES_INFO, and MACINTOSH_FILE_INFO entries for
// the single record a container ever carries, per spec.md section 4.4.
// Excludes the Finder info fields that become meaningless when moving to a
// different disk (Fldr IconID Reserved Comment PutAway OpenChain Script).
type FinderMeta struct {
	// Basic filesystem metadata
	CreateTime, ModTime, BkTime, AccTime time.Time
	Locked                               bool

	// File-and-directory FinderInfo
	Flags    uint16
	Location struct{ Y, X int16 }
	XFlags   uint16 // ignore the rarely used "filename display script" function

	// File-only FinderInfo
	Type    [4]byte
	Creator [4]byte

	// Directory-only FinderInfo
	Rect   struct{ T, L, B, R int16 }
	View   int16 // 0 is not a valid value, use 256 (icon view)
	Scroll struct{ Y, X int16 }
}

const (
	FlagIsOnDesk            = 0x0001 // Files and folders (System 6)
	MaskColor               = 0x000E // Files and folders
	FlagRequireSwitchLaunch = 0x0020 // Applications only
	FlagIsShared            = 0x0040 // Applications only
	FlagHasNoINITs          = 0x0080 // Extensions/Control Panels only
	FlagHasBeenInited       = 0x0100 // Files only (all BNDL/FREF/open/kind have been added)
	FlagAOCELetter          = 0x0200 // obsoleted
	FlagHasCustomIcon       = 0x0400 // Files and folders
	FlagIsStationery        = 0x0800 // Files only
	FlagNameLocked          = 0x1000 // Files and folders
	FlagHasBundle           = 0x2000 // Files only
	FlagIsInvisible         = 0x4000 // Files and folders
	FlagIsAlias             = 0x8000 // Files only
	XFlagHasCustomBadge     = 0x0100
	XFlagHasRoutingInfo     = 0x0004
)

// LoadFInfo populates file-only FinderInfo fields (type, creator, flags,
// window location) from a raw 16-byte FInfo record.
func (m *FinderMeta) LoadFInfo(d *[16]byte) {
	copy(m.Type[:], d[:])
	copy(m.Creator[:], d[4:])
	m.Flags = binary.BigEndian.Uint16(d[8:])
	m.Location.Y = int16(binary.BigEndian.Uint16(d[10:]))
	m.Location.X = int16(binary.BigEndian.Uint16(d[12:]))
}

// LoadFXInfo populates the file-only FXInfo extension fields.
func (m *FinderMeta) LoadFXInfo(d *[16]byte) {
	m.XFlags = binary.BigEndian.Uint16(d[8:])
	if m.XFlags&0x8000 != 0 {
		m.XFlags = 0 // the disagreeable rarely-used "filename script" field
	}
}

// LoadDInfo populates directory-only DInfo fields (window rect, flags,
// location, default view).
func (m *FinderMeta) LoadDInfo(d *[16]byte) {
	m.Rect.T = int16(binary.BigEndian.Uint16(d[:]))
	m.Rect.L = int16(binary.BigEndian.Uint16(d[2:]))
	m.Rect.B = int16(binary.BigEndian.Uint16(d[4:]))
	m.Rect.R = int16(binary.BigEndian.Uint16(d[6:]))
	m.Flags = binary.BigEndian.Uint16(d[8:])
	m.Location.Y = int16(binary.BigEndian.Uint16(d[10:]))
	m.Location.X = int16(binary.BigEndian.Uint16(d[12:]))
	m.View = int16(binary.BigEndian.Uint16(d[14:]))
}

// LoadDXInfo populates the directory-only DXInfo extension fields.
func (m *FinderMeta) LoadDXInfo(d *[16]byte) {
	m.Scroll.Y = int16(binary.BigEndian.Uint16(d[:]))
	m.Scroll.X = int16(binary.BigEndian.Uint16(d[2:]))
	m.XFlags = binary.BigEndian.Uint16(d[8:])
	if m.XFlags&0x8000 != 0 {
		m.XFlags = 0 // the disagreeable rarely-used "filename script" field
	}
}

// dirInfoRec is LoadDInfo/LoadDXInfo's inverse. serialize does not call it:
// it always writes the file layout (fileInfoRec).
func (m *FinderMeta) dirInfoRec() [32]byte {
	var d [32]byte
	binary.BigEndian.PutUint16(d[:], uint16(m.Rect.T))
	binary.BigEndian.PutUint16(d[2:], uint16(m.Rect.L))
	binary.BigEndian.PutUint16(d[4:], uint16(m.Rect.B))
	binary.BigEndian.PutUint16(d[6:], uint16(m.Rect.R))
	binary.BigEndian.PutUint16(d[8:], m.Flags)
	binary.BigEndian.PutUint16(d[10:], uint16(m.Location.Y))
	binary.BigEndian.PutUint16(d[12:], uint16(m.Location.X))
	binary.BigEndian.PutUint16(d[14:], uint16(m.View))
	binary.BigEndian.PutUint16(d[16:], uint16(m.Scroll.Y))
	binary.BigEndian.PutUint16(d[16+2:], uint16(m.Scroll.X))
	binary.BigEndian.PutUint16(d[16+8:], m.XFlags)
	return d
}

// fileInfoRec is LoadFInfo/LoadFXInfo's inverse.
func (m *FinderMeta) fileInfoRec() [32]byte {
	var d [32]byte
	copy(d[:], m.Type[:])
	copy(d[4:], m.Creator[:])
	binary.BigEndian.PutUint16(d[8:], m.Flags)
	binary.BigEndian.PutUint16(d[10:], uint16(m.Location.Y))
	binary.BigEndian.PutUint16(d[12:], uint16(m.Location.X))
	binary.BigEndian.PutUint16(d[16+8:], m.XFlags)
	return d
}

// datesRec is StoreDates's inverse: CreateTime/ModTime/BkTime/AccTime in
// that fixed field order, clamped to the 32-bit signed range
// FILE_DATES_INFO stores offsets from appleDoubleEpoch in.
func (m *FinderMeta) datesRec() [16]byte {
	var d [16]byte
	for i, t := range []time.Time{m.CreateTime, m.ModTime, m.BkTime, m.AccTime} {
		stamp := int64(t.Sub(appleDoubleEpoch) / time.Second)
		stamp = min(math.MaxInt32, stamp)
		stamp = max(math.MinInt32, stamp)
		binary.BigEndian.PutUint32(d[4*i:], uint32(stamp))
	}
	return d
}

// flagsRec is StoreMacFileInfo's inverse: only the locked bit round-trips.
func (m *FinderMeta) flagsRec() [4]byte {
	if m.Locked {
		return [4]byte{0x80, 0, 0, 0}
	}
	return [4]byte{0x0, 0, 0, 0}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package appledouble

import (
	"testing"
	"time"
)

func TestFileInfoRoundTrip(t *testing.T) {
	var m FinderMeta
	m.Type = [4]byte{'T', 'E', 'X', 'T'}
	m.Creator = [4]byte{'p', 'd', 'o', 's'}
	m.Flags = FlagHasBeenInited | FlagIsInvisible
	m.Location.Y, m.Location.X = 10, -20

	rec := m.fileInfoRec()
	var got FinderMeta
	got.StoreFInfo(false, rec[:16])

	if got.Type != m.Type || got.Creator != m.Creator {
		t.Fatalf("type/creator mismatch: got %+v want %+v", got, m)
	}
	if got.Flags != m.Flags {
		t.Fatalf("flags mismatch: got %#x want %#x", got.Flags, m.Flags)
	}
	if got.Location != m.Location {
		t.Fatalf("location mismatch: got %+v want %+v", got.Location, m.Location)
	}
}

func TestDatesRoundTrip(t *testing.T) {
	ref := time.Date(1999, 12, 31, 23, 59, 0, 0, time.UTC)
	m := FinderMeta{CreateTime: ref, ModTime: ref.Add(time.Hour), BkTime: ref, AccTime: ref}

	rec := m.datesRec()
	var got FinderMeta
	got.StoreDates(rec[:])

	if !got.CreateTime.Equal(m.CreateTime) {
		t.Fatalf("create time mismatch: got %v want %v", got.CreateTime, m.CreateTime)
	}
	if !got.ModTime.Equal(m.ModTime) {
		t.Fatalf("mod time mismatch: got %v want %v", got.ModTime, m.ModTime)
	}
}

func TestMacFileInfoRoundTrip(t *testing.T) {
	locked := FinderMeta{Locked: true}
	rec := locked.flagsRec()
	var got FinderMeta
	got.StoreMacFileInfo(rec[:])
	if !got.Locked {
		t.Fatal("locked bit did not round-trip")
	}

	unlocked := FinderMeta{Locked: false}
	rec2 := unlocked.flagsRec()
	var got2 FinderMeta
	got2.Locked = true
	got2.StoreMacFileInfo(rec2[:])
	if got2.Locked {
		t.Fatal("unlocked record came back locked")
	}
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package grinder is the stress harness (spec.md component C10): it drives
// the universal invariants of spec.md section 8 ("Testable properties")
// against any filesystem or archive engine, so each engine package's own
// tests can call grinder.RunFilesystem/RunArchive instead of reimplementing
// the same checks five or six times over. It has no teacher analogue -- the
// teacher's fskeleton/probe.go stack is read-only and has no mutation to
// stress.
package grinder

import (
	"io"
	"testing"

	"github.com/go-vdisk/vdisk"
)

// Options parameterizes a grinder run with the sample data an individual
// engine's charset and capacity can actually accept; grinder has no
// per-engine knowledge of valid names or sizes.
type Options struct {
	// New builds a fresh, unformatted FileSystem over a fresh chunk
	// provider. Called once per scenario so scenarios never interfere.
	New func() vdisk.FileSystem

	// VolumeName is passed to FileSystem.Format.
	VolumeName string
	// Names are candidate filenames, chosen by the caller to satisfy the
	// engine under test's naming rules (ValidateName equivalents).
	Names []string
	// DataSizes are payload lengths exercised by the round-trip and sparse
	// scenarios, smallest first.
	DataSizes []int
	// HoleOffset/HoleLength bound the sparse region used by the sparse-law
	// and seek-hole/seek-data scenarios; both are ignored for engines whose
	// Capability.SupportsSparse is false.
	HoleOffset int64
	HoleLength int64
}

func (o Options) name(i int) string {
	if len(o.Names) == 0 {
		return "F"
	}
	return o.Names[i%len(o.Names)]
}

func (o Options) dataSize(i int) int {
	if len(o.DataSizes) == 0 {
		return 256
	}
	return o.DataSizes[i%len(o.DataSizes)]
}

func fillBytes(seed byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = seed + byte(i)
	}
	return buf
}

// RunFilesystem drives every universal filesystem invariant from spec.md
// section 8 against the engine opts.New constructs, as independent
// subtests so a single scenario's failure doesn't hide the others.
func RunFilesystem(t *testing.T, opts Options) {
	t.Helper()
	t.Run("RoundTrip", func(t *testing.T) { grindRoundTrip(t, opts) })
	t.Run("NameIdempotence", func(t *testing.T) { grindNameIdempotence(t, opts) })
	t.Run("HandleExclusion", func(t *testing.T) { grindHandleExclusion(t, opts) })
	t.Run("ModeGate", func(t *testing.T) { grindModeGate(t, opts) })
	t.Run("AllocationConservation", func(t *testing.T) { grindAllocationConservation(t, opts) })
	if opts.New().Capability().SupportsSparse {
		t.Run("SparseLaw", func(t *testing.T) { grindSparseLaw(t, opts) })
		t.Run("SeekHoleData", func(t *testing.T) { grindSeekHoleData(t, opts) })
	}
}

// grindRoundTrip implements spec.md section 8's "format -> create files ->
// close -> reopen -> deep-scan produces zero errors and the expected file
// list". "Reopen" is simulated by calling PrepareFileAccess again on the
// same engine instance, which forces every engine to rebuild its live
// catalog from the chunk provider's bytes rather than trust in-memory state.
func grindRoundTrip(t *testing.T, opts Options) {
	t.Helper()
	fs := opts.New()
	if err := fs.Format(opts.VolumeName, 1, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	vol := fs.VolumeDir()

	want := map[string][]byte{}
	for i, name := range opts.Names {
		entry, err := fs.CreateFile(vol, name, vdisk.KindFile)
		if err != nil {
			t.Fatalf("CreateFile(%q): %v", name, err)
		}
		data := fillBytes(byte(i+1), opts.dataSize(i))
		h, err := fs.OpenFile(entry, vdisk.OpenReadWrite, vdisk.ForkData)
		if err != nil {
			t.Fatalf("OpenFile(%q): %v", name, err)
		}
		if _, err := h.Write(data); err != nil {
			t.Fatalf("Write(%q): %v", name, err)
		}
		if err := h.Flush(); err != nil {
			t.Fatalf("Flush(%q): %v", name, err)
		}
		if err := h.Close(); err != nil {
			t.Fatalf("Close(%q): %v", name, err)
		}
		want[name] = data
	}

	if err := fs.PrepareFileAccess(true); err != nil {
		t.Fatalf("PrepareFileAccess after round trip: %v", err)
	}
	if n := fs.Notes().CountAtLeast(vdisk.Warning); n != 0 {
		for _, note := range fs.Notes().All() {
			t.Logf("note: %s", note)
		}
		t.Fatalf("expected zero warnings/errors after a clean round trip, got %d", n)
	}

	vol = fs.VolumeDir()
	for name, data := range want {
		entry, err := fs.FindFileEntry(vol, name)
		if err != nil {
			t.Fatalf("FindFileEntry(%q) after reopen: %v", name, err)
		}
		h, err := fs.OpenFile(entry, vdisk.OpenReadOnly, vdisk.ForkData)
		if err != nil {
			t.Fatalf("OpenFile(%q) read-only: %v", name, err)
		}
		got := make([]byte, len(data))
		if _, err := io.ReadFull(h, got); err != nil {
			t.Fatalf("reading %q back: %v", name, err)
		}
		for i := range got {
			if got[i] != data[i] {
				t.Fatalf("%q: byte %d mismatch: got %#x want %#x", name, i, got[i], data[i])
			}
		}
		h.Close()
	}
}

// grindNameIdempotence checks spec.md section 8's "raw_to_cooked(cooked_to_raw(n)) = n"
// by round-tripping every candidate name through SetFileName/FileName and
// confirming a lookup by the cooked form finds the same entry.
func grindNameIdempotence(t *testing.T, opts Options) {
	t.Helper()
	fs := opts.New()
	if err := fs.Format(opts.VolumeName, 1, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	vol := fs.VolumeDir()
	for _, name := range opts.Names {
		entry, err := fs.CreateFile(vol, name, vdisk.KindFile)
		if err != nil {
			t.Fatalf("CreateFile(%q): %v", name, err)
		}
		if got := entry.FileName(); got != name {
			t.Fatalf("cooked name round-trip: created %q, entry reports %q", name, got)
		}
		found, err := fs.FindFileEntry(vol, entry.FileName())
		if err != nil {
			t.Fatalf("FindFileEntry(%q): %v", name, err)
		}
		if found.FileName() != name {
			t.Fatalf("lookup by cooked name %q returned %q", name, found.FileName())
		}
	}
}

// grindHandleExclusion implements spec.md section 8's "while a fork is
// open read-write, every other open attempt on the same fork fails;
// read-only opens stack".
func grindHandleExclusion(t *testing.T, opts Options) {
	t.Helper()
	fs := opts.New()
	if err := fs.Format(opts.VolumeName, 1, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	vol := fs.VolumeDir()
	entry, err := fs.CreateFile(vol, opts.name(0), vdisk.KindFile)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	rw, err := fs.OpenFile(entry, vdisk.OpenReadWrite, vdisk.ForkData)
	if err != nil {
		t.Fatalf("first read-write open: %v", err)
	}
	if _, err := fs.OpenFile(entry, vdisk.OpenReadWrite, vdisk.ForkData); err == nil {
		t.Fatal("expected a second read-write open on the same fork to fail")
	}
	if _, err := fs.OpenFile(entry, vdisk.OpenReadOnly, vdisk.ForkData); err == nil {
		t.Fatal("expected a read-only open to fail while a read-writer holds the fork")
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("closing the read-writer: %v", err)
	}

	ro1, err := fs.OpenFile(entry, vdisk.OpenReadOnly, vdisk.ForkData)
	if err != nil {
		t.Fatalf("first read-only open: %v", err)
	}
	ro2, err := fs.OpenFile(entry, vdisk.OpenReadOnly, vdisk.ForkData)
	if err != nil {
		t.Fatalf("expected read-only opens to stack, second open failed: %v", err)
	}
	if _, err := fs.OpenFile(entry, vdisk.OpenReadWrite, vdisk.ForkData); err == nil {
		t.Fatal("expected a read-write open to fail while read-only openers hold the fork")
	}
	ro1.Close()
	ro2.Close()
}

// grindModeGate implements spec.md section 8's "prepare_raw_access() fails
// while any file handle is open".
func grindModeGate(t *testing.T, opts Options) {
	t.Helper()
	fs := opts.New()
	if err := fs.Format(opts.VolumeName, 1, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	vol := fs.VolumeDir()
	entry, err := fs.CreateFile(vol, opts.name(0), vdisk.KindFile)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	h, err := fs.OpenFile(entry, vdisk.OpenReadWrite, vdisk.ForkData)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := fs.PrepareRawAccess(); err == nil {
		t.Fatal("expected PrepareRawAccess to fail while a handle is open")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := fs.PrepareRawAccess(); err != nil {
		t.Fatalf("PrepareRawAccess after every handle closed: %v", err)
	}
}

// grindAllocationConservation implements spec.md section 8's "after
// creating and deleting a file, free_space returns to its original value".
func grindAllocationConservation(t *testing.T, opts Options) {
	t.Helper()
	fs := opts.New()
	if err := fs.Format(opts.VolumeName, 1, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	before := fs.FreeSpace()

	vol := fs.VolumeDir()
	entry, err := fs.CreateFile(vol, opts.name(0), vdisk.KindFile)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	h, err := fs.OpenFile(entry, vdisk.OpenReadWrite, vdisk.ForkData)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := h.Write(fillBytes(1, opts.dataSize(0))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := fs.DeleteFile(entry); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	after := fs.FreeSpace()
	if after != before {
		t.Fatalf("free space not conserved: before=%d after=%d", before, after)
	}
}

// grindSparseLaw implements spec.md section 8's sparse law: a zero-fill
// into a hole leaves storage_size unchanged after flush, and a non-zero
// write into a hole strictly increases it. It does not assert the exact
// minimum allocation, which is engine-specific.
func grindSparseLaw(t *testing.T, opts Options) {
	t.Helper()
	fs := opts.New()
	if err := fs.Format(opts.VolumeName, 1, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	vol := fs.VolumeDir()
	entry, err := fs.CreateFile(vol, opts.name(0), vdisk.KindFile)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	baseline := entry.StorageSize()

	h, err := fs.OpenFile(entry, vdisk.OpenReadWrite, vdisk.ForkData)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	zero := make([]byte, opts.HoleLength)
	if _, err := h.WriteAt(zero, opts.HoleOffset); err != nil {
		t.Fatalf("WriteAt zero-fill: %v", err)
	}
	if err := h.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	afterZero, err := fs.FindFileEntry(vol, opts.name(0))
	if err != nil {
		t.Fatalf("FindFileEntry: %v", err)
	}
	if afterZero.StorageSize() != baseline {
		t.Fatalf("sparse law violated: zero-fill grew storage_size from %d to %d", baseline, afterZero.StorageSize())
	}

	nonzero := fillBytes(1, int(opts.HoleLength))
	if _, err := h.WriteAt(nonzero, opts.HoleOffset); err != nil {
		t.Fatalf("WriteAt non-zero: %v", err)
	}
	if err := h.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	afterNonzero, err := fs.FindFileEntry(vol, opts.name(0))
	if err != nil {
		t.Fatalf("FindFileEntry: %v", err)
	}
	if afterNonzero.StorageSize() <= afterZero.StorageSize() {
		t.Fatalf("sparse law violated: writing a non-zero byte into a hole did not allocate (before=%d after=%d)",
			afterZero.StorageSize(), afterNonzero.StorageSize())
	}
}

// grindSeekHoleData implements spec.md section 8's "from any offset o,
// seek(o,HOLE) >= o, seek(o,DATA) >= o; alternating calls converge to EOF".
func grindSeekHoleData(t *testing.T, opts Options) {
	t.Helper()
	fs := opts.New()
	if err := fs.Format(opts.VolumeName, 1, false); err != nil {
		t.Fatalf("Format: %v", err)
	}
	vol := fs.VolumeDir()
	entry, err := fs.CreateFile(vol, opts.name(0), vdisk.KindFile)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	h, err := fs.OpenFile(entry, vdisk.OpenReadWrite, vdisk.ForkData)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer h.Close()

	data := fillBytes(1, int(opts.HoleLength))
	if _, err := h.WriteAt(data, opts.HoleOffset+opts.HoleLength); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := h.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	off := int64(0)
	origin := vdisk.SeekOriginHole
	for i := 0; i < 64; i++ {
		next, err := h.SeekSparse(off, origin)
		if err != nil {
			t.Fatalf("SeekSparse(%d, %v): %v", off, origin, err)
		}
		if next < off {
			t.Fatalf("SeekSparse(%d, %v) = %d, want >= %d", off, origin, next, off)
		}
		if next == off {
			// Already at the requested state; alternate to make progress.
		}
		off = next
		if origin == vdisk.SeekOriginHole {
			origin = vdisk.SeekOriginData
		} else {
			origin = vdisk.SeekOriginHole
		}
		if off >= opts.HoleOffset+2*opts.HoleLength {
			return
		}
	}
	t.Fatal("seek-hole/seek-data did not converge toward EOF within 64 alternating calls")
}

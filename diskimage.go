// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package vdisk

import "github.com/go-vdisk/vdisk/internal/rawio"

// ContainerKind names the container format a DiskImage was recognized as,
// per spec.md section 6 "Container file formats".
type ContainerKind int

const (
	ContainerUnknown ContainerKind = iota
	ContainerUnadorned
	ContainerWOZ1
	ContainerWOZ2
	Container2MG
	ContainerDiskCopy42
	ContainerTrackstar
)

func (k ContainerKind) String() string {
	switch k {
	case ContainerUnadorned:
		return "Unadorned"
	case ContainerWOZ1:
		return "WOZ1"
	case ContainerWOZ2:
		return "WOZ2"
	case Container2MG:
		return "2MG"
	case ContainerDiskCopy42:
		return "DiskCopy4.2"
	case ContainerTrackstar:
		return "Trackstar"
	default:
		return "Unknown"
	}
}

// contentsKind tags what DiskImage.contents currently holds.
type contentsKind int

const (
	contentsEmpty contentsKind = iota
	contentsFileSystem
	contentsMultiPart
)

// DiskImage wraps a byte stream plus a container kind tag and whatever
// metadata the container carries (WOZ TMAP/INFO/META, 2MG header), per
// spec.md section 3 "Disk image". At most one contents binding is held at
// a time; once a filesystem inside is opened in file-access mode, mode
// transitions on the DiskImage itself are forbidden until it's closed.
type DiskImage struct {
	Notes

	stream rawio.Stream
	kind   ContainerKind
	meta   map[string]string

	chunks ChunkProvider

	contentsKind contentsKind
	fs           FileSystem
	multi        IMultiPart
}

// NewDiskImage wraps an already-classified stream and chunk provider. The
// analyzer (internal/analyzer) is the normal caller of this constructor;
// most applications should call vdisk.Open instead.
func NewDiskImage(stream rawio.Stream, kind ContainerKind, meta map[string]string, chunks ChunkProvider) *DiskImage {
	return &DiskImage{stream: stream, kind: kind, meta: meta, chunks: chunks}
}

func (d *DiskImage) Kind() ContainerKind       { return d.kind }
func (d *DiskImage) Meta(key string) string    { return d.meta[key] }
func (d *DiskImage) Chunks() ChunkProvider     { return d.chunks }
func (d *DiskImage) Stream() rawio.Stream      { return d.stream }

// SetChunks binds the chunk provider after the fact, for containers whose
// sector order the analyzer resolves only after probing candidate
// filesystems (spec.md section 4.5 "disk.analyze_disk... probes all four
// sector orders"), rather than at PrepareDiskImage time.
func (d *DiskImage) SetChunks(chunks ChunkProvider) { d.chunks = chunks }

// BindFileSystem attaches a filesystem as this image's contents. It fails
// with IoFailure if contents are already bound.
func (d *DiskImage) BindFileSystem(fs FileSystem) error {
	if d.contentsKind != contentsEmpty {
		return NewError(IoFailure, "disk image already has contents bound")
	}
	d.fs = fs
	d.contentsKind = contentsFileSystem
	return nil
}

// BindMultiPart attaches a multi-partition wrapper as this image's contents.
func (d *DiskImage) BindMultiPart(mp IMultiPart) error {
	if d.contentsKind != contentsEmpty {
		return NewError(IoFailure, "disk image already has contents bound")
	}
	d.multi = mp
	d.contentsKind = contentsMultiPart
	return nil
}

// FileSystem returns the bound filesystem, or nil if contents are empty or
// a multi-partition wrapper instead.
func (d *DiskImage) FileSystem() FileSystem {
	if d.contentsKind == contentsFileSystem {
		return d.fs
	}
	return nil
}

// MultiPart returns the bound multi-partition wrapper, or nil otherwise.
func (d *DiskImage) MultiPart() IMultiPart {
	if d.contentsKind == contentsMultiPart {
		return d.multi
	}
	return nil
}

// Unbind clears contents, e.g. before re-running the analyzer with a
// different order hint.
func (d *DiskImage) Unbind() {
	d.fs = nil
	d.multi = nil
	d.contentsKind = contentsEmpty
}

// Close releases the underlying stream.
func (d *DiskImage) Close() error {
	return d.stream.Close()
}

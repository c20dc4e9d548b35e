// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package rawio provides the seekable-byte-buffer abstraction (spec.md
// component C1) that every container, chunk provider, and archive engine
// in this module reads and writes through.
package rawio

import "io"

// Stream is a resizable, seekable byte buffer over either memory or a file.
type Stream interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Size() int64
	Truncate(size int64) error
}

// ReadOnlyStream is satisfied by a Stream opened without write access;
// WriteAt/Truncate return a permission error on such a stream.
type ReadOnlyStream interface {
	Stream
	ReadOnly() bool
}

// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package vdisk

import (
	"io"

	"github.com/google/renameio/v2"
)

// CommitToFile gives CommitTransaction/Format-style callers atomic
// replace-on-success semantics when the destination is a real file: write
// is staged into a temp file in the same directory and only renamed over
// path once write returns without error, per SPEC_FULL.md's "commit
// truncates/replaces the output stream" and the §8 commit-atomicity
// property. Grounded on the teacher corpus's own temp-file-plus-rename
// idiom (distr1-distri's internal/install.go: renameio.TempFile then
// CloseAtomicallyReplace).
//
// write receives a WriteSeeker positioned at offset 0 of an empty file;
// on error the temp file is discarded and path is left untouched.
func CommitToFile(path string, write func(WriteSeeker) error) (err error) {
	f, err := renameio.TempFile("", path)
	if err != nil {
		return Wrap(IoFailure, err, "vdisk: create temp file for atomic commit to %s", path)
	}
	defer func() {
		if err != nil {
			f.Cleanup()
		}
	}()

	if werr := write(&tempFileSeeker{f}); werr != nil {
		return werr
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return Wrap(IoFailure, err, "vdisk: atomic replace of %s", path)
	}
	return nil
}

// tempFileSeeker adapts renameio's *PendingFile (an io.Writer with no
// Seek/Truncate of its own) to WriteSeeker for callers that only ever
// write forward, which is every engine's CommitTransaction/Format path.
type tempFileSeeker struct {
	f *renameio.PendingFile
}

func (t *tempFileSeeker) Write(p []byte) (int, error) { return t.f.Write(p) }

func (t *tempFileSeeker) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence == io.SeekCurrent {
		return 0, nil
	}
	return 0, NewError(ArgumentInvalid, "vdisk: atomic file commit only supports sequential forward writes")
}

func (t *tempFileSeeker) Truncate(size int64) error {
	if size == 0 {
		return nil
	}
	return NewError(ArgumentInvalid, "vdisk: atomic file commit does not support truncate")
}

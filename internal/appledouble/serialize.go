// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package appledouble

import "github.com/go-vdisk/vdisk"

// serialize writes r's metadata (and, for AppleSingle, its data fork)
// using MakePrefix/MakePrefixSingle, then appends the resource fork at
// the offset those functions computed.
func serialize(a *Archive, r *Record, output vdisk.WriteSeeker) error {
	if _, err := output.Seek(0, 0); err != nil {
		return err
	}
	if r == nil {
		return vdisk.NewError(vdisk.ArgumentInvalid, "appledouble: nothing to write")
	}

	finder, dates, flags := r.meta.fileInfoRec(), r.meta.datesRec(), r.meta.flagsRec()
	recs := map[int][]byte{
		FINDER_INFO:         finder[:],
		FILE_DATES_INFO:     dates[:],
		MACINTOSH_FILE_INFO: flags[:],
	}
	if r.fileName != "" {
		recs[REAL_NAME] = []byte(r.fileName)
	}
	if r.comment != "" {
		recs[COMMENT] = []byte(r.comment)
	}

	var prefix []byte
	switch a.kind {
	case KindAppleSingle:
		// ALWAYS_DATA (spec.md section 9 open question): emit a
		// (possibly empty) DATA_FORK entry even when no data was added.
		recs[DATA_FORK] = r.dataFork
		prefix, _ = MakePrefixSingle(recs, int64(len(r.rsrcFork)), 0)
	case KindAppleDouble:
		prefix, _ = MakePrefix(recs, int64(len(r.rsrcFork)), 0)
	}

	if _, err := output.Write(prefix); err != nil {
		return err
	}
	if len(r.rsrcFork) > 0 {
		if _, err := output.Write(r.rsrcFork); err != nil {
			return err
		}
	}
	return nil
}

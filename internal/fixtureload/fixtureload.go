// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package fixtureload resolves vdisk.OptionTestDataRoot/OptionFixtureGlob
// into the decompressed bytes of one or more fixture files, for
// internal/grinder and the analyzer's own fixture-backed tests, per
// SPEC_FULL.md section 3. Path matching follows the teacher's own
// doublestar-based glob in path.go; .gz/.xz decompression follows the
// teacher's own xz.NewReader call in fs.go and probe.go, plus pgzip as
// used by the distr1-distri corpus's initrd writer for the gzip half.
package fixtureload

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/pgzip"
	"github.com/therootcompany/xz"

	"github.com/go-vdisk/vdisk"
)

// Load resolves hook's OptionTestDataRoot against pattern (or hook's own
// OptionFixtureGlob if pattern is empty), reading and transparently
// decompressing every match. Results are sorted by path for determinism.
func Load(hook vdisk.AppHook, pattern string) (map[string][]byte, error) {
	root := hook.String(vdisk.OptionTestDataRoot)
	if root == "" {
		return nil, vdisk.NewError(vdisk.ArgumentInvalid, "fixtureload: OptionTestDataRoot not set")
	}
	if pattern == "" {
		pattern = hook.String(vdisk.OptionFixtureGlob)
	}
	if pattern == "" {
		pattern = "**"
	}

	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, vdisk.Wrap(vdisk.ArgumentInvalid, err, "fixtureload: bad glob %q", pattern)
	}
	sort.Strings(matches)

	out := make(map[string][]byte, len(matches))
	for _, rel := range matches {
		full := filepath.Join(root, rel)
		info, err := os.Stat(full)
		if err != nil {
			return nil, vdisk.Wrap(vdisk.IoFailure, err, "fixtureload: stat %s", rel)
		}
		if info.IsDir() {
			continue
		}
		data, err := loadOne(full)
		if err != nil {
			return nil, err
		}
		out[rel] = data
	}
	return out, nil
}

func loadOne(full string) ([]byte, error) {
	f, err := os.Open(full)
	if err != nil {
		return nil, vdisk.Wrap(vdisk.IoFailure, err, "fixtureload: open %s", full)
	}
	defer f.Close()

	switch filepath.Ext(full) {
	case ".gz":
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, vdisk.Wrap(vdisk.FormatError, err, "fixtureload: gzip header %s", full)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case ".xz":
		zr, err := xz.NewReader(f, xz.DefaultDictMax)
		if err != nil {
			return nil, vdisk.Wrap(vdisk.FormatError, err, "fixtureload: xz header %s", full)
		}
		return io.ReadAll(zr)
	default:
		return io.ReadAll(f)
	}
}

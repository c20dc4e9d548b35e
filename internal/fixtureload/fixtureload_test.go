// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package fixtureload

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"

	"github.com/go-vdisk/vdisk"
)

func TestLoadDecompressesGzipAndPassesThroughPlainFiles(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "plain.po"), []byte("plain bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	gzPath := filepath.Join(dir, "compressed.po.gz")
	f, err := os.Create(gzPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := pgzip.NewWriter(f)
	if _, err := zw.Write([]byte("decompressed bytes")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	hook := vdisk.AppHook{vdisk.OptionTestDataRoot: dir}
	got, err := Load(hook, "*.po*")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !bytes.Equal(got["plain.po"], []byte("plain bytes")) {
		t.Fatalf("plain.po: got %q", got["plain.po"])
	}
	if !bytes.Equal(got["compressed.po.gz"], []byte("decompressed bytes")) {
		t.Fatalf("compressed.po.gz: got %q", got["compressed.po.gz"])
	}
}

func TestLoadRequiresTestDataRoot(t *testing.T) {
	if _, err := Load(vdisk.AppHook{}, "*"); err == nil {
		t.Fatal("expected an error when OptionTestDataRoot is unset")
	}
}

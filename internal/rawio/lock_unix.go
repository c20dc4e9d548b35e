// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build unix

package rawio

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var openLockFiles = map[string]*os.File{}

func platformLock(path string, mode LockMode) error {
	if mode == LockNone {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "rawio: lock open %s", path)
	}
	how := unix.LOCK_SH | unix.LOCK_NB
	if mode == LockExclusive {
		how = unix.LOCK_EX | unix.LOCK_NB
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return errors.Wrapf(err, "rawio: %s is already locked", path)
	}
	openLockFiles[path] = f
	return nil
}

func platformUnlock(path string, mode LockMode) {
	if mode == LockNone {
		return
	}
	if f, ok := openLockFiles[path]; ok {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		delete(openLockFiles, path)
	}
}

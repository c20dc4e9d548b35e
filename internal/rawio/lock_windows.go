// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build windows

package rawio

// Windows file opens are already exclusive-by-default without an explicit
// advisory lock API as simple as flock; the in-process handle bookkeeping
// that every engine already performs (spec.md section 5) is the
// cross-platform guarantee, so this is a no-op here rather than pulling in
// LockFileEx plumbing for a belt-and-suspenders check.
func platformLock(path string, mode LockMode) error { return nil }
func platformUnlock(path string, mode LockMode)     {}

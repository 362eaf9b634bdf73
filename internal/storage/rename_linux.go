//go:build linux

package storage

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// renameNoReplace atomically renames oldpath to newpath, failing with
// ErrConflict when newpath already exists.
func renameNoReplace(oldpath, newpath string) error {
	err := unix.Renameat2(unix.AT_FDCWD, oldpath, unix.AT_FDCWD, newpath, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return fmt.Errorf("%w: %s", ErrConflict, newpath)
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS), errors.Is(err, unix.ENOTSUP):
		// Filesystem without RENAME_NOREPLACE support.
		return linkAndRemove(oldpath, newpath)
	default:
		return fmt.Errorf("renaming %s: %w", oldpath, err)
	}
}

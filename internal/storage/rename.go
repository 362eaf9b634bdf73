package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// linkAndRemove emulates a no-replace rename with a hard link, which fails
// when the target exists, followed by removal of the source.
func linkAndRemove(oldpath, newpath string) error {
	if err := os.Link(oldpath, newpath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrConflict, newpath)
		}
		return fmt.Errorf("linking %s: %w", oldpath, err)
	}
	if err := os.Remove(oldpath); err != nil {
		return fmt.Errorf("removing %s after link: %w", oldpath, err)
	}
	return nil
}

//go:build linux

package agent

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenProbeFile opens path with synchronous-write semantics: every
// write is a real durability event, and reading the file back does
// not perturb the atime. O_NOATIME needs file ownership, so it is
// retried without when the kernel refuses.
func OpenProbeFile(path string) (*os.File, error) {
	flags := unix.O_WRONLY | unix.O_CREAT | unix.O_SYNC | unix.O_DSYNC | unix.O_NOATIME
	fd, err := unix.Open(path, flags, 0644)
	if err == unix.EPERM {
		fd, err = unix.Open(path, flags&^unix.O_NOATIME, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("prober: open %s: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

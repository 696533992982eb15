//go:build linux

package misc

import "golang.org/x/sys/unix"

// LockMemory pins current and future pages into RAM so the process
// keeps running unswapped while the disks it watches are stalling.
func LockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}

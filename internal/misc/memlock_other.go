//go:build !linux

package misc

// LockMemory is a no-op outside Linux.
func LockMemory() error {
	return nil
}

//go:build !linux

package agent

import "os"

// CheckLocalFilesystem is a no-op outside Linux, where the statfs
// f_type magic numbers the whitelist is built on don't apply.
func CheckLocalFilesystem(f *os.File) error {
	return nil
}

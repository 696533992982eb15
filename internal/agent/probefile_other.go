//go:build !linux

package agent

import (
	"fmt"
	"os"
	"syscall"
)

// OpenProbeFile opens path with the strongest synchronous-write
// semantics this platform offers.
func OpenProbeFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|syscall.O_SYNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("prober: open %s: %w", path, err)
	}
	return f, nil
}

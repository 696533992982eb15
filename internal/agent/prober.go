// Package agent implements the fslatency agent's two cooperating
// loops: the Prober performs a timed synchronous write against a
// local probe file every 100ms, and the Publisher folds the last
// second of samples into a datablock and sends it to the collector.
package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/ringbuffer"
)

// probeInterval paces the probe loop: a disk write every 100ms is
// frequent enough to catch short stalls without saturating a healthy
// disk.
const probeInterval = 100 * time.Millisecond

// probePayloadSize is the fixed 32-byte write, an ASCII rendering of
// the current timestamp padded with spaces.
const probePayloadSize = 32

// Entry is one completed probe's begin/end timestamps.
type Entry struct {
	Begin time.Time
	End   time.Time
}

// Prober repeatedly seeks to the start of a file, writes a small
// timestamped payload, and fsyncs it, recording how long the
// write+fsync round trip took. Any I/O error here is treated as fatal:
// a failing local disk is exactly the condition this program exists
// to detect, so the prober does not retry or degrade, it reports and
// the process exits.
type Prober struct {
	File   *os.File
	Buffer *ringbuffer.Buffer[Entry]
	Scope  *Scope
}

// Run drives the probe loop until done is closed or an I/O error occurs,
// in which case it returns that error so main can exit(2).
func (p *Prober) Run(done <-chan struct{}) error {
	probes := p.Scope.Counter("probes")
	errs := p.Scope.Counter("probe_errors")
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
		}
		if err := p.probeOnce(probes, errs); err != nil {
			return err
		}
	}
}

func (p *Prober) probeOnce(probes, errs *Counter) error {
	begin := time.Now()
	payload := formatProbePayload(begin)

	if _, err := p.File.Seek(0, os.SEEK_SET); err != nil {
		errs.Inc(1)
		return fmt.Errorf("prober: lseek: %w", err)
	}
	if _, err := p.File.Write(payload); err != nil {
		errs.Inc(1)
		return fmt.Errorf("prober: write: %w", err)
	}
	if err := p.File.Sync(); err != nil {
		errs.Inc(1)
		return fmt.Errorf("prober: fsync: %w", err)
	}
	end := time.Now()

	p.Buffer.Add(Entry{Begin: begin, End: end})
	probes.Inc(1)
	return nil
}

// formatProbePayload renders t as "%9d.%08d           \n", seconds
// then tens-of-nanoseconds, padded to exactly 32 bytes. The content
// is irrelevant to the measurement; only the write itself matters.
func formatProbePayload(t time.Time) []byte {
	sec := t.Unix()
	tensOfNs := t.Nanosecond() / 10
	s := fmt.Sprintf("%9d.%08d           \n", sec, tensOfNs)
	b := make([]byte, probePayloadSize)
	copy(b, s)
	return b
}

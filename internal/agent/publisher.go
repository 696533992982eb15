package agent

import (
	"log"
	"math"
	"net"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/ringbuffer"
	"github.com/andrewsitengineering/fslatency/internal/wire"
)

// Publisher folds one second's worth of probe entries into a
// datablock, shifts it into the agent's rolling eight-deep history,
// and sends the resulting message to the collector. A send failure is
// never fatal — UDP delivery is best-effort by design — and is only
// logged when debug is enabled.
type Publisher struct {
	Conn      net.Conn
	Buffer    *ringbuffer.Buffer[Entry]
	Hostname  string
	Text      string
	Precision time.Duration
	Debug     bool
	Scope     *Scope

	message wire.Message
}

// NewPublisher constructs a Publisher with its outgoing message
// template pre-populated and the datablock history zeroed to the
// empty sentinel.
func NewPublisher(conn net.Conn, buf *ringbuffer.Buffer[Entry], hostname, text string, precision time.Duration, debug bool, scope *Scope) *Publisher {
	p := &Publisher{
		Conn:      conn,
		Buffer:    buf,
		Hostname:  hostname,
		Text:      text,
		Precision: precision,
		Debug:     debug,
		Scope:     scope,
	}
	p.message.Major = wire.VersionMajor
	p.message.Minor = wire.VersionMinor
	p.message.SetHostname(hostname)
	p.message.SetText(text)
	p.message.Precision = wire.Timespec{Sec: int64(precision / time.Second), Nsec: int64(precision % time.Second)}
	for i := range p.message.DatablockArray {
		p.message.DatablockArray[i] = wire.EmptyDatablock()
	}
	return p
}

// Run folds and sends once a second until done is closed.
func (p *Publisher) Run(done <-chan struct{}) {
	sent := p.Scope.Counter("datagrams_sent")
	failed := p.Scope.Counter("datagrams_failed")
	lastN := p.Scope.Gauge("last_fold_n")
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		block := p.fold()
		lastN.Update(float64(block.MeasurementCount))
		p.shiftIn(block)

		data := wire.Encode(&p.message)
		if _, err := p.Conn.Write(data); err != nil {
			failed.Inc(1)
			if p.Debug {
				log.Printf("agent: udp send failed: %v", err)
			}
			continue
		}
		sent.Inc(1)
	}
}

// fold snapshots the probe buffer and reduces it to one datablock,
// transforming each sample's elapsed write time into natural-log
// milliseconds before accumulating min/max/sumX/sumXX. The log
// transform tames the heavy tail of latency distributions.
func (p *Publisher) fold() wire.Datablock {
	entries := p.Buffer.Move()
	if len(entries) == 0 {
		return wire.EmptyDatablock()
	}
	block := wire.Datablock{
		MeasurementCount: uint64(len(entries)),
	}

	block.StartTime = toTimespec(entries[0].Begin)
	block.EndTime = toTimespec(entries[len(entries)-1].End)

	minX := wire.ExtremeBigInterval
	maxX := -wire.ExtremeBigInterval
	var sumX, sumXX float64
	for _, e := range entries {
		elapsedSec := e.End.Sub(e.Begin).Seconds()
		elapsedLogMs := math.Log(elapsedSec * 1000)
		if elapsedLogMs < minX {
			minX = elapsedLogMs
		}
		if elapsedLogMs > maxX {
			maxX = elapsedLogMs
		}
		sumX += elapsedLogMs
		sumXX += elapsedLogMs * elapsedLogMs
	}
	block.Min = minX
	block.Max = maxX
	block.SumX = sumX
	block.SumXX = sumXX
	return block
}

// shiftIn pushes block to the front of the eight-deep history array,
// discarding the oldest entry — the redundancy that lets the collector
// recover from a handful of dropped UDP datagrams.
func (p *Publisher) shiftIn(block wire.Datablock) {
	for i := wire.DatablockArrayLen - 1; i > 0; i-- {
		p.message.DatablockArray[i] = p.message.DatablockArray[i-1]
	}
	p.message.DatablockArray[0] = block
}

func toTimespec(t time.Time) wire.Timespec {
	return wire.Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

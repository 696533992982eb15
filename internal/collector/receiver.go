// Package collector implements the central collector's receiver and
// background scanners/reporters: the parts of the system that turn a
// stream of per-agent UDP datagrams into fleet-wide alarm state and
// periodic status output.
package collector

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
	"github.com/andrewsitengineering/fslatency/internal/wire"
)

// Receiver owns the UDP socket and turns incoming datagrams into
// name-registry lookups/inserts and datablock-buffer updates.
type Receiver struct {
	Conn   net.PacketConn
	DB     *collectorstate.DB
	Status *collectorstate.AlarmStatus
	Debug  int
}

// Serve reads datagrams until ctx is canceled or the socket errors.
func (r *Receiver) Serve(ctx context.Context) error {
	buf := make([]byte, wire.MessageSize+64)
	go func() {
		<-ctx.Done()
		r.Conn.Close()
	}()
	for {
		n, _, err := r.Conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		msg, err := wire.Decode(buf[:n])
		if err != nil {
			if r.Debug > 0 {
				log.Printf("collector: dropping packet: %v", err)
			}
			continue
		}
		r.handle(msg)
	}
}

func (r *Receiver) handle(msg *wire.Message) {
	now := time.Now()
	key := msg.Key()

	r.DB.AddRemoveMu.Lock()
	defer r.DB.AddRemoveMu.Unlock()

	id := r.DB.Names.Find(key[:])
	if id == -1 {
		r.handleNewClient(msg, key[:], now)
		return
	}
	r.handleKnownClient(id, msg, now)
}

func (r *Receiver) handleNewClient(msg *wire.Message, key []byte, now time.Time) {
	id := r.DB.Names.Add(key)
	if id == -1 {
		log.Printf("collector: dropping packet from hostname=%q text=%q: name registry is full",
			msg.HostnameString(), msg.TextString())
		return
	}
	log.Printf("collector: client added. id=%d hostname=%q text=%q", id, msg.HostnameString(), msg.TextString())

	entry := r.DB.Entries[id]
	entry.Mu.Lock()
	defer entry.Mu.Unlock()
	entry.LastArrival = now
	entry.AlarmClear()
	for i := wire.DatablockArrayLen - 1; i >= 0; i-- {
		if !msg.DatablockArray[i].IsEmpty() {
			entry.Buffer.Add(msg.DatablockArray[i])
		}
	}
}

func (r *Receiver) handleKnownClient(id int, msg *wire.Message, now time.Time) {
	if r.Debug > 1 {
		log.Printf("collector: known client id=%d", id)
	}
	entry := r.DB.Entries[id]
	entry.Mu.Lock()
	defer entry.Mu.Unlock()
	entry.LastArrival = now

	last, ok := entry.Buffer.GetLast()
	if !ok {
		// Resolves the known-client-with-empty-buffer edge case: insert
		// the newest non-empty datablock instead of leaving the client
		// unmaturely empty, and log it since it should be rare.
		log.Printf("collector: warning: known client id=%d has an empty buffer on arrival", id)
		for i := 0; i < wire.DatablockArrayLen; i++ {
			if !msg.DatablockArray[i].IsEmpty() {
				entry.Buffer.Add(msg.DatablockArray[i])
				break
			}
		}
		return
	}

	for i := wire.DatablockArrayLen - 1; i >= 0; i-- {
		if gt(msg.DatablockArray[i].StartTime, last.StartTime) {
			entry.Buffer.Add(msg.DatablockArray[i])
		}
	}

	if msg.DatablockArray[0].IsEmpty() {
		entry.AlarmSet(r.Status, collectorstate.AlarmEmptyDatablock)
	} else {
		entry.AlarmUnset(collectorstate.AlarmEmptyDatablock)
	}
}

// gt reports whether left is strictly later than right.
func gt(left, right wire.Timespec) bool {
	if left.Sec != right.Sec {
		return left.Sec > right.Sec
	}
	return left.Nsec > right.Nsec
}

// Package collectorstate holds the collector's in-memory databases:
// the name registry mapping (hostname, text) identities to small
// integer ids, the per-id status entries tracking alarms and recent
// datablocks, the global rolling statistic, and the two-condition
// alarm/normal status gate. The lock hierarchy is, outermost first:
// DB.AddRemoveMu, then a StatusEntry's own mutex, then
// AlarmStatus.mu, then GlobalStat's mutex, then the registry's
// internal mutex. No goroutine ever acquires these out of order.
package collectorstate

import (
	"math"
	"sync"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/registry"
	"github.com/andrewsitengineering/fslatency/internal/ringbuffer"
	"github.com/andrewsitengineering/fslatency/internal/wire"
)

// Alarm bits, combinable in one StatusEntry.Alarm bitmask.
const (
	AlarmNone               uint32 = 0
	AlarmStatisticalLow     uint32 = 1
	AlarmStatisticalHigh    uint32 = 2
	AlarmEmptyDatablock     uint32 = 4
	AlarmUDPTimeout         uint32 = 8
)

// StatusEntry tracks one client's alarm state and recent datablocks.
// All fields are guarded by Mu; callers that also need
// DB.AddRemoveMu must take it before Mu.
type StatusEntry struct {
	Mu            sync.Mutex
	Alarm         uint32
	LastAlarmTime time.Time
	LastArrival   time.Time
	Buffer        *ringbuffer.Buffer[wire.Datablock]
}

func newStatusEntry(rollingWindow int) *StatusEntry {
	return &StatusEntry{
		Buffer: ringbuffer.New[wire.Datablock](rollingWindow, false),
	}
}

// clear resets the entry to its just-allocated state. Caller must hold Mu.
func (s *StatusEntry) clear() {
	s.Alarm = AlarmNone
	s.LastAlarmTime = time.Time{}
	s.LastArrival = time.Time{}
	s.Buffer.Clear()
}

// Clear locks and resets the entry, as the collector does before
// forgetting a client.
func (s *StatusEntry) Clear() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.clear()
}

// AlarmSet ORs alarmBit into the entry's alarm bitmask, stamps
// LastAlarmTime, and flips the global alarm status to ALARMED if it
// was NORMAL. Caller must hold Mu.
func (s *StatusEntry) AlarmSet(status *AlarmStatus, alarmBit uint32) {
	s.Alarm |= alarmBit
	s.LastAlarmTime = time.Now()
	status.SetAlarmed()
}

// AlarmUnset clears alarmBit from the entry's bitmask without
// touching LastAlarmTime or the global status. Caller must hold Mu.
func (s *StatusEntry) AlarmUnset(alarmBit uint32) {
	s.Alarm &^= alarmBit
}

// AlarmClear resets the entry's alarm state entirely. The
// AlarmSilencer calls this once an alarm has aged out, and the
// Receiver calls it when it hands a slot to a new client; every other
// writer only sets or unsets individual bits. Caller must hold Mu.
func (s *StatusEntry) AlarmClear() {
	s.Alarm = AlarmNone
	s.LastAlarmTime = time.Time{}
}

// StatNumbers is one reading of the fleet-wide rolling aggregate of
// ln-millisecond latency values.
type StatNumbers struct {
	MinX  float64 `json:"minX"`
	MaxX  float64 `json:"maxX"`
	SumX  float64 `json:"sumX"`
	SumXX float64 `json:"sumXX"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	SumN  uint64  `json:"sumN"`
}

// GlobalStat holds the current fleet-wide aggregate, recomputed once
// a second by the StatisticalAlarmer and read by every reporter.
type GlobalStat struct {
	mu sync.RWMutex
	v  StatNumbers
}

// Snapshot returns a copy of the current aggregate.
func (g *GlobalStat) Snapshot() StatNumbers {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.v
}

// Set replaces the aggregate atomically.
func (g *GlobalStat) Set(v StatNumbers) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.v = v
}

// StandardDeviation computes the sample standard deviation of the
// natural-log-millisecond latency distribution from its running sums.
func StandardDeviation(sumN uint64, sumx, sumxx float64) float64 {
	n := float64(sumN)
	return math.Sqrt((sumxx - sumx*sumx/n) / (n - 1.0))
}

// AlarmStatus is the fleet-wide NORMAL/ALARMED gate shared by the two
// status reporters: two condition variables sharing one mutex.
// SetAlarmed is the signal path used by any alarm-setting writer, and
// the AlarmSilencer is the only caller of TryClearGlobal.
type AlarmStatus struct {
	mu         sync.Mutex
	alarmed    bool
	normalCond *sync.Cond
	alarmCond  *sync.Cond
}

// NewAlarmStatus constructs a status gate in the NORMAL state.
func NewAlarmStatus() *AlarmStatus {
	s := &AlarmStatus{}
	s.normalCond = sync.NewCond(&s.mu)
	s.alarmCond = sync.NewCond(&s.mu)
	return s
}

// SetAlarmed flips the gate to ALARMED if it was NORMAL and wakes any
// reporter waiting on the alarm condition. Safe to call repeatedly;
// a no-op once already alarmed.
func (s *AlarmStatus) SetAlarmed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alarmed {
		s.alarmed = true
		s.alarmCond.Signal()
	}
}

// TryClearGlobal flips the gate back to NORMAL and wakes any reporter
// waiting on the normal condition, but only if no per-client alarm
// remains live; callers pass that verdict in as anyAlarmRemains.
func (s *AlarmStatus) TryClearGlobal(anyAlarmRemains bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !anyAlarmRemains && s.alarmed {
		s.alarmed = false
		s.normalCond.Signal()
	}
}

// WaitForNormal blocks the calling reporter until the gate is NORMAL,
// looping on the condition to guard against spurious wakeup per
// sync.Cond's contract. It returns with the gate's mutex released:
// reporters tally per-entry state under the slot mutexes afterwards,
// which must never be acquired while the gate's mutex is held.
func (s *AlarmStatus) WaitForNormal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.alarmed {
		s.normalCond.Wait()
	}
}

// WaitForAlarmed is WaitForNormal's mirror image for the alarm reporter.
func (s *AlarmStatus) WaitForAlarmed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.alarmed {
		s.alarmCond.Wait()
	}
}

// Alarmed reports the gate's current state.
func (s *AlarmStatus) Alarmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarmed
}

// DB bundles the name registry and the parallel array of status
// entries, plus the add/remove lock that serializes any operation
// touching both at once (new client registration, client forgetting).
type DB struct {
	AddRemoveMu sync.Mutex
	Names       *registry.Registry
	Entries     []*StatusEntry
}

// NewDB allocates a database sized for maxClients, each status entry
// holding up to rollingWindow recent datablocks.
func NewDB(maxClients, rollingWindow int) (*DB, error) {
	names, err := registry.New(maxClients, wire.HostnameLen+wire.TextLen)
	if err != nil {
		return nil, err
	}
	entries := make([]*StatusEntry, maxClients)
	for i := range entries {
		entries[i] = newStatusEntry(rollingWindow)
	}
	return &DB{Names: names, Entries: entries}, nil
}

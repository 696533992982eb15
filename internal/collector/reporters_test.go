package collector

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
	"github.com/andrewsitengineering/fslatency/internal/wire"
)

func TestNormalStatusReporterLineShape(t *testing.T) {
	db := newTestDB(t)
	status := collectorstate.NewAlarmStatus()
	stat := &collectorstate.GlobalStat{}
	stat.Set(collectorstate.StatNumbers{MinX: 1, MaxX: 2, Mean: 1.5, Std: 0.5, SumN: 10})
	addClient(t, db, "host", wire.Datablock{MeasurementCount: 5, Min: 1, Max: 2})

	var out bytes.Buffer
	r := &NormalStatusReporter{DB: db, Stat: stat, Status: status, Out: &out}
	r.report()

	line := out.String()
	if !strings.Contains(line, "Status: normal. Clients: 1") {
		t.Fatalf("unexpected normal status line %q", line)
	}
	if !strings.Contains(line, "ln_ltncy:(N:10") {
		t.Fatalf("expected global aggregate in line, got %q", line)
	}
}

func TestAlarmStatusReporterLineShape(t *testing.T) {
	db := newTestDB(t)
	status := collectorstate.NewAlarmStatus()
	stat := &collectorstate.GlobalStat{}
	id := addClient(t, db, "host", wire.Datablock{MeasurementCount: 5, Min: 1, Max: 2})
	db.Entries[id].Mu.Lock()
	db.Entries[id].AlarmSet(status, collectorstate.AlarmUDPTimeout)
	db.Entries[id].AlarmSet(status, collectorstate.AlarmEmptyDatablock)
	db.Entries[id].Mu.Unlock()

	var out bytes.Buffer
	r := &AlarmStatusReporter{DB: db, Stat: stat, Status: status, Out: &out}
	r.report()

	line := out.String()
	if !strings.Contains(line, "ALARM Clients: 1 w/alarms: 1") {
		t.Fatalf("unexpected alarm status line %q", line)
	}
	if !strings.Contains(line, "stuck:1 lost:1") {
		t.Fatalf("expected per-bit counts in line, got %q", line)
	}
}

func TestTallyAlarmsCountsEachBitOnce(t *testing.T) {
	db := newTestDB(t)
	status := collectorstate.NewAlarmStatus()
	a := addClient(t, db, "a", wire.Datablock{MeasurementCount: 1, Min: 1, Max: 1})
	b := addClient(t, db, "b", wire.Datablock{MeasurementCount: 1, Min: 1, Max: 1})
	db.Entries[a].Mu.Lock()
	db.Entries[a].AlarmSet(status, collectorstate.AlarmStatisticalLow)
	db.Entries[a].AlarmSet(status, collectorstate.AlarmStatisticalHigh)
	db.Entries[a].Mu.Unlock()
	db.Entries[b].Mu.Lock()
	db.Entries[b].AlarmSet(status, collectorstate.AlarmUDPTimeout)
	db.Entries[b].Mu.Unlock()

	tally := TallyAlarms(db)
	if tally.Alarmed != 2 {
		t.Fatalf("Alarmed = %d, want 2", tally.Alarmed)
	}
	if tally.StatLow != 1 || tally.StatHigh != 1 || tally.UDPTimeout != 1 || tally.Empty != 0 {
		t.Fatalf("unexpected tally %+v", tally)
	}
}

func TestNormalStatusReporterRunEmitsWhileNormal(t *testing.T) {
	db := newTestDB(t)
	status := collectorstate.NewAlarmStatus()
	stat := &collectorstate.GlobalStat{}

	var out syncBuffer
	r := &NormalStatusReporter{DB: db, Stat: stat, Status: status, Out: &out, Interval: 10 * time.Millisecond}

	done := make(chan struct{})
	go r.Run(done)
	time.Sleep(50 * time.Millisecond)
	close(done)

	if out.Len() == 0 {
		t.Fatal("expected at least one status line while gate stayed NORMAL")
	}
}

func TestAlarmStatusReporterRunBlocksWhileNormal(t *testing.T) {
	db := newTestDB(t)
	status := collectorstate.NewAlarmStatus()
	stat := &collectorstate.GlobalStat{}

	var out syncBuffer
	r := &AlarmStatusReporter{DB: db, Stat: stat, Status: status, Out: &out, Interval: 10 * time.Millisecond}

	done := make(chan struct{})
	go r.Run(done)
	time.Sleep(50 * time.Millisecond)
	if out.Len() != 0 {
		t.Fatalf("alarm reporter must stay silent while NORMAL, got %q", out.String())
	}

	status.SetAlarmed()
	time.Sleep(50 * time.Millisecond)
	close(done)
	if out.Len() == 0 {
		t.Fatal("expected an ALARM line once the gate flipped")
	}
}

// syncBuffer guards a bytes.Buffer for cross-goroutine use in tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

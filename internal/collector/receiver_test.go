package collector

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
	"github.com/andrewsitengineering/fslatency/internal/wire"
)

func newTestDB(t *testing.T) *collectorstate.DB {
	t.Helper()
	db, err := collectorstate.NewDB(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func sampleMessage(hostname, text string, n uint64, startSec int64) *wire.Message {
	m := &wire.Message{Major: wire.VersionMajor, Minor: wire.VersionMinor}
	m.SetHostname(hostname)
	m.SetText(text)
	for i := range m.DatablockArray {
		m.DatablockArray[i] = wire.EmptyDatablock()
	}
	m.DatablockArray[0] = wire.Datablock{
		MeasurementCount: n,
		StartTime:        wire.Timespec{Sec: startSec},
		EndTime:          wire.Timespec{Sec: startSec + 1},
		Min:              1,
		Max:              2,
		SumX:              float64(n),
		SumXX:             float64(n),
	}
	return m
}

func TestReceiverHandleRegistersNewClient(t *testing.T) {
	db := newTestDB(t)
	status := collectorstate.NewAlarmStatus()
	r := &Receiver{DB: db, Status: status}

	msg := sampleMessage("host-a", "root", 10, 1000)
	r.handle(msg)

	key := msg.Key()
	id := db.Names.Find(key[:])
	if id == -1 {
		t.Fatal("expected client to be registered")
	}
	last, ok := db.Entries[id].Buffer.GetLast()
	if !ok || last.MeasurementCount != 10 {
		t.Fatalf("expected inserted datablock, got %+v ok=%v", last, ok)
	}
}

func TestReceiverHandleKnownClientAppendsNewerBlocks(t *testing.T) {
	db := newTestDB(t)
	status := collectorstate.NewAlarmStatus()
	r := &Receiver{DB: db, Status: status}

	first := sampleMessage("host-b", "root", 5, 1000)
	r.handle(first)

	second := sampleMessage("host-b", "root", 7, 2000)
	r.handle(second)

	key := first.Key()
	id := db.Names.Find(key[:])
	last, ok := db.Entries[id].Buffer.GetLast()
	if !ok || last.MeasurementCount != 7 {
		t.Fatalf("expected newest block to be appended, got %+v", last)
	}
}

func TestReceiverHandleKnownClientIgnoresOutOfOrderBlocks(t *testing.T) {
	db := newTestDB(t)
	status := collectorstate.NewAlarmStatus()
	r := &Receiver{DB: db, Status: status}

	first := sampleMessage("host-c", "root", 5, 5000)
	r.handle(first)

	stale := sampleMessage("host-c", "root", 99, 100)
	r.handle(stale)

	key := first.Key()
	id := db.Names.Find(key[:])
	last, _ := db.Entries[id].Buffer.GetLast()
	if last.MeasurementCount != 5 {
		t.Fatalf("stale datablock should not have been inserted, got %+v", last)
	}
}

func TestReceiverHandleSetsEmptyDatablockAlarm(t *testing.T) {
	db := newTestDB(t)
	status := collectorstate.NewAlarmStatus()
	r := &Receiver{DB: db, Status: status}

	first := sampleMessage("host-d", "root", 5, 1000)
	r.handle(first)

	empty := sampleMessage("host-d", "root", 5, 2000)
	empty.DatablockArray[0] = wire.EmptyDatablock()
	empty.DatablockArray[0].StartTime = wire.Timespec{Sec: 2000}
	r.handle(empty)

	key := first.Key()
	id := db.Names.Find(key[:])
	db.Entries[id].Mu.Lock()
	alarm := db.Entries[id].Alarm
	db.Entries[id].Mu.Unlock()
	if alarm&collectorstate.AlarmEmptyDatablock == 0 {
		t.Fatalf("expected AlarmEmptyDatablock to be set, got alarm=%d", alarm)
	}
}

func TestReceiverServeEndToEnd(t *testing.T) {
	db := newTestDB(t)
	status := collectorstate.NewAlarmStatus()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	r := &Receiver{Conn: conn, DB: db, Status: status}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	client, err := net.Dial("udp", conn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	msg := sampleMessage("host-e", "root", 3, 1000)
	client.Write(wire.Encode(msg))

	deadline := time.Now().Add(2 * time.Second)
	msgKey := msg.Key()
	for time.Now().Before(deadline) {
		if db.Names.Find(msgKey[:]) != -1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if db.Names.Find(msgKey[:]) == -1 {
		t.Fatal("receiver never registered client")
	}

	cancel()
	<-done
}

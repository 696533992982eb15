package collectorstate

import (
	"sync"
	"testing"
	"time"
)

func TestAlarmStatusGating(t *testing.T) {
	s := NewAlarmStatus()
	var normalSeen, alarmedSeen int
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.WaitForAlarmed()
		alarmedSeen++
	}()
	go func() {
		defer wg.Done()
		// Gate starts NORMAL; this returns immediately.
		s.WaitForNormal()
		normalSeen++
	}()

	// Give the normal-waiter time to return before we flip the gate.
	time.Sleep(20 * time.Millisecond)
	s.SetAlarmed()

	wg.Wait()
	if alarmedSeen != 1 {
		t.Fatalf("alarmedSeen = %d, want 1", alarmedSeen)
	}
	if normalSeen != 1 {
		t.Fatalf("normalSeen = %d, want 1", normalSeen)
	}
}

func TestSetAlarmedIsIdempotent(t *testing.T) {
	s := NewAlarmStatus()
	s.SetAlarmed()
	s.SetAlarmed() // must not deadlock or double-signal incorrectly
	if !s.alarmed {
		t.Fatal("expected alarmed state to stick")
	}
}

func TestTryClearGlobalOnlyWhenNoAlarmRemains(t *testing.T) {
	s := NewAlarmStatus()
	s.SetAlarmed()
	s.TryClearGlobal(true) // some alarm still live: stays alarmed
	if !s.alarmed {
		t.Fatal("expected gate to remain alarmed while anyAlarmRemains is true")
	}
	s.TryClearGlobal(false)
	if s.alarmed {
		t.Fatal("expected gate to clear once anyAlarmRemains is false")
	}
}

func TestStandardDeviation(t *testing.T) {
	// Known values: samples 1,2,3,4,5 -> mean 3, sample std ~1.5811
	sumx := 1.0 + 2 + 3 + 4 + 5
	sumxx := 1.0 + 4 + 9 + 16 + 25
	got := StandardDeviation(5, sumx, sumxx)
	want := 1.5811388300841898
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("StandardDeviation = %v, want %v", got, want)
	}
}

func TestStatusEntryAlarmLifecycle(t *testing.T) {
	db, err := NewDB(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	status := NewAlarmStatus()
	e := db.Entries[0]

	e.Mu.Lock()
	e.AlarmSet(status, AlarmUDPTimeout)
	e.Mu.Unlock()

	if e.Alarm&AlarmUDPTimeout == 0 {
		t.Fatal("expected AlarmUDPTimeout bit set")
	}

	e.Mu.Lock()
	e.AlarmUnset(AlarmUDPTimeout)
	e.Mu.Unlock()
	if e.Alarm != AlarmNone {
		t.Fatalf("Alarm = %d, want AlarmNone after unset", e.Alarm)
	}
}

package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
	"github.com/andrewsitengineering/fslatency/internal/wire"
)

func seedClient(t *testing.T, db *collectorstate.DB, hostname string, blocks ...wire.Datablock) int {
	t.Helper()
	key := make([]byte, wire.HostnameLen+wire.TextLen)
	copy(key, hostname)
	id := db.Names.Add(key)
	if id == -1 {
		t.Fatal("registry full")
	}
	entry := db.Entries[id]
	entry.Mu.Lock()
	entry.LastArrival = time.Now().Truncate(time.Second)
	for _, b := range blocks {
		entry.Buffer.Add(b)
	}
	entry.Mu.Unlock()
	return id
}

func TestSaveAndRestoreRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "state.json")

	db, err := collectorstate.NewDB(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	seedClient(t, db, "h1",
		wire.Datablock{MeasurementCount: 10, StartTime: wire.Timespec{Sec: 100}, Min: 1, Max: 2, SumX: 10, SumXX: 11},
		wire.Datablock{MeasurementCount: 20, StartTime: wire.Timespec{Sec: 101}, Min: 1, Max: 3, SumX: 20, SumXX: 22},
	)
	seedClient(t, db, "h2",
		wire.Datablock{MeasurementCount: 5, StartTime: wire.Timespec{Sec: 102}, Min: 2, Max: 2, SumX: 10, SumXX: 20},
	)

	w := New(context.Background(), db, WithFile(filename))
	if err := w.Save(); err != nil {
		t.Fatal(err)
	}

	restoredDB, err := collectorstate.NewDB(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	New(context.Background(), restoredDB, WithFile(filename), WithRestoreOnStart(true))

	if got := restoredDB.Names.Used(); got != 2 {
		t.Fatalf("restored registry used = %d, want 2", got)
	}

	key := make([]byte, wire.HostnameLen+wire.TextLen)
	copy(key, "h1")
	id := restoredDB.Names.Find(key)
	if id == -1 {
		t.Fatal("expected h1 present after restore")
	}
	entry := restoredDB.Entries[id]
	if entry.Buffer.Len() != 2 {
		t.Fatalf("restored buffer len = %d, want 2", entry.Buffer.Len())
	}
	last, ok := entry.Buffer.GetLast()
	if !ok || last.StartTime.Sec != 101 || last.MeasurementCount != 20 {
		t.Fatalf("restored newest datablock = %+v ok=%v", last, ok)
	}
}

func TestRestoreMissingFileIsANoop(t *testing.T) {
	db, err := collectorstate.NewDB(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	New(context.Background(), db, WithFile(filepath.Join(t.TempDir(), "absent.json")), WithRestoreOnStart(true))
	if got := db.Names.Used(); got != 0 {
		t.Fatalf("used = %d, want 0", got)
	}
}

func TestWriterWithoutFileIsInert(t *testing.T) {
	db, err := collectorstate.NewDB(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	w := New(context.Background(), db)
	if err := w.Save(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

// Package checkpoint persists the collector's live registry and
// status database to a JSON file and restores it on startup, so a
// restarted collector does not cold-start its rolling windows and
// re-learn every client from scratch. Only the live rolling window is
// ever written; this is not a historical archive.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
	"github.com/andrewsitengineering/fslatency/internal/wire"
)

// Writer periodically snapshots a status database to disk.
type Writer struct {
	filename string
	db       *collectorstate.DB
	close    func() error
}

type args struct {
	restoreOnStart bool
	storeInterval  time.Duration
}

type option func(*Writer, *args)

func WithRestoreOnStart(restoreOnStart bool) option {
	return func(w *Writer, a *args) {
		a.restoreOnStart = restoreOnStart
	}
}

func WithInterval(interval time.Duration) option {
	return func(w *Writer, a *args) {
		a.storeInterval = interval
	}
}

func WithFile(filename string) option {
	return func(w *Writer, a *args) {
		w.filename = filename
	}
}

// New wires a checkpoint writer for db. With no filename it is inert.
// Restore (when requested) happens synchronously before New returns,
// so callers can finish it before the UDP socket opens.
func New(ctx context.Context, db *collectorstate.DB, opts ...option) *Writer {
	w := &Writer{db: db}

	args := &args{}
	for _, opt := range opts {
		opt(w, args)
	}

	if w.filename == "" {
		return w
	}

	if err := ensureDir(w.filename); err != nil {
		log.Println("checkpoint: cannot prepare file:", err)
		return w
	}
	log.Println("checkpoint: filename:", w.filename)

	if args.restoreOnStart {
		if err := w.load(); err != nil {
			log.Println("checkpoint: fail on loading:", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)

	if args.storeInterval >= time.Second {
		go w.run(ctx, args.storeInterval)
	}

	w.close = func() error {
		cancel()
		if err := w.Save(); err != nil {
			return err
		}
		log.Println("checkpoint: final snapshot written")
		return nil
	}
	return w
}

func ensureDir(fileName string) error {
	dirName := filepath.Dir(fileName)
	if err := os.MkdirAll(dirName, os.ModePerm); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

// Close writes a final snapshot and stops the periodic writer.
func (w *Writer) Close() error {
	if w.close == nil {
		return nil
	}
	return w.close()
}

func (w *Writer) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Save(); err != nil {
				log.Println("checkpoint: fail on saving:", err)
			}
		}
	}
}

// client is the persisted form of one registry slot plus its status
// entry. The name is the raw 128-byte hostname+text key; JSON encodes
// it as base64 so embedded NUL padding survives the round trip.
type client struct {
	Name          []byte           `json:"name"`
	LastArrival   time.Time        `json:"lastArrival"`
	Alarm         uint32           `json:"alarm"`
	LastAlarmTime time.Time        `json:"lastAlarmTime"`
	Datablocks    []wire.Datablock `json:"datablocks"`
}

type snapshot struct {
	Tstamp  time.Time `json:"tstamp"`
	Clients []client  `json:"clients"`
}

// Save writes the current database state atomically: serialize to a
// temporary file in the same directory, then rename over the target.
func (w *Writer) Save() error {
	if w.filename == "" {
		return nil
	}

	snap := snapshot{Tstamp: time.Now()}

	w.db.AddRemoveMu.Lock()
	for _, id := range w.db.Names.Occupied() {
		name, ok := w.db.Names.GetByID(id)
		if !ok {
			continue
		}
		entry := w.db.Entries[id]
		entry.Mu.Lock()
		c := client{
			Name:          name,
			LastArrival:   entry.LastArrival,
			Alarm:         entry.Alarm,
			LastAlarmTime: entry.LastAlarmTime,
		}
		entry.Buffer.ForEach(func(d wire.Datablock) {
			c.Datablocks = append(c.Datablocks, d)
		})
		entry.Mu.Unlock()
		snap.Clients = append(snap.Clients, c)
	}
	w.db.AddRemoveMu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.filename), filepath.Base(w.filename)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), w.filename)
}

// load restores clients from the checkpoint file into the database.
// Slot ids are reassigned by the registry; only names, buffers and
// status fields carry over. Clients already past timetoforget will be
// expired by the first forget scan, exactly as if the process had
// never restarted.
func (w *Writer) load() error {
	data, err := os.ReadFile(w.filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	w.db.AddRemoveMu.Lock()
	defer w.db.AddRemoveMu.Unlock()
	restored := 0
	for _, c := range snap.Clients {
		id := w.db.Names.FindAdd(c.Name)
		if id == -1 {
			log.Println("checkpoint: registry full during restore; remaining clients skipped")
			break
		}
		entry := w.db.Entries[id]
		entry.Mu.Lock()
		entry.LastArrival = c.LastArrival
		entry.Alarm = c.Alarm
		entry.LastAlarmTime = c.LastAlarmTime
		entry.Buffer.Clear()
		for _, d := range c.Datablocks {
			entry.Buffer.Add(d)
		}
		entry.Mu.Unlock()
		restored++
	}
	if restored > 0 {
		log.Printf("checkpoint: restored %d clients from snapshot taken %s", restored, snap.Tstamp.Format(time.RFC3339))
	}
	return nil
}

package collector

import (
	"fmt"
	"io"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
)

const timeFormat = "2006-01-02T15:04:05-0700"

// NormalStatusReporter emits one summary line per statusperiod while
// the fleet is NORMAL. When the fleet is ALARMED it parks on the
// normal condition instead, so the next line appears right after the
// silencer brings the fleet back.
type NormalStatusReporter struct {
	DB       *collectorstate.DB
	Stat     *collectorstate.GlobalStat
	Status   *collectorstate.AlarmStatus
	Out      io.Writer
	Interval time.Duration
}

func (r *NormalStatusReporter) Run(done <-chan struct{}) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.Status.WaitForNormal()
			r.report()
		}
	}
}

func (r *NormalStatusReporter) report() {
	stat := r.Stat.Snapshot()
	fmt.Fprintf(r.Out, "%s Status: normal. Clients: %d ln_ltncy:(N:%d min:%f max:%f avg:%f std:%f)\n",
		time.Now().Format(timeFormat), r.DB.Names.Used(),
		stat.SumN, stat.MinX, stat.MaxX, stat.Mean, stat.Std)
}

// AlarmStatusReporter is the NormalStatusReporter's mirror image: it
// emits one ALARM line per alarmstatusperiod while the fleet is
// ALARMED, with per-alarm-bit client counts tallied fresh each time.
type AlarmStatusReporter struct {
	DB       *collectorstate.DB
	Stat     *collectorstate.GlobalStat
	Status   *collectorstate.AlarmStatus
	Out      io.Writer
	Interval time.Duration
}

func (r *AlarmStatusReporter) Run(done <-chan struct{}) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.Status.WaitForAlarmed()
			r.report()
		}
	}
}

func (r *AlarmStatusReporter) report() {
	tally := TallyAlarms(r.DB)
	stat := r.Stat.Snapshot()
	fmt.Fprintf(r.Out, "%s ALARM Clients: %d w/alarms: %d (ltncy lo:%d ltncy hi:%d stuck:%d lost:%d) ln_ltncy:(N:%d min:%f max:%f avg:%f std:%f)\n",
		time.Now().Format(timeFormat), r.DB.Names.Used(),
		tally.Alarmed, tally.StatLow, tally.StatHigh, tally.Empty, tally.UDPTimeout,
		stat.SumN, stat.MinX, stat.MaxX, stat.Mean, stat.Std)
}

// AlarmTally counts clients per alarm bit; a client carrying several
// bits is counted once per bit and once in Alarmed.
type AlarmTally struct {
	Alarmed    int
	StatLow    int
	StatHigh   int
	Empty      int
	UDPTimeout int
}

// TallyAlarms walks every status entry and counts live alarm bits.
// Shared by the alarm reporter, the Graphite reporter, and the
// Prometheus exporter, which all derive their counts from the status
// database at read time instead of keeping shadow counters.
func TallyAlarms(db *collectorstate.DB) AlarmTally {
	var t AlarmTally
	for _, entry := range db.Entries {
		entry.Mu.Lock()
		alarm := entry.Alarm
		entry.Mu.Unlock()
		if alarm == collectorstate.AlarmNone {
			continue
		}
		t.Alarmed++
		if alarm&collectorstate.AlarmStatisticalLow != 0 {
			t.StatLow++
		}
		if alarm&collectorstate.AlarmStatisticalHigh != 0 {
			t.StatHigh++
		}
		if alarm&collectorstate.AlarmEmptyDatablock != 0 {
			t.Empty++
		}
		if alarm&collectorstate.AlarmUDPTimeout != 0 {
			t.UDPTimeout++
		}
	}
	return t
}

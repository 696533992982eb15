package collector

import (
	"log"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
	"github.com/andrewsitengineering/fslatency/internal/wire"
)

// StatisticalAlarmer scores each client against its own rolling
// window once a second: it folds every datablock in the client's
// buffer into per-client running sums, flags the client when its
// newest datablock strays more than ThresholdFactor standard
// deviations from the client's own mean, and accumulates the same
// sums across all clients into the fleet-wide GlobalStat.
type StatisticalAlarmer struct {
	DB                      *collectorstate.DB
	Stat                    *collectorstate.GlobalStat
	Status                  *collectorstate.AlarmStatus
	Interval                time.Duration
	ThresholdFactor         float64
	MinimumMeasurementCount uint64
	Debug                   int
}

func (s *StatisticalAlarmer) Run(done <-chan struct{}) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.scanOnce()
		}
	}
}

// cumulativeStat is the scanner-local accumulator later published as
// GlobalStat; never shared between goroutines.
type cumulativeStat struct {
	minX, maxX, sumX, sumXX float64
	sumN                    uint64
}

func (s *StatisticalAlarmer) scanOnce() {
	cum := cumulativeStat{minX: wire.ExtremeBigInterval, maxX: -wire.ExtremeBigInterval}
	for id, entry := range s.DB.Entries {
		s.scanEntry(id, entry, &cum)
	}

	g := collectorstate.StatNumbers{MinX: cum.minX, MaxX: cum.maxX, SumX: cum.sumX, SumXX: cum.sumXX, SumN: cum.sumN}
	if cum.sumN >= 2 {
		g.Mean = cum.sumX / float64(cum.sumN)
		g.Std = collectorstate.StandardDeviation(cum.sumN, cum.sumX, cum.sumXX)
	}
	s.Stat.Set(g)
}

func (s *StatisticalAlarmer) scanEntry(id int, entry *collectorstate.StatusEntry, cum *cumulativeStat) {
	entry.Mu.Lock()
	defer entry.Mu.Unlock()

	if entry.Buffer.Len() == 0 {
		return
	}

	var last wire.Datablock
	var sumN uint64
	var sumX, sumXX float64
	minX := wire.ExtremeBigInterval
	maxX := -wire.ExtremeBigInterval
	entry.Buffer.ForEach(func(d wire.Datablock) {
		last = d
		if d.IsEmpty() {
			// The new-client path skips empty datablocks, but the
			// known-client path admits any block with a newer
			// starttime, so one can sit here; it adds nothing to the
			// sums.
			if s.Debug > 0 {
				log.Printf("collector: empty datablock in rolling window of id=%d", id)
			}
			return
		}
		sumN += d.MeasurementCount
		sumX += d.SumX
		sumXX += d.SumXX
		if d.Min < minX {
			minX = d.Min
		}
		if d.Max > maxX {
			maxX = d.Max
		}
	})

	cum.sumN += sumN
	cum.sumX += sumX
	cum.sumXX += sumXX
	if minX < cum.minX {
		cum.minX = minX
	}
	if maxX > cum.maxX {
		cum.maxX = maxX
	}

	// The statistical alarms score only the newest datablock against
	// this client's own window, and only once the window holds enough
	// samples to make the standard deviation meaningful.
	if sumN <= s.MinimumMeasurementCount {
		if s.Debug > 1 {
			log.Printf("collector: statistic (low on N) id=%d sumN=%d min=%f max=%f", id, sumN, minX, maxX)
		}
		return
	}

	mean := sumX / float64(sumN)
	std := collectorstate.StandardDeviation(sumN, sumX, sumXX)
	if s.Debug > 1 {
		log.Printf("collector: statistic id=%d sumN=%d [%f < min=%f max=%f < %f] avg=%f std=%f",
			id, sumN, mean-std*s.ThresholdFactor, minX, maxX, mean+std*s.ThresholdFactor, mean, std)
	}
	if last.Min < mean-std*s.ThresholdFactor {
		entry.AlarmSet(s.Status, collectorstate.AlarmStatisticalLow)
	} else {
		entry.AlarmUnset(collectorstate.AlarmStatisticalLow)
	}
	if last.Max > mean+std*s.ThresholdFactor {
		entry.AlarmSet(s.Status, collectorstate.AlarmStatisticalHigh)
	} else {
		entry.AlarmUnset(collectorstate.AlarmStatisticalHigh)
	}
}

// UDPTimeoutScanner flags clients that have gone quiet for longer than
// Timeout. It only ever sets the alarm bit; clearing it again is the
// AlarmSilencer's job once the client starts arriving again without
// having been forgotten.
type UDPTimeoutScanner struct {
	DB       *collectorstate.DB
	Status   *collectorstate.AlarmStatus
	Interval time.Duration
	Timeout  time.Duration
}

func (u *UDPTimeoutScanner) Run(done <-chan struct{}) {
	ticker := time.NewTicker(u.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			u.scanOnce()
		}
	}
}

func (u *UDPTimeoutScanner) scanOnce() {
	now := time.Now()
	for _, entry := range u.DB.Entries {
		entry.Mu.Lock()
		if !entry.LastArrival.IsZero() && now.Sub(entry.LastArrival) > u.Timeout {
			entry.AlarmSet(u.Status, collectorstate.AlarmUDPTimeout)
		}
		entry.Mu.Unlock()
	}
}

// TimeToForgetScanner removes clients that have been silent long
// enough to give up on entirely, freeing their registry slot for reuse.
// It takes DB.AddRemoveMu for the whole scan since it mutates the
// registry, then checks each occupied entry's LastArrival under its
// own Mu before forgetting it. The receiver also needs AddRemoveMu to
// touch an entry, so no arrival can land between that check and the
// removal.
type TimeToForgetScanner struct {
	DB       *collectorstate.DB
	Interval time.Duration
	Timeout  time.Duration
}

func (f *TimeToForgetScanner) Run(done <-chan struct{}) {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.scanOnce()
		}
	}
}

func (f *TimeToForgetScanner) scanOnce() {
	now := time.Now()
	f.DB.AddRemoveMu.Lock()
	defer f.DB.AddRemoveMu.Unlock()

	for _, id := range f.DB.Names.Occupied() {
		entry := f.DB.Entries[id]
		entry.Mu.Lock()
		stale := !entry.LastArrival.IsZero() && now.Sub(entry.LastArrival) > f.Timeout
		entry.Mu.Unlock()
		if stale {
			entry.Clear()
			if f.DB.Names.RemoveByID(id) == -1 {
				log.Printf("collector: programming flow error: id=%d not found in name registry during forgetting", id)
			} else {
				log.Printf("collector: timetoforget, client removed. id=%d", id)
			}
		}
	}
}

// AlarmSilencer is the only component that clears aged alarms (the
// statistical alarmer and the receiver only unset their own bits when
// the condition behind them is gone). Each pass it ages every entry's
// alarm state: an entry whose last alarm
// fired within Timeout keeps its bits and holds the fleet ALARMED; an
// entry past that deadline is cleared outright. When no entry remains
// live, the fleet-wide gate flips back to NORMAL.
type AlarmSilencer struct {
	DB       *collectorstate.DB
	Status   *collectorstate.AlarmStatus
	Interval time.Duration
	Timeout  time.Duration
	Debug    int
}

func (a *AlarmSilencer) Run(done <-chan struct{}) {
	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			a.scanOnce()
		}
	}
}

func (a *AlarmSilencer) scanOnce() {
	someAlarm := false
	for id, entry := range a.DB.Entries {
		entry.Mu.Lock()
		if entry.LastArrival.IsZero() {
			entry.Mu.Unlock()
			continue
		}
		deadline := time.Now().Add(-a.Timeout)
		if entry.LastAlarmTime.After(deadline) {
			someAlarm = true
			entry.Mu.Unlock()
			continue
		}
		if a.Debug > 1 && entry.Alarm != collectorstate.AlarmNone {
			log.Printf("collector: alarm status cleared for id=%d", id)
		}
		entry.AlarmClear()
		entry.Mu.Unlock()
	}
	a.Status.TryClearGlobal(someAlarm)
}

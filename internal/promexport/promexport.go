// Package promexport exposes the collector's aggregate state as
// Prometheus metrics. It implements a custom prometheus.Collector
// that derives every value from the live status database at scrape
// time, so there is no shadow set of counters to drift out of sync
// with what the reporters print.
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/andrewsitengineering/fslatency/internal/collector"
	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
)

// sample is one scrape-time reading of everything the suppliers below
// may need.
type sample struct {
	used  int
	tally collector.AlarmTally
	stat  collectorstate.StatNumbers
}

type info struct {
	description *prometheus.Desc
	supplier    func(s sample) prometheus.Metric
}

// Exporter is a prometheus.Collector over a status database.
type Exporter struct {
	db    *collectorstate.DB
	stat  *collectorstate.GlobalStat
	infos []info
}

// New builds an Exporter reading db and stat at every scrape.
func New(db *collectorstate.DB, stat *collectorstate.GlobalStat) *Exporter {
	e := &Exporter{db: db, stat: stat}
	e.addMetrics()
	return e
}

func gaugeInfo(name, help string, value func(s sample) float64) info {
	desc := prometheus.NewDesc(name, help, nil, nil)
	return info{
		description: desc,
		supplier: func(s sample) prometheus.Metric {
			return prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value(s))
		},
	}
}

func (e *Exporter) addMetrics() {
	e.infos = []info{
		gaugeInfo("fslatency_clients", "Clients currently tracked in the name registry.",
			func(s sample) float64 { return float64(s.used) }),
		gaugeInfo("fslatency_alarmed_clients", "Clients carrying at least one live alarm bit.",
			func(s sample) float64 { return float64(s.tally.Alarmed) }),
		gaugeInfo("fslatency_latency_low_clients", "Clients with the statistical low-latency alarm set.",
			func(s sample) float64 { return float64(s.tally.StatLow) }),
		gaugeInfo("fslatency_latency_high_clients", "Clients with the statistical high-latency alarm set.",
			func(s sample) float64 { return float64(s.tally.StatHigh) }),
		gaugeInfo("fslatency_stuck_clients", "Clients whose newest datablock carried no measurements.",
			func(s sample) float64 { return float64(s.tally.Empty) }),
		gaugeInfo("fslatency_lost_clients", "Clients past the UDP arrival timeout.",
			func(s sample) float64 { return float64(s.tally.UDPTimeout) }),
		gaugeInfo("fslatency_ln_latency_datapoints", "Samples folded into the fleet-wide aggregate.",
			func(s sample) float64 { return float64(s.stat.SumN) }),
		gaugeInfo("fslatency_ln_latency_min", "Fleet-wide minimum of ln(latency in ms).",
			func(s sample) float64 { return s.stat.MinX }),
		gaugeInfo("fslatency_ln_latency_max", "Fleet-wide maximum of ln(latency in ms).",
			func(s sample) float64 { return s.stat.MaxX }),
		gaugeInfo("fslatency_ln_latency_mean", "Fleet-wide mean of ln(latency in ms).",
			func(s sample) float64 { return s.stat.Mean }),
		gaugeInfo("fslatency_ln_latency_std", "Fleet-wide standard deviation of ln(latency in ms).",
			func(s sample) float64 { return s.stat.Std }),
	}
}

func (e *Exporter) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range e.infos {
		descs <- info.description
	}
}

func (e *Exporter) Collect(metrics chan<- prometheus.Metric) {
	s := sample{
		used:  e.db.Names.Used(),
		tally: collector.TallyAlarms(e.db),
		stat:  e.stat.Snapshot(),
	}
	for _, info := range e.infos {
		metrics <- info.supplier(s)
	}
}

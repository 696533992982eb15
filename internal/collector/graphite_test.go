package collector

import (
	"bytes"
	"strings"
	"testing"

	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
	"github.com/andrewsitengineering/fslatency/internal/wire"
)

func TestGraphiteReporterWritesFallbackLines(t *testing.T) {
	db := newTestDB(t)
	stat := &collectorstate.GlobalStat{}
	stat.Set(collectorstate.StatNumbers{MinX: 1, MaxX: 5, Mean: 3, Std: 1, SumN: 10})
	addClient(t, db, "host", wire.Datablock{MeasurementCount: 5, Min: 1, Max: 2})

	var out bytes.Buffer
	g := &GraphiteReporter{DB: db, Stat: stat, Base: "fslatency.test", Out: &out}
	g.reportOnce()

	got := out.String()
	for _, metric := range []string{
		"fslatency.test.totalclients",
		"fslatency.test.alarmedclients",
		"fslatency.test.latencylow",
		"fslatency.test.latencyhigh",
		"fslatency.test.stuckedclients",
		"fslatency.test.lostclients",
		"fslatency.test.ln_latency.datapoints",
		"fslatency.test.ln_latency.min",
		"fslatency.test.ln_latency.max",
		"fslatency.test.ln_latency.mean",
		"fslatency.test.ln_latency.std",
	} {
		if !strings.Contains(got, metric) {
			t.Errorf("expected output to contain metric line %q, got:\n%s", metric, got)
		}
	}
}

package collector

import (
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
)

// GraphiteReporter emits the fleet's current counters and latency
// aggregate as Graphite plaintext protocol lines, once a minute. When
// no Graphite endpoint is configured it writes to Out instead, which
// is handy for debugging without a running carbon daemon.
type GraphiteReporter struct {
	DB       *collectorstate.DB
	Stat     *collectorstate.GlobalStat
	Base     string
	Addr     string // host:port; empty means use Out instead of dialing
	Out      io.Writer
	Interval time.Duration
}

func (g *GraphiteReporter) Run(done <-chan struct{}) {
	if g.Interval <= 0 {
		g.Interval = 60 * time.Second
	}
	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			g.reportOnce()
		}
	}
}

func (g *GraphiteReporter) reportOnce() {
	w := g.Out
	if g.Addr != "" {
		conn, err := net.DialTimeout("tcp", g.Addr, 5*time.Second)
		if err != nil {
			log.Printf("collector: graphite: dial %s: %v", g.Addr, err)
			return
		}
		defer conn.Close()
		w = conn
	}

	now := time.Now().Unix()
	tally := TallyAlarms(g.DB)
	stat := g.Stat.Snapshot()

	line := func(metric string, value float64) {
		fmt.Fprintf(w, "%s.%s %v %d\n", g.Base, metric, value, now)
	}
	line("totalclients", float64(g.DB.Names.Used()))
	line("alarmedclients", float64(tally.Alarmed))
	line("latencylow", float64(tally.StatLow))
	line("latencyhigh", float64(tally.StatHigh))
	line("stuckedclients", float64(tally.Empty))
	line("lostclients", float64(tally.UDPTimeout))
	line("ln_latency.datapoints", float64(stat.SumN))
	line("ln_latency.min", stat.MinX)
	line("ln_latency.max", stat.MaxX)
	line("ln_latency.mean", stat.Mean)
	line("ln_latency.std", stat.Std)
}

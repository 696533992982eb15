package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andrewsitengineering/fslatency/internal/adminapi"
	"github.com/andrewsitengineering/fslatency/internal/checkpoint"
	"github.com/andrewsitengineering/fslatency/internal/collector"
	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
	"github.com/andrewsitengineering/fslatency/internal/config"
	"github.com/andrewsitengineering/fslatency/internal/misc"
	"github.com/andrewsitengineering/fslatency/internal/promexport"
)

const (
	scanInterval        = time.Second
	graphiteInterval    = 60 * time.Second
	adminShutdownWindow = 5 * time.Second
)

func main() {
	c, err := config.ParseCollector(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	db, err := collectorstate.NewDB(c.MaxClient, c.RollingWindow)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	if err := run(c, db); err != nil {
		log.Println("collector:", err)
		os.Exit(1)
	}
	log.Println("collector: gracefully stopped")
}

func run(c *config.Collector, db *collectorstate.DB) error {
	log.Println("collector: starting...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cp := checkpoint.New(ctx, db,
		checkpoint.WithFile(c.CheckpointFile),
		checkpoint.WithInterval(c.CheckpointInterval),
		checkpoint.WithRestoreOnStart(c.CheckpointRestore),
	)
	defer cp.Close()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(c.Bind), Port: c.Port})
	if err != nil {
		return fmt.Errorf("udp bind: %w", err)
	}
	defer conn.Close()
	log.Printf("collector: listening on %s", conn.LocalAddr())

	if !c.NoMemlock {
		if err := misc.LockMemory(); err != nil {
			log.Println("collector: cannot lock memory:", err)
		}
	}

	status := collectorstate.NewAlarmStatus()
	stat := &collectorstate.GlobalStat{}
	done := ctx.Done()

	alarmer := &collector.StatisticalAlarmer{
		DB: db, Stat: stat, Status: status,
		Interval:                scanInterval,
		ThresholdFactor:         c.LatencyThresholdFactor,
		MinimumMeasurementCount: uint64(c.MinimumMeasurementCount),
		Debug:                   c.Debug,
	}
	go alarmer.Run(done)

	go (&collector.UDPTimeoutScanner{DB: db, Status: status, Interval: scanInterval, Timeout: c.UDPTimeout}).Run(done)
	go (&collector.TimeToForgetScanner{DB: db, Interval: scanInterval, Timeout: c.TimeToForget}).Run(done)
	go (&collector.AlarmSilencer{DB: db, Status: status, Interval: scanInterval, Timeout: c.AlarmTimeout, Debug: c.Debug}).Run(done)

	go (&collector.NormalStatusReporter{DB: db, Stat: stat, Status: status, Out: os.Stdout, Interval: c.StatusPeriod}).Run(done)
	go (&collector.AlarmStatusReporter{DB: db, Stat: stat, Status: status, Out: os.Stdout, Interval: c.AlarmStatusPeriod}).Run(done)

	if c.GraphiteBase != "" {
		addr := ""
		if c.GraphiteIP != "" {
			addr = net.JoinHostPort(c.GraphiteIP, strconv.Itoa(c.GraphitePort))
		}
		go (&collector.GraphiteReporter{
			DB: db, Stat: stat,
			Base: c.GraphiteBase, Addr: addr,
			Out: os.Stdout, Interval: graphiteInterval,
		}).Run(done)
	}

	if c.AdminAddr != "" {
		runAdminServer(ctx, c.AdminAddr, db, stat)
	}

	termSignal := make(chan os.Signal, 1)
	signal.Notify(termSignal, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		sig := <-termSignal
		log.Println("collector: finishing, reason:", sig.String())
		cancel()
	}()

	receiver := &collector.Receiver{Conn: conn, DB: db, Status: status, Debug: c.Debug}
	return receiver.Serve(ctx)
}

func runAdminServer(ctx context.Context, addr string, db *collectorstate.DB, stat *collectorstate.GlobalStat) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(promexport.New(db, stat))

	api := &adminapi.Server{
		DB:      db,
		Stat:    stat,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	srv := &http.Server{Addr: addr, Handler: api.Router()}

	go func() {
		log.Println("collector: admin api on", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Println("collector: admin api:", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), adminShutdownWindow)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Println("collector: admin api shutdown:", err)
		}
	}()
}

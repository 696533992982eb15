// Package config defines the flag- and environment-driven
// configuration for both binaries: command-line flags take
// precedence, falling back to an environment variable, falling back
// to a hardcoded default.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/misc"
)

// Agent holds the fslatency agent's configuration.
type Agent struct {
	ServerIP   string
	ServerPort int
	Text       string
	File       string
	Hostname   string
	NoCheckFS  bool
	NoMemlock  bool
	Debug      bool
}

// ParseAgent parses os.Args[1:] into an Agent config, applying
// environment overrides for unset flags before hardcoded defaults.
func ParseAgent(args []string) (*Agent, error) {
	fs := flag.NewFlagSet("fslatency", flag.ContinueOnError)
	hostname, _ := os.Hostname()

	c := &Agent{}
	fs.StringVar(&c.ServerIP, "serverip", misc.GetEnvStr("FSLATENCY_SERVERIP", ""), "collector IPv4 address (required)")
	fs.IntVar(&c.ServerPort, "serverport", misc.GetEnvInt("FSLATENCY_SERVERPORT", 57005), "collector UDP port")
	fs.StringVar(&c.Text, "text", misc.GetEnvStr("FSLATENCY_TEXT", ""), "free-form identity suffix, truncated to 64 bytes")
	fs.StringVar(&c.File, "file", misc.GetEnvStr("FSLATENCY_FILE", ""), "probe file path on the filesystem to measure (required)")
	fs.StringVar(&c.Hostname, "hostname", misc.GetEnvStr("FSLATENCY_HOSTNAME", hostname), "identity hostname reported to the collector")
	fs.BoolVar(&c.NoCheckFS, "nocheckfs", misc.GetEnvBool("FSLATENCY_NOCHECKFS", false), "skip the local-filesystem-type check")
	fs.BoolVar(&c.NoMemlock, "nomemlock", misc.GetEnvBool("FSLATENCY_NOMEMLOCK", false), "skip mlockall after startup")
	fs.BoolVar(&c.Debug, "debug", misc.GetEnvBool("FSLATENCY_DEBUG", false), "verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if c.ServerIP == "" {
		return nil, errors.New("config: --serverip is required")
	}
	if c.File == "" {
		return nil, errors.New("config: --file is required")
	}
	if len(c.Text) > 64 {
		c.Text = c.Text[:64]
	}
	return c, nil
}

// Collector holds the fslatency collector's configuration.
type Collector struct {
	Bind                    string
	Port                    int
	MaxClient               int
	TimeToForget            time.Duration
	UDPTimeout              time.Duration
	AlarmTimeout            time.Duration
	StatusPeriod            time.Duration
	AlarmStatusPeriod       time.Duration
	LatencyThresholdFactor  float64
	RollingWindow           int
	MinimumMeasurementCount int
	GraphiteBase            string
	GraphiteIP              string
	GraphitePort            int
	NoMemlock               bool
	Debug                   int

	AdminAddr          string
	CheckpointFile     string
	CheckpointInterval time.Duration
	CheckpointRestore  bool
}

// ParseCollector parses os.Args[1:] into a Collector config.
func ParseCollector(args []string) (*Collector, error) {
	fs := flag.NewFlagSet("fslatency_collector", flag.ContinueOnError)
	c := &Collector{}

	fs.StringVar(&c.Bind, "bind", misc.GetEnvStr("FSLATENCY_BIND", "0.0.0.0"), "UDP bind address")
	fs.IntVar(&c.Port, "port", misc.GetEnvInt("FSLATENCY_PORT", 57005), "UDP listen port")
	fs.IntVar(&c.MaxClient, "maxclient", misc.GetEnvInt("FSLATENCY_MAXCLIENT", 509), "maximum tracked clients")
	fs.DurationVar(&c.TimeToForget, "timetoforget", misc.GetEnvSeconds("FSLATENCY_TIMETOFORGET", 600*time.Second), "how long a silent client is tracked before being forgotten")
	fs.DurationVar(&c.UDPTimeout, "udptimeout", misc.GetEnvSeconds("FSLATENCY_UDPTIMEOUT", 3*time.Second), "how long without a datagram before a client is marked UDP-timed-out")
	fs.DurationVar(&c.AlarmTimeout, "alarmtimeout", misc.GetEnvSeconds("FSLATENCY_ALARMTIMEOUT", 8*time.Second), "how long an alarm is held after its last trigger")
	fs.DurationVar(&c.StatusPeriod, "statusperiod", misc.GetEnvSeconds("FSLATENCY_STATUSPERIOD", 300*time.Second), "normal-status report interval")
	fs.DurationVar(&c.AlarmStatusPeriod, "alarmstatusperiod", misc.GetEnvSeconds("FSLATENCY_ALARMSTATUSPERIOD", 1*time.Second), "alarm-status report interval")
	fs.Float64Var(&c.LatencyThresholdFactor, "latencythresholdfactor", misc.GetEnvFloat("FSLATENCY_LATENCYTHRESHOLDFACTOR", 15.0), "std-deviation multiple past which a latency sample alarms")
	fs.IntVar(&c.RollingWindow, "rollingwindow", misc.GetEnvInt("FSLATENCY_ROLLINGWINDOW", 60), "number of datablocks kept per client")
	fs.IntVar(&c.MinimumMeasurementCount, "minimummeasurementcount", misc.GetEnvInt("FSLATENCY_MINIMUMMEASUREMENTCOUNT", 60), "minimum samples in the rolling window before statistical alarms are evaluated")
	fs.StringVar(&c.GraphiteBase, "graphitebase", misc.GetEnvStr("FSLATENCY_GRAPHITEBASE", ""), "Graphite metric path prefix; empty disables the reporter")
	fs.StringVar(&c.GraphiteIP, "graphiteip", misc.GetEnvStr("FSLATENCY_GRAPHITEIP", ""), "Graphite carbon-plaintext endpoint; empty writes to stdout")
	fs.IntVar(&c.GraphitePort, "graphiteport", misc.GetEnvInt("FSLATENCY_GRAPHITEPORT", 2003), "Graphite carbon-plaintext port")
	fs.BoolVar(&c.NoMemlock, "nomemlock", misc.GetEnvBool("FSLATENCY_NOMEMLOCK", false), "skip mlockall after startup")
	fs.IntVar(&c.Debug, "debug", misc.GetEnvInt("FSLATENCY_DEBUG", 0), "verbosity level (0-3)")

	fs.StringVar(&c.AdminAddr, "admin-addr", misc.GetEnvStr("FSLATENCY_ADMIN_ADDR", ""), "read-only admin HTTP listen address; empty disables it")
	fs.StringVar(&c.CheckpointFile, "checkpoint-file", misc.GetEnvStr("FSLATENCY_CHECKPOINT_FILE", ""), "path for periodic state checkpoints")
	fs.DurationVar(&c.CheckpointInterval, "checkpoint-interval", misc.GetEnvSeconds("FSLATENCY_CHECKPOINT_INTERVAL", 0), "checkpoint write interval; 0 disables")
	fs.BoolVar(&c.CheckpointRestore, "checkpoint-restore", misc.GetEnvBool("FSLATENCY_CHECKPOINT_RESTORE", false), "restore state from checkpoint-file on startup")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate enforces the cross-field constraints the scanners and
// alarm math rely on.
func (c *Collector) Validate() error {
	if c.Port == 0 {
		return errors.New("config: invalid port number")
	}
	if c.MaxClient == 0 {
		return errors.New("config: invalid maxclient number")
	}
	if c.TimeToForget < 3*time.Second || c.UDPTimeout >= c.TimeToForget {
		return errors.New("config: invalid timetoforget (min 3s and must be greater than udptimeout)")
	}
	if c.UDPTimeout < 2*time.Second {
		return errors.New("config: invalid udptimeout (min 2s)")
	}
	if c.AlarmTimeout == 0 {
		return errors.New("config: invalid alarmtimeout")
	}
	if c.StatusPeriod == 0 {
		return errors.New("config: invalid statusperiod")
	}
	if c.AlarmStatusPeriod == 0 {
		return errors.New("config: invalid alarmstatusperiod")
	}
	if c.LatencyThresholdFactor <= 0.0 {
		return errors.New("config: invalid latencythresholdfactor (must be positive)")
	}
	if c.RollingWindow < 8 {
		return errors.New("config: invalid rollingwindow (min 8)")
	}
	if (c.RollingWindow-1)*9 < c.MinimumMeasurementCount {
		return errors.New("config: minimummeasurementcount is too high or rollingwindow is too low")
	}
	if c.GraphiteBase != "" && c.GraphiteIP == "" {
		fmt.Fprintln(os.Stderr, "Warning: you should specify --graphiteip; printing Graphite metrics to stdout.")
	}
	if c.GraphiteBase == "" && c.GraphiteIP != "" {
		fmt.Fprintln(os.Stderr, "Warning: --graphiteip has no effect without --graphitebase.")
	}
	return nil
}

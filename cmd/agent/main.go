package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrewsitengineering/fslatency/internal/agent"
	"github.com/andrewsitengineering/fslatency/internal/config"
	"github.com/andrewsitengineering/fslatency/internal/misc"
	"github.com/andrewsitengineering/fslatency/internal/ringbuffer"
)

// probeBufferLen holds several seconds of 100ms probe entries between
// publisher folds, so a delayed fold never drops samples.
const probeBufferLen = 64

func main() {
	c, err := config.ParseAgent(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
	if c.Hostname == "" {
		fmt.Fprintln(os.Stderr, "Error: cannot determine local hostname")
		os.Exit(3)
	}
	run(c)
}

func run(c *config.Agent) {
	log.Println("agent: starting...")

	file, err := agent.OpenProbeFile(c.File)
	if err != nil {
		log.Println("agent:", err)
		os.Exit(1)
	}
	defer file.Close()

	if !c.NoCheckFS {
		if err := agent.CheckLocalFilesystem(file); err != nil {
			log.Println("agent:", err)
			os.Exit(2)
		}
	}

	if !c.NoMemlock {
		if err := misc.LockMemory(); err != nil {
			log.Println("agent: cannot lock memory:", err)
		}
	}

	serverIP := net.ParseIP(c.ServerIP)
	if serverIP == nil {
		fmt.Fprintln(os.Stderr, "Error: invalid --serverip address")
		os.Exit(2)
	}
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: serverIP, Port: c.ServerPort})
	if err != nil {
		log.Println("agent: udp socket:", err)
		os.Exit(1)
	}
	defer conn.Close()

	scope := agent.NewScope()
	buffer := ringbuffer.New[agent.Entry](probeBufferLen, true)
	prober := &agent.Prober{File: file, Buffer: buffer, Scope: scope}
	publisher := agent.NewPublisher(conn, buffer, c.Hostname, c.Text, time.Nanosecond, c.Debug, scope)

	termSignal := make(chan os.Signal, 1)
	signal.Notify(termSignal, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	done := make(chan struct{})
	go publisher.Run(done)

	probeErr := make(chan error, 1)
	go func() {
		probeErr <- prober.Run(done)
	}()

	select {
	case sig := <-termSignal:
		close(done)
		if c.Debug {
			scope.LogSnapshot()
		}
		log.Println("agent: finished, reason:", sig.String())
	case err := <-probeErr:
		close(done)
		if c.Debug {
			scope.LogSnapshot()
		}
		if err != nil {
			log.Println("agent:", err)
			os.Exit(2)
		}
	}
}

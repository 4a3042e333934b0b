package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gufolabs/gufo-ping/internal/config"
	"github.com/gufolabs/gufo-ping/internal/exporter"
	"github.com/gufolabs/gufo-ping/internal/logger"
	"github.com/gufolabs/gufo-ping/pkg/ping"
)

const appName = "gufo-ping"

func main() {
	os.Exit(run())
}

func run() int {
	config.Init()

	count := flag.Int("c", 0, "stop after `count` packets, 0 runs until interrupted")
	size := flag.Int("s", config.Size(), "ICMP payload size in bytes")
	interval := flag.Duration("i", time.Second, "interval between packets")
	timeout := flag.Duration("W", config.Timeout(), "per-packet timeout")
	ttl := flag.Int("t", 0, "time to live / hop limit, 0 keeps the OS default")
	tos := flag.Int("Q", 0, "DS field of outgoing packets")
	source := flag.String("I", "", "source address to bind")
	policyName := flag.String("policy", config.Policy().String(), "socket policy: auto, raw or dgram")
	metricsPort := flag.Uint("metrics-port", uint(config.MetricsPort()), "serve prometheus metrics on this port, 0 disables")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [options] address\n", appName)
		flag.PrintDefaults()
		return 1
	}
	address := flag.Arg(0)

	if *verbose {
		logger.SetupGlobalLoger(logger.DebugLevel, os.Stderr)
	}

	policy, err := ping.ParsePolicy(*policyName)
	if err != nil {
		log.Fatal("invalid policy: ", *policyName)
	}
	cfg := ping.Config{
		Size:     *size,
		TTL:      *ttl,
		ToS:      *tos,
		Timeout:  *timeout,
		Interval: *interval,
		Policy:   policy,
	}
	if *source != "" {
		src, err := netip.ParseAddr(*source)
		if err != nil {
			log.Fatal("invalid source address: ", *source)
		}
		cfg.SrcAddr = src
	}

	session, err := ping.New(cfg)
	if err != nil {
		log.Fatal("could not create ping session: ", err)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if *metricsPort > 0 {
		exp, err := exporter.New(uint16(*metricsPort), session)
		if err != nil {
			log.Fatal("could not create exporter: ", err)
		}
		if err := exp.Run(ctx); err != nil {
			log.Fatal("could not start exporter: ", err)
		}
	}

	var sent, received int
	g.Go(func() error {
		ch, err := session.IterRTT(ctx, address, *count)
		if err != nil {
			return err
		}
		fmt.Printf("PING %s: %d bytes\n", address, *size)
		seq := 0
		for r := range ch {
			sent++
			switch {
			case r.Valid:
				received++
				fmt.Printf("%d bytes from %s: icmp_seq=%d time=%.3fms\n",
					*size, address, seq, float64(r.RTT.Nanoseconds())/1e6)
			case r.Err != nil:
				fmt.Printf("From %s icmp_seq=%d %v\n", address, seq, r.Err)
			default:
				fmt.Printf("Request timeout for icmp_seq %d\n", seq)
			}
			seq++
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, appName+":", err)
		return 1
	}

	fmt.Printf("--- %s ping statistics ---\n", address)
	loss := 0.0
	if sent > 0 {
		loss = float64(sent-received) / float64(sent) * 100.0
	}
	fmt.Printf("%d packets transmitted, %d packets received, %.1f%% packet loss\n",
		sent, received, loss)

	if received == 0 {
		return 1
	}
	return 0
}

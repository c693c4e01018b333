package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"helios-kvm-balancer/internal/config"
	"helios-kvm-balancer/internal/daemon"
	"helios-kvm-balancer/internal/hv"
	"helios-kvm-balancer/internal/memcoord"
	"helios-kvm-balancer/internal/stream"
)

func main() {
	cycle, err := config.ParseCycleArg(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage:  %s <time interval>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        where <time interval> = time, in seconds, between cycles.\n")
		os.Exit(daemon.ExitUsage)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := daemon.BuildLogger(cfg)
	conn := hv.NewConnManager(cfg.LibvirtURI, cfg.ConnRetryWait, cfg.ConnMaxJitter, cfg.ConnAttempts, logger)
	host := hv.NewLibvirtHost(conn, logger)

	sink, err := stream.NewSinkFromConfig(cfg, logger)
	if err != nil {
		logger.Error("report sink setup failed", "error", err)
		os.Exit(1)
	}

	coordinator := memcoord.NewCoordinator(host, cfg, sink, logger)
	runner := daemon.NewRunner(cfg, cycle, conn, coordinator, daemon.NewHealthStatus(), logger)

	runErr := runner.Run(context.Background())
	_ = sink.Close(context.Background())
	if runErr != nil {
		logger.Error("memory coordinator failed",
			"category", daemon.CategoryOf(runErr).String(),
			"error", runErr,
		)
		os.Exit(daemon.ExitCode(runErr))
	}
}

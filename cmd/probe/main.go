package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"serial-telemetry/internal/config"
	"serial-telemetry/internal/metrics"
	"serial-telemetry/internal/probe"
	"serial-telemetry/internal/tasks"
)

func main() {
	var cfgPath, fallbacks string
	var baud int
	var verbose bool
	flag.StringVar(&cfgPath, "config", "", "path to YAML config (defaults apply when empty)")
	flag.IntVar(&baud, "baud", 0, "baud rate override")
	flag.StringVar(&fallbacks, "fallbacks", "", "comma-separated fallback ports, lowest priority last")
	flag.BoolVar(&verbose, "v", false, "print every probe result")
	flag.Parse()

	cfg, err := tasks.LoadConfig(tasks.Options{ConfigPath: cfgPath, BaudRate: baud})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if fallbacks != "" {
		cfg.Probe.FallbackPorts = strings.Split(fallbacks, ",")
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p := tasks.NewProber(cfg, metrics.Nop{}, logger)
	if verbose {
		p.OnResult = func(r probe.Result) {
			switch {
			case r.Err != nil:
				fmt.Fprintf(os.Stderr, "%-20s error: %v\n", r.Port, r.Err)
			case r.Responded:
				fmt.Fprintf(os.Stderr, "%-20s responded\n", r.Port)
			default:
				fmt.Fprintf(os.Stderr, "%-20s silent\n", r.Port)
			}
		}
	}

	port, ok := p.Discover(ctx)
	if !ok {
		fmt.Fprintln(os.Stderr, "no device found")
		os.Exit(1)
	}
	fmt.Println(port)
}

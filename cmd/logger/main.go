package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"serial-telemetry/pkg/collector"
)

func main() {
	var opts collector.Options
	var console, noStorage bool
	flag.StringVar(&opts.ConfigPath, "config", "", "path to YAML config (defaults apply when empty)")
	flag.StringVar(&opts.Port, "port", "", "serial port; skips auto-detection")
	flag.StringVar(&opts.Driver, "driver", "", "serial driver: bugst, goburrow or file")
	flag.IntVar(&opts.BaudRate, "baud", 0, "baud rate override")
	flag.StringVar(&opts.StorageDir, "out", "", "storage directory; enables storage")
	flag.StringVar(&opts.FileType, "type", "", "storage file type: csv, json, db or combinations like json+csv")
	flag.StringVar(&opts.Mode, "mode", "", "storage mode: append, overwrite or rotate")
	flag.BoolVar(&noStorage, "no-storage", false, "disable persistence")
	flag.StringVar(&opts.LiveAddr, "live", "", "serve the live API and websocket on this address")
	flag.StringVar(&opts.MetricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	flag.StringVar(&opts.LogLevel, "log-level", "", "log level override")
	flag.BoolVar(&console, "console", true, "print samples to stdout and read commands from stdin")
	flag.Parse()

	opts.StorageDisabled = noStorage
	if console {
		opts.Out = os.Stdout
		opts.In = os.Stdin
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Printf("received signal: %v, shutting down...", s)
		cancel()
	}()

	if err := collector.Run(ctx, opts); err != nil {
		log.Fatalf("logger exited with error: %v", err)
	}
}

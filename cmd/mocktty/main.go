package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"serial-telemetry/internal/mock"
	"serial-telemetry/internal/transport"
)

type RootConfig struct {
	Devices []DeviceConfig `yaml:"devices"`
}

type DeviceConfig struct {
	Name       string `yaml:"name"`
	SerialPort string `yaml:"serial_port"`
	Driver     string `yaml:"driver"` // goburrow (default) | bugst | file
	BaudRate   int    `yaml:"baud_rate"`
	DataBits   int    `yaml:"data_bits"`
	StopBits   int    `yaml:"stop_bits"`
	Parity     string `yaml:"parity"`

	Serial         int           `yaml:"serial"`
	Channels       int           `yaml:"channels"`
	UpdateInterval time.Duration `yaml:"update_interval"`
	AbsentRate     float64       `yaml:"absent_rate"`
	BatteryAfter   int           `yaml:"battery_after"` // lines before the reset sentinel; 0 never
	ResetDelay     time.Duration `yaml:"reset_delay"`   // pause after a reset before streaming again

	// Optional: create a virtual serial pair via socat (Unix-like systems)
	SpawnSocat bool   `yaml:"spawn_socat"`
	SocatLink  string `yaml:"socat_link"` // end used by the mock, e.g. /tmp/vtelemetry0
	SocatPeer  string `yaml:"socat_peer"` // end handed to the logger, e.g. /tmp/vtelemetry1
}

func loadConfig(path string) (RootConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RootConfig{}, err
	}
	var cfg RootConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return RootConfig{}, err
	}
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.Driver == "" {
			d.Driver = transport.DriverGoburrow
		}
		if d.UpdateInterval <= 0 {
			d.UpdateInterval = 100 * time.Millisecond
		}
		if d.ResetDelay <= 0 {
			d.ResetDelay = 2 * time.Second
		}
	}
	return cfg, nil
}

func spawnSocat(ctx context.Context, dc *DeviceConfig) (*exec.Cmd, error) {
	link := dc.SocatLink
	if link == "" {
		link = dc.SerialPort
	}
	if link == "" || dc.SocatPeer == "" {
		return nil, fmt.Errorf("spawn_socat requires socat_link (or serial_port) and socat_peer")
	}
	cmd := transport.BuildSocatPairCmd(ctx, transport.SocatPair{Link: link, Peer: dc.SocatPeer})
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start socat: %w", err)
	}
	log.Printf("mocktty: spawned socat pair link=%s peer=%s (pid=%d)", link, dc.SocatPeer, cmd.Process.Pid)
	// Wait a moment for the pty links to appear
	time.Sleep(400 * time.Millisecond)
	if dc.SerialPort == "" {
		dc.SerialPort = link
	}
	return cmd, nil
}

func stopSocat(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
	}
}

func runDevice(ctx context.Context, dc DeviceConfig, logger *zap.SugaredLogger) error {
	var socat *exec.Cmd
	if dc.SpawnSocat {
		var err error
		if socat, err = spawnSocat(ctx, &dc); err != nil {
			return err
		}
		defer stopSocat(socat)
	}

	port, err := transport.OpenSerial(transport.SerialParams{
		Address:  dc.SerialPort,
		Driver:   dc.Driver,
		BaudRate: dc.BaudRate,
		DataBits: dc.DataBits,
		StopBits: dc.StopBits,
		Parity:   dc.Parity,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("%s: open %s: %w", dc.Name, dc.SerialPort, err)
	}
	defer port.Close()

	log.Printf("mocktty: %s streaming on %s serial=%d channels=%d interval=%s",
		dc.Name, dc.SerialPort, dc.Serial, dc.Channels, dc.UpdateInterval)

	for ctx.Err() == nil {
		dev := &mock.Device{
			Serial:       dc.Serial,
			Channels:     dc.Channels,
			Interval:     dc.UpdateInterval,
			AbsentRate:   dc.AbsentRate,
			BatteryAfter: dc.BatteryAfter,
			Log:          logger.With("device", dc.Name),
		}
		if err := dev.Run(ctx, port); err != nil {
			return fmt.Errorf("%s: %w", dc.Name, err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(dc.ResetDelay):
			log.Printf("mocktty: %s restarted after reset", dc.Name)
		}
	}
	return nil
}

func runAll(ctx context.Context, cfg RootConfig, logger *zap.SugaredLogger) error {
	var wg sync.WaitGroup
	for _, dc := range cfg.Devices {
		if dc.SerialPort == "" && !dc.SpawnSocat {
			continue
		}
		wg.Add(1)
		go func(d DeviceConfig) {
			defer wg.Done()
			if err := runDevice(ctx, d, logger); err != nil {
				log.Printf("mocktty: %v", err)
			}
		}(dc)
	}
	wg.Wait()
	return nil
}

func main() {
	var cfgPath string
	var verbose bool
	flag.StringVar(&cfgPath, "config", "config/mocktty.yaml", "path to mocktty YAML config")
	flag.BoolVar(&verbose, "v", false, "log received commands")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if len(cfg.Devices) == 0 {
		log.Fatalf("config has no devices")
	}

	logger := zap.NewNop()
	if verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatalf("init logger: %v", err)
		}
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := runAll(ctx, cfg, logger.Sugar()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

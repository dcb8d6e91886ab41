package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors config/config.yaml.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Probe       ProbeConfig       `yaml:"probe"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Storage     StorageConfig     `yaml:"storage"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Live        LiveConfig        `yaml:"live"`
}

type SerialConfig struct {
	// Port skips discovery when set.
	Port     string        `yaml:"port"`
	Driver   string        `yaml:"driver"` // bugst | goburrow | file
	BaudRate int           `yaml:"baud_rate"`
	DataBits int           `yaml:"data_bits"`
	StopBits int           `yaml:"stop_bits"`
	Parity   string        `yaml:"parity"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ProbeConfig struct {
	Query         string        `yaml:"query"`
	ReadBudget    int           `yaml:"read_budget"`
	Timeout       time.Duration `yaml:"timeout"`
	FallbackPorts []string      `yaml:"fallback_ports"`
}

type AcquisitionConfig struct {
	Channels       int           `yaml:"channels"`
	TempCapacity   int           `yaml:"temp_capacity"`
	BufferCapacity int           `yaml:"buffer_capacity"`
	LiveCapacity   int           `yaml:"live_capacity"`
	MaxPending     int           `yaml:"max_pending"`
	Yield          time.Duration `yaml:"yield"`
	Sentinel       string        `yaml:"sentinel"`
	AbsentMarker   string        `yaml:"absent_marker"`
	AutoRestart    bool          `yaml:"auto_restart"`
	RestartDelay   time.Duration `yaml:"restart_delay"`
	MaxRestarts    int           `yaml:"max_restarts"`
}

type StorageConfig struct {
	Enabled  bool   `yaml:"enabled"`
	FileType string `yaml:"file_type"` // csv | json | db | json+csv | csv+db | json+db | all
	Dir      string `yaml:"dir"`
	FileName string `yaml:"file_name"`
	Mode     string `yaml:"mode"` // append | overwrite | rotate
	DBPath   string `yaml:"db_path"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	// Addr serves /metrics on its own listener when set.
	Addr string `yaml:"addr"`
}

type LiveConfig struct {
	// Addr enables the HTTP/websocket live server when set.
	Addr    string        `yaml:"addr"`
	Refresh time.Duration `yaml:"refresh"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.Storage.Enabled = true
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config, applies defaults and validates it.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	cfg := Config{Storage: StorageConfig{Enabled: true}}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.Driver == "" {
		c.Serial.Driver = "bugst"
	}
	if c.Serial.BaudRate <= 0 {
		c.Serial.BaudRate = 38400
	}
	if c.Serial.DataBits <= 0 {
		c.Serial.DataBits = 8
	}
	if c.Serial.StopBits <= 0 {
		c.Serial.StopBits = 1
	}
	if c.Serial.Parity == "" {
		c.Serial.Parity = "N"
	}
	if c.Serial.Timeout <= 0 {
		c.Serial.Timeout = time.Second
	}

	if c.Probe.Query == "" {
		c.Probe.Query = "\r\n"
	}
	if c.Probe.ReadBudget <= 0 {
		c.Probe.ReadBudget = 100
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = 2 * time.Second
	}
	if c.Probe.FallbackPorts == nil {
		c.Probe.FallbackPorts = []string{"COM3", "COM1"}
	}

	a := &c.Acquisition
	if a.Channels <= 0 {
		a.Channels = 4
	}
	if a.TempCapacity <= 0 {
		a.TempCapacity = 50
	}
	if a.BufferCapacity <= 0 {
		a.BufferCapacity = 200
	}
	if a.LiveCapacity <= 0 {
		a.LiveCapacity = 2100
	}
	if a.MaxPending <= 0 {
		a.MaxPending = 5 * a.BufferCapacity
	}
	if a.Yield <= 0 {
		a.Yield = 10 * time.Millisecond
	}
	if a.Sentinel == "" {
		a.Sentinel = "battery"
	}
	if a.AbsentMarker == "" {
		a.AbsentMarker = "_"
	}
	if a.RestartDelay <= 0 {
		a.RestartDelay = 2 * time.Second
	}

	if c.Storage.FileType == "" {
		c.Storage.FileType = "csv"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data"
	}
	if c.Storage.FileName == "" {
		c.Storage.FileName = "telemetry"
	}
	if c.Storage.Mode == "" {
		c.Storage.Mode = "append"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Live.Refresh <= 0 {
		c.Live.Refresh = 100 * time.Millisecond
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Serial.Driver) {
	case "bugst", "goburrow", "file":
	default:
		errs = append(errs, fmt.Errorf("serial.driver %q not supported", c.Serial.Driver))
	}
	switch strings.ToUpper(c.Serial.Parity) {
	case "N", "E", "O", "M", "S":
	default:
		errs = append(errs, fmt.Errorf("serial.parity %q not supported", c.Serial.Parity))
	}
	if c.Serial.StopBits != 1 && c.Serial.StopBits != 2 {
		errs = append(errs, fmt.Errorf("serial.stop_bits must be 1 or 2, got %d", c.Serial.StopBits))
	}
	if c.Acquisition.MaxPending < c.Acquisition.BufferCapacity {
		errs = append(errs, fmt.Errorf("acquisition.max_pending (%d) must be at least buffer_capacity (%d)",
			c.Acquisition.MaxPending, c.Acquisition.BufferCapacity))
	}
	if c.Acquisition.MaxRestarts < 0 {
		errs = append(errs, errors.New("acquisition.max_restarts must not be negative"))
	}
	if strings.ContainsAny(c.Acquisition.AbsentMarker, " \t") {
		errs = append(errs, errors.New("acquisition.absent_marker must not contain whitespace"))
	}
	switch strings.ToLower(c.Storage.Mode) {
	case "append", "overwrite", "rotate":
	default:
		errs = append(errs, fmt.Errorf("storage.mode %q not supported (expected append, overwrite or rotate)", c.Storage.Mode))
	}
	return errors.Join(errs...)
}

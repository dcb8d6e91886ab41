package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 38400, cfg.Serial.BaudRate)
	assert.Equal(t, time.Second, cfg.Serial.Timeout)
	assert.Equal(t, "\r\n", cfg.Probe.Query)
	assert.Equal(t, 100, cfg.Probe.ReadBudget)
	assert.Equal(t, []string{"COM3", "COM1"}, cfg.Probe.FallbackPorts)
	assert.Equal(t, 4, cfg.Acquisition.Channels)
	assert.Equal(t, 50, cfg.Acquisition.TempCapacity)
	assert.Equal(t, 200, cfg.Acquisition.BufferCapacity)
	assert.Equal(t, 2100, cfg.Acquisition.LiveCapacity)
	assert.Equal(t, 1000, cfg.Acquisition.MaxPending)
	assert.Equal(t, 10*time.Millisecond, cfg.Acquisition.Yield)
	assert.Equal(t, "battery", cfg.Acquisition.Sentinel)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "append", cfg.Storage.Mode)
	assert.Equal(t, 100*time.Millisecond, cfg.Live.Refresh)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serial:
  port: /dev/ttyUSB0
  driver: goburrow
  baud_rate: 115200
  timeout: 250ms
probe:
  fallback_ports: [COM9]
acquisition:
  channels: 6
  buffer_capacity: 10
  auto_restart: true
  restart_delay: 5s
storage:
  enabled: false
  file_type: json+db
  mode: rotate
live:
  addr: ":8080"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, "goburrow", cfg.Serial.Driver)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.Timeout)
	assert.Equal(t, []string{"COM9"}, cfg.Probe.FallbackPorts)
	assert.Equal(t, 6, cfg.Acquisition.Channels)
	assert.Equal(t, 50, cfg.Acquisition.MaxPending)
	assert.True(t, cfg.Acquisition.AutoRestart)
	assert.Equal(t, 5*time.Second, cfg.Acquisition.RestartDelay)
	assert.False(t, cfg.Storage.Enabled)
	assert.Equal(t, "rotate", cfg.Storage.Mode)
	assert.Equal(t, ":8080", cfg.Live.Addr)
}

func TestValidate(t *testing.T) {
	_, err := Parse([]byte(`
serial:
  driver: rs485
  stop_bits: 3
acquisition:
  buffer_capacity: 100
  max_pending: 10
storage:
  mode: sometimes
`))
	require.Error(t, err)
	for _, want := range []string{"serial.driver", "serial.stop_bits", "max_pending", "storage.mode"} {
		assert.Contains(t, err.Error(), want)
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}

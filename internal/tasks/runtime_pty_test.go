//go:build linux || darwin

package tasks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRuntimeLogsSessionFromPty(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	dir := t.TempDir()
	cfg, err := LoadConfig(Options{
		Port:       slave.Name(),
		Driver:     "file",
		StorageDir: dir,
		FileType:   "csv",
	})
	require.NoError(t, err)
	cfg.Serial.Timeout = 50 * time.Millisecond
	cfg.Live.Refresh = 10 * time.Millisecond

	out := &syncBuffer{}
	rt, err := Build(cfg, Options{Out: out, Logger: zaptest.NewLogger(t).Sugar()})
	require.NoError(t, err)

	_, err = master.Write([]byte("1001 1 2 3 4\n1001 5 _ 7 8\nBattery reset\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Run(ctx), "a clean session end without auto restart stops the runtime")

	assert.Equal(t, "1001 1 2 3 4\n1001 5 None 7 8\n", out.String())

	b, err := os.ReadFile(filepath.Join(dir, "telemetry.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Serial Number,Channel 0,Channel 1,Channel 2,Channel 3",
		"1001,1,2,3,4",
		"1001,5,None,7,8",
	}, strings.Split(strings.TrimSpace(string(b)), "\n"))
}

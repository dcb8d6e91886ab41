//go:build linux || darwin

package transport

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

func openPty(t *testing.T) (*FilePort, func(string), func(int) string) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	write := func(s string) {
		_, err := master.Write([]byte(s))
		require.NoError(t, err)
	}
	read := func(n int) string {
		buf := make([]byte, n)
		got, err := master.Read(buf)
		require.NoError(t, err)
		return string(buf[:got])
	}
	return NewFilePort(slave, 50*time.Millisecond), write, read
}

func TestFilePort_ReadsLinesFromPty(t *testing.T) {
	port, write, _ := openPty(t)
	lr := NewLineReader(port)

	write("7 0.5 _ 1 2\n")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		line, ok, err := lr.ReadLine()
		require.NoError(t, err)
		if ok {
			require.Equal(t, "7 0.5 _ 1 2", line)
			return
		}
	}
	t.Fatal("timeout waiting for line from pty")
}

func TestFilePort_WritesToPty(t *testing.T) {
	port, _, read := openPty(t)

	n, err := port.Write([]byte("RATE 10"))
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, "RATE 10", read(7))
}

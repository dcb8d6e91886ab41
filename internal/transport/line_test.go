package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"serial-telemetry/internal/testutil"
)

func TestLineReader_SplitsAcrossChunks(t *testing.T) {
	port := testutil.NewPort()
	port.Feed("12 1.5 2", " 3 4\r\n13 _ 1 2 3\n")
	lr := NewLineReader(port)

	line, ok, err := lr.ReadLine()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "12 1.5 2 3 4", line)

	line, ok, err = lr.ReadLine()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "13 _ 1 2 3", line)
	require.Zero(t, lr.Buffered())
}

func TestLineReader_NoInputIsNotAnError(t *testing.T) {
	port := testutil.NewPort()
	lr := NewLineReader(port)

	line, ok, err := lr.ReadLine()
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, line)
}

func TestLineReader_KeepsPartialLineUntilTerminated(t *testing.T) {
	port := testutil.NewPort()
	port.Feed("1 2 3")
	lr := NewLineReader(port)

	_, ok, err := lr.ReadLine()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 5, lr.Buffered())

	port.Feed(" 4 5\n")
	line, ok, err := lr.ReadLine()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1 2 3 4 5", line)
}

func TestLineReader_DropsInvalidUTF8(t *testing.T) {
	port := testutil.NewPort()
	port.Feed("\xff1 2\xfe 3\n")
	lr := NewLineReader(port)

	line, ok, err := lr.ReadLine()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1 2 3", line)
}

func TestLineReader_PropagatesTransportError(t *testing.T) {
	port := testutil.NewPort()
	boom := errors.New("device unplugged")
	port.Fail(boom)
	lr := NewLineReader(port)

	_, ok, err := lr.ReadLine()
	require.ErrorIs(t, err, boom)
	require.False(t, ok)
}

func TestLineReader_OverlongLineIsSurfaced(t *testing.T) {
	port := testutil.NewPort()
	long := make([]byte, DefaultMaxLine)
	for i := range long {
		long[i] = 'a'
	}
	port.Feed(string(long))
	lr := NewLineReader(port)

	line, ok, err := lr.ReadLine()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, line, DefaultMaxLine)
	require.Zero(t, lr.Buffered())
}

func TestEnsureSerialDefaults(t *testing.T) {
	sp := SerialParams{Address: "/dev/ttyUSB0"}
	EnsureSerialDefaults(&sp)
	require.Equal(t, DriverBugst, sp.Driver)
	require.Equal(t, 38400, sp.BaudRate)
	require.Equal(t, 8, sp.DataBits)
	require.Equal(t, 1, sp.StopBits)
	require.Equal(t, "N", sp.Parity)
	require.Positive(t, sp.Timeout)
}

func TestOpenSerial_RejectsUnknownDriver(t *testing.T) {
	_, err := OpenSerial(SerialParams{Address: "/dev/null", Driver: "carrier-pigeon"})
	require.ErrorContains(t, err, "not supported")

	_, err = OpenSerial(SerialParams{})
	require.ErrorContains(t, err, "address is required")
}

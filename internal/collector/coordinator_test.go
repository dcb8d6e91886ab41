package collector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-telemetry/internal/testutil"
	"serial-telemetry/internal/transport"
)

func TestSentinelForcesPromotionAndEndsSession(t *testing.T) {
	port := testutil.NewPort()
	sink := &memSink{}
	c := newTestCoordinator(t, port, sink, nil)

	port.Feed(lines(3)...)
	port.Feed("Battery low\n", "1 2 3 4 5\n")
	require.NoError(t, c.Connect("ttyTEST"))
	require.NoError(t, c.Start())

	ev := waitEvent(t, c)
	assert.Equal(t, EventSessionEnded, ev.Kind)
	assert.Equal(t, "Battery low", ev.Line)
	assert.Equal(t, c.Session(), ev.Session)
	assert.Equal(t, StateStopped, c.State())

	st := c.Status()
	assert.Equal(t, 0, st.Buffers.Temp)
	assert.Equal(t, 3, st.Buffers.Durable)
	assert.Empty(t, sink.Batches(), "durable threshold not reached")
	assert.Len(t, c.DrainAvailable(), 3, "line after the sentinel is not read")

	require.NoError(t, c.Close())
	assert.Len(t, sink.Written(), 3)
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, "session_ended", sink.ended[ev.Session])
	require.Len(t, sink.began, 1)
	assert.Equal(t, "ttyTEST", sink.began[0].Port)
}

func TestFlushOnceWhenDurableFills(t *testing.T) {
	port := testutil.NewPort()
	sink := &memSink{}
	c := newTestCoordinator(t, port, sink, func(o *Options) {
		o.Buffers = BufferConfig{TempCapacity: 2, BufferCapacity: 4}
	})

	port.Feed(lines(4)...)
	port.Feed("BATTERY\n")
	require.NoError(t, c.Connect("ttyTEST"))
	require.NoError(t, c.Start())
	waitEvent(t, c)

	batches := sink.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 4)
	assert.Equal(t, 0, c.Status().Buffers.Durable)
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	port := testutil.NewPort()
	c := newTestCoordinator(t, port, nil, nil)

	port.Feed("hello\n", "\n", "1 2 x 4 5\n", "7 _ 2 3 4\n", "battery\n")
	require.NoError(t, c.Connect("ttyTEST"))
	require.NoError(t, c.Start())
	waitEvent(t, c)

	got := c.DrainAvailable()
	require.Len(t, got, 1)
	assert.Equal(t, 7.0, *got[0].Serial)
	assert.Nil(t, got[0].Channels[0])
	assert.Equal(t, c.Session(), got[0].Session)
	assert.False(t, got[0].Received.IsZero())
}

func TestTransportErrorStopsWithPromotion(t *testing.T) {
	port := testutil.NewPort()
	c := newTestCoordinator(t, port, &memSink{}, nil)

	port.Feed(lines(2)...)
	port.Fail(errors.New("device unplugged"))
	require.NoError(t, c.Connect("ttyTEST"))
	require.NoError(t, c.Start())

	ev := waitEvent(t, c)
	require.Equal(t, EventError, ev.Kind)
	kind, ok := KindOf(ev.Err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, kind)
	assert.ErrorContains(t, ev.Err, "device unplugged")
	assert.Equal(t, 2, c.Status().Buffers.Durable)
	assert.Equal(t, StateStopped, c.State())
}

func TestStopIsCooperative(t *testing.T) {
	port := testutil.NewPort()
	c := newTestCoordinator(t, port, nil, nil)

	require.NoError(t, c.Connect("ttyTEST"))
	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Start(), ErrAlreadyRunning)
	assert.ErrorIs(t, c.Connect("ttyOTHER"), ErrAlreadyRunning)

	c.Stop()
	assert.Equal(t, StateStopped, c.State())
	ev := waitEvent(t, c)
	assert.Equal(t, EventStopped, ev.Kind)
	assert.False(t, port.Closed())

	require.NoError(t, c.Disconnect())
	assert.True(t, port.Closed())
}

func TestEventsCarrySamplesAndOutcome(t *testing.T) {
	port := testutil.NewPort()
	c := newTestCoordinator(t, port, nil, nil)

	port.Feed("1 2 3 4 5\n", "battery\n")
	require.NoError(t, c.Connect("ttyTEST"))
	require.NoError(t, c.Start())
	waitEvent(t, c)

	var kinds []EventKind
	for len(kinds) < 2 {
		select {
		case ev := <-c.Events():
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out reading events")
		}
	}
	assert.Equal(t, []EventKind{EventSample, EventSessionEnded}, kinds)
}

func TestConnectAndStartErrors(t *testing.T) {
	c := NewCoordinator(Options{})
	assert.ErrorIs(t, c.Start(), ErrNotConnected)
	_, err := c.Send(context.Background(), "PING")
	assert.ErrorIs(t, err, ErrNotConnected)

	c = newTestCoordinator(t, testutil.NewPort(), nil, nil)
	c.opts.Open = func(transport.SerialParams) (transport.Port, error) { return nil, errors.New("busy") }
	err = c.Connect("COM9")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTransportOpen, kind)
}

func echoAck(b []byte) []byte {
	return []byte("OK " + strings.TrimSpace(string(b)) + "\r\n")
}

func TestSendWhileRunningGoesThroughWorker(t *testing.T) {
	port := testutil.NewPort()
	port.OnWrite = echoAck
	c := newTestCoordinator(t, port, nil, nil)

	require.NoError(t, c.Connect("ttyTEST"))
	require.NoError(t, c.Start())

	ack, err := c.Send(context.Background(), "RATE 10")
	require.NoError(t, err)
	assert.Equal(t, "OK RATE 10", ack)
	assert.Equal(t, "RATE 10", port.Written())
	assert.Equal(t, StateRunning, c.State())
}

func TestSendWhenIdle(t *testing.T) {
	port := testutil.NewPort()
	port.OnWrite = echoAck
	c := newTestCoordinator(t, port, nil, nil)
	require.NoError(t, c.Connect("ttyTEST"))

	ack, err := c.Send(context.Background(), "ZERO\n")
	require.NoError(t, err)
	assert.Equal(t, "OK ZERO", ack)
	assert.Equal(t, "ZERO\n", port.Written(), "no terminator is added")
}

func TestSendWithoutAck(t *testing.T) {
	port := testutil.NewPort()
	c := newTestCoordinator(t, port, nil, func(o *Options) {
		o.CommandTimeout = 20 * time.Millisecond
	})
	require.NoError(t, c.Connect("ttyTEST"))
	require.NoError(t, c.Start())

	_, err := c.Send(context.Background(), "PING")
	assert.ErrorIs(t, err, ErrNoAck)
	assert.Equal(t, StateRunning, c.State(), "a missing ack does not stop acquisition")
}

func TestResetInPlaceOfAckEndsSession(t *testing.T) {
	port := testutil.NewPort()
	port.OnWrite = func([]byte) []byte { return []byte("Battery low, resetting\n") }
	sink := &memSink{}
	c := newTestCoordinator(t, port, sink, nil)

	port.Feed(lines(2)...)
	require.NoError(t, c.Connect("ttyTEST"))
	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return c.Status().Buffers.Temp == 2 }, time.Second, time.Millisecond)

	_, err := c.Send(context.Background(), "ZERO")
	assert.ErrorIs(t, err, ErrDeviceReset)

	ev := waitEvent(t, c)
	assert.Equal(t, EventSessionEnded, ev.Kind)
	assert.Equal(t, "Battery low, resetting", ev.Line)
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 2, c.Status().Buffers.Durable, "the reset promotes the temporary buffer")
}

func TestTelemetryBeforeAckIsBuffered(t *testing.T) {
	port := testutil.NewPort()
	port.OnWrite = func(b []byte) []byte {
		return []byte("1001 1 2 3 4\r\n1001 5 6 7 8\r\nOK " + string(b) + "\r\n")
	}
	c := newTestCoordinator(t, port, nil, nil)
	require.NoError(t, c.Connect("ttyTEST"))
	require.NoError(t, c.Start())

	ack, err := c.Send(context.Background(), "PING")
	require.NoError(t, err)
	assert.Equal(t, "OK PING", ack)

	got := c.DrainAvailable()
	require.Len(t, got, 2)
	assert.Equal(t, 5.0, *got[1].Channels[0])
	assert.Equal(t, StateRunning, c.State())
}

func TestStatusDoesNotWaitForDirectCommand(t *testing.T) {
	port := testutil.NewPort()
	c := newTestCoordinator(t, port, nil, func(o *Options) {
		o.CommandTimeout = 300 * time.Millisecond
	})
	require.NoError(t, c.Connect("ttyTEST"))

	sent := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "PING")
		sent <- err
	}()
	require.Eventually(t, func() bool { return port.Written() == "PING" }, time.Second, time.Millisecond)

	status := make(chan Status, 1)
	go func() { status <- c.Status() }()
	select {
	case st := <-status:
		assert.True(t, st.Connected)
		assert.NotEmpty(t, c.Session())
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Status blocked behind a pending command")
	}
	assert.ErrorIs(t, <-sent, ErrNoAck)
}

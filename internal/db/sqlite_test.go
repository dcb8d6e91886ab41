package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-telemetry/internal/model"
)

func f(v float64) *float64 { return &v }

func openTemp(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "samples.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	d := openTemp(t)
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, d.BeginSession(ctx, &model.Session{
		SessionID: "s1", Port: "COM5", BaudRate: 38400, Channels: 4, StartedAt: start,
	}))
	batch := []model.Sample{
		{Seq: 1, Session: "s1", Serial: f(12), Channels: []*float64{f(1), nil, f(3), f(4)}, Received: start},
		{Seq: 2, Session: "s1", Serial: f(12), Channels: []*float64{f(5), f(6), nil, f(8)}, Received: start.Add(time.Second)},
	}
	require.NoError(t, d.SaveSamples(ctx, batch))
	require.NoError(t, d.EndSession(ctx, "s1", "session_ended", start.Add(time.Minute)))

	sessions, err := d.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "COM5", sessions[0].Port)
	assert.Equal(t, "session_ended", sessions[0].Outcome)
	assert.Equal(t, int64(2), sessions[0].SampleCount)
	require.NotNil(t, sessions[0].EndedAt)

	points, err := d.SessionSamples(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, uint64(1), points[0].Seq)
	assert.Nil(t, points[0].Channels[1], "absent readings stay null")
	assert.Equal(t, 6.0, *points[1].Channels[1])

	last, err := d.SessionSamples(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, uint64(2), last[0].Seq)

	n, err := d.CountSamples(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStatsJSON(t *testing.T) {
	ctx := context.Background()
	d := openTemp(t)
	require.NoError(t, d.BeginSession(ctx, &model.Session{SessionID: "a", StartedAt: time.Now()}))
	require.NoError(t, d.SaveSamples(ctx, []model.Sample{
		{Seq: 1, Session: "a", Serial: f(1), Channels: []*float64{f(2)}, Received: time.Now()},
	}))

	raw, err := d.StatsJSON(ctx, "a")
	require.NoError(t, err)
	var st Stats
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, 1, st.SessionCount)
	assert.Equal(t, 1, st.SampleCount)
	assert.Equal(t, "a", st.Samples[0].SessionID)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	d := openTemp(t)
	require.NoError(t, d.BeginSession(ctx, &model.Session{SessionID: "gone", StartedAt: time.Now()}))
	require.NoError(t, d.SaveSamples(ctx, []model.Sample{{Seq: 1, Session: "gone", Received: time.Now()}}))

	require.NoError(t, d.DeleteSession(ctx, "gone"))
	sessions, err := d.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	n, err := d.CountSamples(ctx, "gone")
	require.NoError(t, err)
	assert.Zero(t, n)
}

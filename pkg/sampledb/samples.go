package sampledb

import (
	"context"
	"time"

	dbpkg "serial-telemetry/internal/db"
	"serial-telemetry/internal/model"
)

// Sample is one persisted reading row. Absent channel readings are nil.
type Sample struct {
	SessionID string     `json:"session_id"`
	Seq       uint64     `json:"seq"`
	Serial    *float64   `json:"serial"`
	Channels  []*float64 `json:"channels"`
	Timestamp time.Time  `json:"timestamp"`
}

func fromPoint(p dbpkg.SamplePoint) Sample {
	return Sample{
		SessionID: p.SessionID,
		Seq:       p.Seq,
		Serial:    p.Serial,
		Channels:  p.Channels,
		Timestamp: p.Timestamp,
	}
}

func fromPoints(ps []dbpkg.SamplePoint) []Sample {
	out := make([]Sample, 0, len(ps))
	for _, p := range ps {
		out = append(out, fromPoint(p))
	}
	return out
}

// SaveSamples appends rows to a session atomically.
func (c *Client) SaveSamples(ctx context.Context, sessionID string, ss []Sample) error {
	batch := make([]model.Sample, 0, len(ss))
	for _, s := range ss {
		batch = append(batch, model.Sample{
			Seq:      s.Seq,
			Session:  sessionID,
			Serial:   s.Serial,
			Channels: s.Channels,
			Received: s.Timestamp,
		})
	}
	return c.db.SaveSamples(ctx, batch)
}

// History returns a session's samples in acquisition order. When limit > 0,
// only the most recent limit rows are returned.
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]Sample, error) {
	ps, err := c.db.SessionSamples(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return fromPoints(ps), nil
}

// Latest returns the newest samples across all sessions, newest first.
func (c *Client) Latest(ctx context.Context, limit int) ([]Sample, error) {
	ps, err := c.db.LatestSamples(ctx, limit)
	if err != nil {
		return nil, err
	}
	return fromPoints(ps), nil
}

func (c *Client) Count(ctx context.Context, sessionID string) (int64, error) {
	return c.db.CountSamples(ctx, sessionID)
}

// StatsJSON returns the session list and, for sessionID, its samples as JSON.
// If limit > 0, at most limit samples are included.
func (c *Client) StatsJSON(ctx context.Context, sessionID string, limit int) ([]byte, error) {
	return c.db.StatsJSONWithLimit(ctx, sessionID, limit)
}

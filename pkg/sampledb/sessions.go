package sampledb

import (
	"context"
	"time"

	dbpkg "serial-telemetry/internal/db"
	"serial-telemetry/internal/model"
)

// Client exposes a stable API for third-party packages to read and write the
// sample log database.
type Client struct{ db *dbpkg.DB }

// Open opens the SQLite database (runs migrations) and returns a client.
func Open(path string) (*Client, error) {
	d, err := dbpkg.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{db: d}, nil
}

// Close closes the underlying DB.
func (c *Client) Close() error { return c.db.Close() }

// --------------------
// Session DTOs
// --------------------

type Session struct {
	SessionID   string     `json:"session_id"`
	Port        string     `json:"port"`
	BaudRate    int        `json:"baud_rate"`
	Channels    int        `json:"channels"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Outcome     string     `json:"outcome"`
	SampleCount int64      `json:"sample_count"`
}

func fromSessionInfo(s dbpkg.SessionInfo) Session {
	return Session{
		SessionID:   s.SessionID,
		Port:        s.Port,
		BaudRate:    s.BaudRate,
		Channels:    s.Channels,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		Outcome:     s.Outcome,
		SampleCount: s.SampleCount,
	}
}

// --------------------
// Session management
// --------------------

// BeginSession records a session start. StartedAt defaults to now.
func (c *Client) BeginSession(ctx context.Context, s *Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	return c.db.BeginSession(ctx, &model.Session{
		SessionID: s.SessionID,
		Port:      s.Port,
		BaudRate:  s.BaudRate,
		Channels:  s.Channels,
		StartedAt: s.StartedAt,
	})
}

func (c *Client) EndSession(ctx context.Context, sessionID, outcome string) error {
	return c.db.EndSession(ctx, sessionID, outcome, time.Now())
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.db.DeleteSession(ctx, sessionID)
}

// ListSessions returns sessions newest first.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	list, err := c.db.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(list))
	for _, s := range list {
		out = append(out, fromSessionInfo(s))
	}
	return out, nil
}

// GetSession returns one session, or nil when it does not exist.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	list, err := c.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].SessionID == sessionID {
			return &list[i], nil
		}
	}
	return nil, nil
}

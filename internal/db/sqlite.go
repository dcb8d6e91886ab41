package db

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"serial-telemetry/internal/model"
)

// DB wraps the sqlite sample log.
type DB struct {
	ORM *gorm.DB
}

// SessionInfo mirrors the sessions table plus its sample count.
type SessionInfo struct {
	SessionID   string     `json:"session_id"`
	Port        string     `json:"port"`
	BaudRate    int        `json:"baud_rate"`
	Channels    int        `json:"channels"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Outcome     string     `json:"outcome"`
	SampleCount int64      `json:"sample_count"`
}

// SamplePoint is one persisted sample in snapshot style output.
type SamplePoint struct {
	SessionID string     `json:"session_id"`
	Seq       uint64     `json:"seq"`
	Serial    *float64   `json:"serial"`
	Channels  []*float64 `json:"channels"`
	Timestamp time.Time  `json:"timestamp"`
}

// ToSample converts the row back into the acquisition form.
func (p SamplePoint) ToSample() model.Sample {
	return model.Sample{Seq: p.Seq, Session: p.SessionID, Serial: p.Serial, Channels: p.Channels, Received: p.Timestamp}
}

func toPoints(rows []model.SampleRecord) []SamplePoint {
	out := make([]SamplePoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, SamplePoint{
			SessionID: r.SessionID,
			Seq:       r.Seq,
			Serial:    r.Serial,
			Channels:  r.Channels,
			Timestamp: r.Timestamp,
		})
	}
	return out
}

// Open opens the SQLite database using GORM and runs migrations.
func Open(path string) (*DB, error) {
	g, err := openORM(path)
	if err != nil {
		return nil, err
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, err
	}
	return &DB{ORM: g}, nil
}

func (d *DB) Close() error { return closeORM(d.ORM) }

// BeginSession records a new session.
func (d *DB) BeginSession(ctx context.Context, s *model.Session) error {
	return upsertSession(ctx, d.ORM, s)
}

// EndSession stamps the end time and outcome of a session.
func (d *DB) EndSession(ctx context.Context, sessionID, outcome string, at time.Time) error {
	return d.ORM.WithContext(ctx).
		Model(&model.Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{"ended_at": at, "outcome": outcome}).Error
}

// DeleteSession removes a session and all of its samples.
func (d *DB) DeleteSession(ctx context.Context, sessionID string) error {
	return deleteSession(ctx, d.ORM, sessionID)
}

// SaveSamples inserts a batch of samples atomically.
func (d *DB) SaveSamples(ctx context.Context, batch []model.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]model.SampleRecord, 0, len(batch))
	for _, s := range batch {
		rows = append(rows, s.Record())
	}
	return insertSamples(ctx, d.ORM, rows)
}

// ListSessions returns all sessions, newest first.
func (d *DB) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	err := d.ORM.WithContext(ctx).
		Table("sessions as s").
		Select("s.session_id, s.port, s.baud_rate, s.channels, s.started_at, s.ended_at, s.outcome, COUNT(p.id) as sample_count").
		Joins("LEFT JOIN samples p ON p.session_id = s.session_id").
		Group("s.session_id").
		Order("s.started_at DESC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SessionSamples returns a session's samples in acquisition order. limit <= 0
// returns all of them; otherwise the most recent limit rows.
func (d *DB) SessionSamples(ctx context.Context, sessionID string, limit int) ([]SamplePoint, error) {
	var rows []model.SampleRecord
	q := d.ORM.WithContext(ctx).Where("session_id = ?", sessionID)
	if limit > 0 {
		q = q.Order("seq DESC").Limit(limit)
	} else {
		q = q.Order("seq")
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if limit > 0 {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return toPoints(rows), nil
}

// LatestSamples returns the newest rows across all sessions, newest first.
func (d *DB) LatestSamples(ctx context.Context, limit int) ([]SamplePoint, error) {
	if limit <= 0 {
		limit = 1
	}
	var rows []model.SampleRecord
	if err := d.ORM.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toPoints(rows), nil
}

// CountSamples returns the number of persisted samples, optionally for one session.
func (d *DB) CountSamples(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	q := d.ORM.WithContext(ctx).Model(&model.SampleRecord{})
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	err := q.Count(&n).Error
	return n, err
}

// Stats aggregates the session list and a session's samples.
type Stats struct {
	SessionCount int           `json:"session_count"`
	Sessions     []SessionInfo `json:"sessions"`
	SampleCount  int           `json:"sample_count"`
	Samples      []SamplePoint `json:"samples"`
}

// StatsJSON returns aggregated stats in JSON for a given session.
func (d *DB) StatsJSON(ctx context.Context, sessionID string) ([]byte, error) {
	return d.StatsJSONWithLimit(ctx, sessionID, 0)
}

// StatsJSONWithLimit works like StatsJSON but returns at most limit samples when limit > 0.
func (d *DB) StatsJSONWithLimit(ctx context.Context, sessionID string, limit int) ([]byte, error) {
	sessions, err := d.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var samples []SamplePoint
	if sessionID != "" {
		if samples, err = d.SessionSamples(ctx, sessionID, limit); err != nil {
			return nil, err
		}
	}
	st := Stats{
		SessionCount: len(sessions),
		Sessions:     sessions,
		SampleCount:  len(samples),
		Samples:      samples,
	}
	return json.Marshal(st)
}

package model

import "time"

// Session represents one acquisition session against a connected device.
// A session ends when the device reports a reset, the transport fails or the
// operator stops acquisition.
type Session struct {
	SessionID string     `gorm:"column:session_id;primaryKey"`
	Port      string     `gorm:"column:port"`
	BaudRate  int        `gorm:"column:baud_rate"`
	Channels  int        `gorm:"column:channels"`
	StartedAt time.Time  `gorm:"column:started_at;index"`
	EndedAt   *time.Time `gorm:"column:ended_at"`
	Outcome   string     `gorm:"column:outcome"`

	Samples []SampleRecord `gorm:"foreignKey:SessionID;references:SessionID"`
}

func (Session) TableName() string { return "sessions" }

// SampleRecord is one persisted sample row. Channel readings are stored as a
// JSON array so absent readings survive as null.
type SampleRecord struct {
	ID        uint       `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID string     `gorm:"column:session_id;index"`
	Seq       uint64     `gorm:"column:seq;index"`
	Serial    *float64   `gorm:"column:serial"`
	Channels  []*float64 `gorm:"column:channels;serializer:json"`
	Timestamp time.Time  `gorm:"column:timestamp;index"`
}

func (SampleRecord) TableName() string { return "samples" }

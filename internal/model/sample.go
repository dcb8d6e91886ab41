package model

import (
	"strconv"
	"strings"
	"time"
)

// Sample is one decoded line of device telemetry: a serial-number token
// followed by a fixed number of channel readings. A nil reading means the
// device marked the channel as absent.
type Sample struct {
	Seq      uint64     `json:"seq"`
	Session  string     `json:"session"`
	Serial   *float64   `json:"serial"`
	Channels []*float64 `json:"channels"`
	Received time.Time  `json:"ts"`
	Raw      string     `json:"-"`
}

// Record converts the sample into its persisted row form.
func (s Sample) Record() SampleRecord {
	return SampleRecord{
		SessionID: s.Session,
		Seq:       s.Seq,
		Serial:    s.Serial,
		Channels:  s.Channels,
		Timestamp: s.Received,
	}
}

// Fields renders the serial number and channels as text, absent readings as "None".
func (s Sample) Fields() []string {
	out := make([]string, 0, len(s.Channels)+1)
	out = append(out, FormatReading(s.Serial))
	for _, c := range s.Channels {
		out = append(out, FormatReading(c))
	}
	return out
}

func (s Sample) String() string { return strings.Join(s.Fields(), " ") }

// FormatReading renders a reading with the shortest exact representation.
func FormatReading(v *float64) string {
	if v == nil {
		return "None"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// Header returns the column labels of a persisted sample log.
func Header(channels int) []string {
	h := make([]string, 0, channels+1)
	h = append(h, "Serial Number")
	for i := 0; i < channels; i++ {
		h = append(h, "Channel "+strconv.Itoa(i))
	}
	return h
}

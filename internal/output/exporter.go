package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"serial-telemetry/internal/model"
)

// SessionExport is one session's samples with its metadata.
type SessionExport struct {
	SessionID string         `json:"session_id"`
	Port      string         `json:"port,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Outcome   string         `json:"outcome,omitempty"`
	Channels  int            `json:"channels"`
	Samples   []model.Sample `json:"samples"`
}

// WriteJSON writes exports to a JSON file with pretty formatting.
func WriteJSON(path string, exports []SessionExport) error {
	b, err := json.MarshalIndent(exports, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV flattens exports into one CSV file.
// Columns: session_id,seq,timestamp,Serial Number,Channel 0..Channel N-1
func WriteCSV(path string, exports []SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()
	if err := EncodeCSV(f, exports); err != nil {
		return err
	}
	return f.Sync()
}

// EncodeCSV writes the CSV form of exports to w.
func EncodeCSV(w io.Writer, exports []SessionExport) error {
	channels := 0
	for _, e := range exports {
		channels = max(channels, e.Channels)
		for _, s := range e.Samples {
			channels = max(channels, len(s.Channels))
		}
	}

	cw := csv.NewWriter(w)
	headers := append([]string{"session_id", "seq", "timestamp"}, model.Header(channels)...)
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range exports {
		for _, s := range e.Samples {
			rec := make([]string, 0, len(headers))
			rec = append(rec, e.SessionID, strconv.FormatUint(s.Seq, 10), timeToRFC3339(s.Received))
			rec = append(rec, s.Fields()...)
			for len(rec) < len(headers) {
				rec = append(rec, "")
			}
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func timeToRFC3339(t time.Time) string { return t.Format(time.RFC3339Nano) }

package main

import (
	"context"
	"flag"
	"log"

	"serial-telemetry/internal/model"
	"serial-telemetry/internal/output"
	"serial-telemetry/pkg/sampledb"
)

func main() {
	var dbPath, session, outJSON, outCSV string
	var limit int
	flag.StringVar(&dbPath, "db", "data/telemetry.db", "path to the sample database")
	flag.StringVar(&session, "session", "", "session id to export (all sessions when empty)")
	flag.StringVar(&outJSON, "json", "", "path to write JSON export (optional)")
	flag.StringVar(&outCSV, "csv", "", "path to write CSV export (optional)")
	flag.IntVar(&limit, "limit", 0, "export at most the last N samples per session (0 = all)")
	flag.Parse()

	if outJSON == "" && outCSV == "" {
		log.Fatalf("no output specified: set --json and/or --csv")
	}

	client, err := sampledb.Open(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	sessions, err := client.ListSessions(ctx)
	if err != nil {
		log.Fatalf("list sessions: %v", err)
	}

	var exports []output.SessionExport
	for _, s := range sessions {
		if session != "" && s.SessionID != session {
			continue
		}
		rows, err := client.History(ctx, s.SessionID, limit)
		if err != nil {
			log.Fatalf("session %s: %v", s.SessionID, err)
		}
		exp := output.SessionExport{
			SessionID: s.SessionID,
			Port:      s.Port,
			StartedAt: s.StartedAt,
			Outcome:   s.Outcome,
			Channels:  s.Channels,
			Samples:   make([]model.Sample, 0, len(rows)),
		}
		for _, r := range rows {
			exp.Samples = append(exp.Samples, model.Sample{
				Seq:      r.Seq,
				Session:  r.SessionID,
				Serial:   r.Serial,
				Channels: r.Channels,
				Received: r.Timestamp,
			})
		}
		exports = append(exports, exp)
	}
	if session != "" && len(exports) == 0 {
		log.Fatalf("session %q not found", session)
	}

	if outJSON != "" {
		if err := output.WriteJSON(outJSON, exports); err != nil {
			log.Printf("write json error: %v", err)
		}
	}
	if outCSV != "" {
		if err := output.WriteCSV(outCSV, exports); err != nil {
			log.Printf("write csv error: %v", err)
		}
	}
	log.Printf("exported %d session(s)", len(exports))
}

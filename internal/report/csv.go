// Package report serializes attendance records for export.
package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"presence/internal/presence"
)

// Header is the first CSV row.
var Header = []string{"participant_id", "room_code", "login", "logout", "active_minutes"}

// WriteCSV writes recs as CSV with RFC 3339 UTC timestamps and minutes
// to two decimals.
func WriteCSV(w io.Writer, recs []presence.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, rec := range recs {
		row := []string{
			rec.ParticipantID,
			rec.RoomCode,
			rec.Login.UTC().Format(time.RFC3339),
			rec.Logout.UTC().Format(time.RFC3339),
			strconv.FormatFloat(rec.ActiveMinutes, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

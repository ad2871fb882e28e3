package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"presence/internal/presence"
)

type fakeLedger struct {
	recs []presence.Record
	err  error
}

func (f fakeLedger) ListRecords(_ context.Context, filter presence.RecordFilter) ([]presence.Record, error) {
	var out []presence.Record
	for _, rec := range f.recs {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, f.err
}

func TestExportRoom(t *testing.T) {
	login := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	ledger := fakeLedger{recs: []presence.Record{
		{ParticipantID: "p1", RoomCode: "R/1", Login: login, Logout: login.Add(time.Minute), ActiveMinutes: 1},
		{ParticipantID: "p2", RoomCode: "R2", Login: login, Logout: login.Add(time.Minute), ActiveMinutes: 1},
	}}
	dir := filepath.Join(t.TempDir(), "exports")

	path, n, err := ExportRoom(context.Background(), ledger, dir, "R/1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 1 || filepath.Base(path) != "R_1.csv" {
		t.Fatalf("unexpected export %s with %d rows", path, n)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "p1,R/1,") || strings.Contains(string(data), "p2") {
		t.Fatalf("unexpected contents:\n%s", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestExportRoomLedgerError(t *testing.T) {
	boom := errors.New("boom")
	if _, _, err := ExportRoom(context.Background(), fakeLedger{err: boom}, t.TempDir(), "R1"); !errors.Is(err, boom) {
		t.Fatalf("expected ledger error, got %v", err)
	}
}

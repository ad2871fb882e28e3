package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"presence/internal/presence"
)

// RecordLister is the ledger read an export needs.
type RecordLister interface {
	ListRecords(ctx context.Context, filter presence.RecordFilter) ([]presence.Record, error)
}

// ExportRoom writes every record for roomCode to <dir>/<room>.csv,
// replacing any earlier export. The file appears atomically.
func ExportRoom(ctx context.Context, ledger RecordLister, dir, roomCode string) (string, int, error) {
	recs, err := ledger.ListRecords(ctx, presence.RecordFilter{RoomCode: roomCode})
	if err != nil {
		return "", 0, fmt.Errorf("list records: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, recs); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("write csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, err
	}
	path := filepath.Join(dir, fileName(roomCode)+".csv")
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, err
	}
	return path, len(recs), nil
}

func fileName(code string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, code)
	if name == "" {
		return "room"
	}
	return name
}

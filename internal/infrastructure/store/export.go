package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/doeshing/pcpilot/internal/domain"
	"github.com/doeshing/pcpilot/internal/ports"
)

// WriteJSONL writes records as one JSON object per line.
func WriteJSONL(w io.Writer, records []domain.CommandRecord) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// ExportJSONL dumps the full history of repo into dest and returns the number
// of records written. Corrupt records are skipped, not exported.
func ExportJSONL(ctx context.Context, repo ports.RecordRepository, dest string) (int, error) {
	records, _, err := repo.LoadRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), domain.DirectoryPermissions); err != nil {
		return 0, err
	}
	file, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	if err := WriteJSONL(file, records); err != nil {
		file.Close()
		return 0, err
	}
	return len(records), file.Close()
}

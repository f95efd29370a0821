package obslog

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/storage"
)

// ExportKey is the object key a night's log is exported under.
func ExportKey(night time.Time) string {
	return "obslog/" + night.Format("2006-01-02") + ".csv"
}

// WriteCSV renders entries as CSV with a header row.
func WriteCSV(entries []models.ObservingLog) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"time", "name", "target_id", "priority", "action"}); err != nil {
		return nil, err
	}
	for _, e := range entries {
		record := []string{
			e.Time.UTC().Format(time.RFC3339),
			e.Name,
			e.TargetID,
			strconv.Itoa(e.Priority),
			e.Action,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Export writes the log of the night starting on date to store and returns
// the object location.
func (s *Service) Export(ctx context.Context, store storage.ObjectStore, date time.Time) (string, error) {
	entries, err := s.Night(ctx, date)
	if err != nil {
		return "", fmt.Errorf("read night: %w", err)
	}
	data, err := WriteCSV(entries)
	if err != nil {
		return "", fmt.Errorf("render csv: %w", err)
	}
	key := ExportKey(date)
	if err := store.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}

	s.logger.Info().Str("night", date.Format("2006-01-02")).Int("entries", len(entries)).Str("location", store.URL(key)).Msg("observing log exported")
	return store.URL(key), nil
}

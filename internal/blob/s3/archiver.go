package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowtrader/flowtrader/internal/domain"
)

// StatsArchiveStore is the narrow slice of the ledger store the archiver
// needs: time-ranged reads plus the matching delete.
type StatsArchiveStore interface {
	ListStatsBefore(ctx context.Context, date string) ([]domain.DailyStats, error)
	DeleteStatsBefore(ctx context.Context, date string) error
}

// ObjectPutter uploads one object. *Client implements it; tests substitute
// an in-memory fake.
type ObjectPutter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Archiver moves daily stats rows older than the retention window out of the
// primary store and into object storage as JSONL. The upload happens before
// the delete: when the upload fails the rows stay where they are.
type Archiver struct {
	store  StatsArchiveStore
	putter ObjectPutter
	logger *slog.Logger
	now    func() time.Time

	// RetentionDays is how many days of stats stay in the primary store.
	RetentionDays int
}

// NewArchiver creates an Archiver with the given retention window.
func NewArchiver(store StatsArchiveStore, putter ObjectPutter, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Archiver{
		store:         store,
		putter:        putter,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run archives everything older than the retention cutoff and returns how
// many rows moved. A zero count with nil error means nothing was due.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	cutoff := a.now().UTC().AddDate(0, 0, -a.RetentionDays).Format("2006-01-02")

	rows, err := a.store.ListStatsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query before %s: %w", cutoff, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	key := archiveKey(cutoff)
	if err := a.putter.Put(ctx, key, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	// Upload is durable; the rows can go.
	if err := a.store.DeleteStatsBefore(ctx, cutoff); err != nil {
		return 0, fmt.Errorf("s3blob: archive delete before %s (uploaded to %s): %w", cutoff, key, err)
	}

	a.logger.Info("daily stats archived",
		slog.String("key", key),
		slog.String("cutoff", cutoff),
		slog.Int("rows", len(rows)))
	return len(rows), nil
}

// archiveKey names the archive object after the cutoff date.
//
//	archive/daily_stats/2026-06-01.jsonl
func archiveKey(cutoff string) string {
	return fmt.Sprintf("archive/daily_stats/%s.jsonl", cutoff)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

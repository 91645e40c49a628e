package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	defaultBatchSize = 500
	// multipartThreshold switches uploads to the transfer manager.
	multipartThreshold = 8 << 20
)

// ClosedTradeSource is the slice of the trade store the archiver uses.
type ClosedTradeSource interface {
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error)
	MarkArchived(ctx context.Context, ids []string) error
}

// TradeArchiver implements domain.Archiver. Each batch of closed trades is
// written as one JSONL object and then marked archived. Rows are never
// deleted here.
type TradeArchiver struct {
	writer    domain.BlobWriter
	trades    ClosedTradeSource
	audit     domain.AuditStore
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

// NewTradeArchiver creates a TradeArchiver. audit may be nil.
func NewTradeArchiver(writer domain.BlobWriter, trades ClosedTradeSource, audit domain.AuditStore, batchSize int, logger *slog.Logger) *TradeArchiver {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &TradeArchiver{
		writer:    writer,
		trades:    trades,
		audit:     audit,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// ArchiveClosedTrades archives every unarchived trade closed before the
// cutoff and returns how many were written.
func (a *TradeArchiver) ArchiveClosedTrades(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := a.trades.ListClosedBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list closed trades: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		path, err := a.writeBatch(ctx, batch)
		if err != nil {
			return total, err
		}

		ids := make([]string, len(batch))
		for i, t := range batch {
			ids[i] = t.ID
		}
		if err := a.trades.MarkArchived(ctx, ids); err != nil {
			return total, fmt.Errorf("s3blob: mark archived (%s): %w", path, err)
		}
		total += int64(len(batch))

		a.logger.InfoContext(ctx, "trades archived", slog.String("path", path), slog.Int("count", len(batch)))
		if a.audit != nil {
			if err := a.audit.Log(ctx, "trades_archived", map[string]any{
				"path":   path,
				"count":  len(batch),
				"before": before.UTC().Format(time.RFC3339),
			}); err != nil {
				a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
			}
		}

		if len(batch) < a.batchSize {
			break
		}
	}
	return total, nil
}

func (a *TradeArchiver) writeBatch(ctx context.Context, trades []domain.Trade) (string, error) {
	buf, err := marshalJSONL(trades)
	if err != nil {
		return "", fmt.Errorf("s3blob: encode trades: %w", err)
	}
	path := archivePath(a.now())

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return path, nil
}

// archivePath partitions by UTC day, e.g. trades/closed/2026/01/02/1767322800000000000.jsonl.
func archivePath(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("trades/closed/%s/%d.jsonl", at.Format("2006/01/02"), at.UnixNano())
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*TradeArchiver)(nil)

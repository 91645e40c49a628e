package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	db DBTX
}

// NewTradeStore creates a TradeStore.
func NewTradeStore(db DBTX) *TradeStore {
	return &TradeStore{db: db}
}

const tradeSelectCols = `id, user_address, venue_id, pair, side, leverage,
	size_usd, entry_price, liquidation_price, stop_loss, take_profit,
	tx_hash_open, status, exit_price, pnl_usd, tx_hash_close, metadata,
	opened_at, closed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t            domain.Trade
		side, status string
		metadata     []byte
	)
	if err := row.Scan(
		&t.ID, &t.UserAddress, &t.VenueID, &t.Pair, &side, &t.Leverage,
		&t.SizeUsd, &t.EntryPrice, &t.LiquidationPrice, &t.StopLoss, &t.TakeProfit,
		&t.TxHashOpen, &status, &t.ExitPrice, &t.PnlUsd, &t.TxHashClose, &metadata,
		&t.OpenedAt, &t.ClosedAt,
	); err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.Side(side)
	t.Status = domain.TradeStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return domain.Trade{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return t, nil
}

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert writes a new trade. A duplicate id returns ErrAlreadyExists.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal trade metadata: %w", err)
	}
	if t.Metadata == nil {
		metadata = []byte("{}")
	}

	const query = `
		INSERT INTO trades (
			id, user_address, venue_id, pair, side, leverage,
			size_usd, entry_price, liquidation_price, stop_loss, take_profit,
			tx_hash_open, status, metadata, opened_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		) ON CONFLICT (id) DO NOTHING`

	tag, err := s.db.Exec(ctx, query,
		t.ID, t.UserAddress, t.VenueID, t.Pair, string(t.Side), t.Leverage,
		t.SizeUsd, t.EntryPrice, t.LiquidationPrice, t.StopLoss, t.TakeProfit,
		t.TxHashOpen, string(t.Status), metadata, t.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// GetByID returns one trade.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE id = $1`
	t, err := scanTrade(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// Close moves an open trade to closed. The status guard makes a concurrent
// second close affect no rows, which is reported as ErrNotFound.
func (s *TradeStore) Close(ctx context.Context, id string, c domain.TradeClose) error {
	const query = `
		UPDATE trades
		SET status = 'closed', exit_price = $2, pnl_usd = $3,
		    tx_hash_close = $4, closed_at = $5
		WHERE id = $1 AND status = 'open'`

	tag, err := s.db.Exec(ctx, query, id, c.ExitPrice, c.PnlUsd, c.TxHashClose, c.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: close trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: close trade %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByUser returns a user's trades, newest first. Addresses compare
// case-insensitively.
func (s *TradeStore) ListByUser(ctx context.Context, userAddress string, opts domain.ListOpts) ([]domain.Trade, error) {
	q := newListQuery(`SELECT `+tradeSelectCols+` FROM trades WHERE lower(user_address) = $1`, strings.ToLower(userAddress)).
		window("opened_at", opts).
		page("opened_at", opts)

	rows, err := s.db.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", userAddress, err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for %s: %w", userAddress, err)
	}
	return trades, nil
}

// ListClosedBefore returns unarchived closed trades older than before,
// oldest first.
func (s *TradeStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE status = 'closed' AND archived_at IS NULL AND closed_at < $1
		ORDER BY closed_at ASC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}

// MarkArchived stamps archived_at on the given trades.
func (s *TradeStore) MarkArchived(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE trades SET archived_at = NOW() WHERE id = ANY($1)`
	if _, err := s.db.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("postgres: mark %d trades archived: %w", len(ids), err)
	}
	return nil
}

var _ domain.TradeStore = (*TradeStore)(nil)

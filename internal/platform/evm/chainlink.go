package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

const aggregatorV3ABI = `[
{"name":"decimals","type":"function","stateMutability":"view","inputs":[],
 "outputs":[{"name":"","type":"uint8"}]},
{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],
 "outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},
 {"name":"startedAt","type":"uint256"},{"name":"updatedAt","type":"uint256"},
 {"name":"answeredInRound","type":"uint80"}]}]`

var aggregatorABI = mustParseABI(aggregatorV3ABI)

// Chainlink reads AggregatorV3 price feeds. Feed decimals never change, so
// they are fetched once per address.
type Chainlink struct {
	caller ContractCaller

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

// NewChainlink creates a feed reader.
func NewChainlink(caller ContractCaller) *Chainlink {
	return &Chainlink{caller: caller, decimals: make(map[common.Address]uint8)}
}

// LatestAnswer returns the scaled answer and its update time. Non-positive
// answers are rejected with domain.ErrNoData.
func (c *Chainlink) LatestAnswer(ctx context.Context, feed common.Address) (decimal.Decimal, time.Time, error) {
	dec, err := c.feedDecimals(ctx, feed)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}

	vals, err := call(ctx, c.caller, aggregatorABI, feed, "latestRoundData")
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("evm/chainlink: %w", err)
	}
	if len(vals) != 5 {
		return decimal.Zero, time.Time{}, fmt.Errorf("evm/chainlink: expected 5 outputs, got %d", len(vals))
	}
	answer, ok1 := vals[1].(*big.Int)
	updatedAt, ok2 := vals[3].(*big.Int)
	if !ok1 || !ok2 {
		return decimal.Zero, time.Time{}, fmt.Errorf("evm/chainlink: unexpected output types")
	}
	if answer.Sign() <= 0 {
		return decimal.Zero, time.Time{}, fmt.Errorf("evm/chainlink: answer %s: %w", answer, domain.ErrNoData)
	}
	return scaleDown(answer, dec), time.Unix(updatedAt.Int64(), 0).UTC(), nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, feed common.Address) (uint8, error) {
	c.mu.RLock()
	d, ok := c.decimals[feed]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	vals, err := call(ctx, c.caller, aggregatorABI, feed, "decimals")
	if err != nil {
		return 0, fmt.Errorf("evm/chainlink: %w", err)
	}
	d, ok = vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("evm/chainlink: unexpected decimals type %T", vals[0])
	}

	c.mu.Lock()
	c.decimals[feed] = d
	c.mu.Unlock()
	return d, nil
}

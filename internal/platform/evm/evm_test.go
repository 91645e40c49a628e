package evm

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// fakeCaller answers eth_call by method selector.
type fakeCaller struct {
	t       *testing.T
	abi     abi.ABI
	outputs map[string][]interface{}
	calls   map[string]int
}

func newFakeCaller(t *testing.T, a abi.ABI) *fakeCaller {
	return &fakeCaller{t: t, abi: a, outputs: map[string][]interface{}{}, calls: map[string]int{}}
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, m := range f.abi.Methods {
		if !bytes.Equal(msg.Data[:4], m.ID) {
			continue
		}
		f.calls[name]++
		out, ok := f.outputs[name]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		packed, err := m.Outputs.Pack(out...)
		require.NoError(f.t, err)
		return packed, nil
	}
	return nil, errors.New("unknown selector")
}

func TestRouterSpotPrice(t *testing.T) {
	caller := newFakeCaller(t, routerABI)
	// 1 WETH (18 dp) -> 3012.5 USDC (6 dp)
	caller.outputs["getAmountsOut"] = []interface{}{[]*big.Int{
		new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		big.NewInt(3_012_500_000),
	}}

	r := NewRouter(caller, common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"))
	price, err := r.SpotPrice(context.Background(),
		Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18},
		Token{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6},
	)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3012.5").Equal(price), price.String())
}

func TestRouterRevert(t *testing.T) {
	r := NewRouter(newFakeCaller(t, routerABI), common.Address{})
	_, err := r.SpotPrice(context.Background(), Token{Decimals: 18}, Token{Decimals: 6})
	assert.Error(t, err)
}

func TestChainlinkLatestAnswer(t *testing.T) {
	caller := newFakeCaller(t, aggregatorABI)
	caller.outputs["decimals"] = []interface{}{uint8(8)}
	caller.outputs["latestRoundData"] = []interface{}{
		big.NewInt(42), big.NewInt(6_000_012_345_678), big.NewInt(1_700_000_000),
		big.NewInt(1_700_000_060), big.NewInt(42),
	}

	feed := common.HexToAddress("0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c")
	cl := NewChainlink(caller)
	for i := 0; i < 2; i++ {
		price, updated, err := cl.LatestAnswer(context.Background(), feed)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("60000.12345678").Equal(price), price.String())
		assert.Equal(t, time.Unix(1_700_000_060, 0).UTC(), updated)
	}
	assert.Equal(t, 1, caller.calls["decimals"], "decimals are cached per feed")
}

func TestChainlinkRejectsNonPositiveAnswer(t *testing.T) {
	caller := newFakeCaller(t, aggregatorABI)
	caller.outputs["decimals"] = []interface{}{uint8(8)}
	caller.outputs["latestRoundData"] = []interface{}{
		big.NewInt(1), big.NewInt(-5), big.NewInt(0), big.NewInt(0), big.NewInt(1),
	}

	_, _, err := NewChainlink(caller).LatestAnswer(context.Background(), common.Address{})
	assert.ErrorIs(t, err, domain.ErrNoData)
}

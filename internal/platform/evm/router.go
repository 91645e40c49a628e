package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

const uniswapV2RouterABI = `[{"name":"getAmountsOut","type":"function","stateMutability":"view",
"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
"outputs":[{"name":"amounts","type":"uint256[]"}]}]`

var routerABI = mustParseABI(uniswapV2RouterABI)

// Token is an ERC-20 address with its decimals.
type Token struct {
	Address  common.Address
	Decimals uint8
}

// Router quotes swaps through a Uniswap V2 compatible router contract.
type Router struct {
	caller  ContractCaller
	address common.Address
}

// NewRouter creates a Router reader for the contract at address.
func NewRouter(caller ContractCaller, address common.Address) *Router {
	return &Router{caller: caller, address: address}
}

// SpotPrice returns how many quote tokens one whole base token swaps for.
func (r *Router) SpotPrice(ctx context.Context, base, quote Token) (decimal.Decimal, error) {
	amountIn := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(base.Decimals)), nil)
	path := []common.Address{base.Address, quote.Address}

	vals, err := call(ctx, r.caller, routerABI, r.address, "getAmountsOut", amountIn, path)
	if err != nil {
		return decimal.Zero, fmt.Errorf("evm/router: %w", err)
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return decimal.Zero, fmt.Errorf("evm/router: unexpected getAmountsOut result: %w", domain.ErrNoData)
	}
	out := amounts[len(amounts)-1]
	if out.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("evm/router: zero output: %w", domain.ErrNoData)
	}
	return scaleDown(out, quote.Decimals), nil
}

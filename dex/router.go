// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/migrator/contract"
	"github.com/luxfi/migrator/erc20"
	"github.com/luxfi/migrator/swap"
)

var _ contract.Contract = (*Router)(nil)

// Common fee tiers in pips
const (
	Fee100   uint32 = 100
	Fee500   uint32 = 500
	Fee3000  uint32 = 3000
	Fee10000 uint32 = 10000
)

// RouterInterface selects which router ABIs a Router answers.
type RouterInterface uint8

const (
	// RouterV2 answers the SwapRouter02 ABI (no deadline).
	RouterV2 RouterInterface = 1 << iota
	// RouterLegacy answers the original SwapRouter ABI (with deadline).
	RouterLegacy

	RouterBoth = RouterV2 | RouterLegacy
)

type quoteKey struct {
	tokenIn  common.Address
	tokenOut common.Address
	fee      uint32
}

// Router is a Uniswap V3 style swap router quoting every pool at a fixed
// rate. Trades settle against the router's own inventory. It is reached
// through Run with ABI-encoded calldata, like a deployed contract.
type Router struct {
	address    common.Address
	interfaces RouterInterface

	mu     sync.RWMutex
	quotes map[quoteKey]*big.Int
}

// NewRouter creates a router at addr answering the given interfaces.
func NewRouter(addr common.Address, interfaces RouterInterface) *Router {
	return &Router{
		address:    addr,
		interfaces: interfaces,
		quotes:     make(map[quoteKey]*big.Int),
	}
}

func (r *Router) Address() common.Address {
	return r.address
}

// SetQuote prices the tokenIn -> tokenOut pool of the given fee tier:
// one unit of tokenIn buys rate/1e18 units of tokenOut before fees.
func (r *Router) SetQuote(tokenIn, tokenOut common.Address, fee uint32, rate *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes[quoteKey{tokenIn: tokenIn, tokenOut: tokenOut, fee: fee}] = new(big.Int).Set(rate)
}

// Run executes ABI-encoded router calldata.
func (r *Router) Run(state contract.AccessibleState, caller common.Address, input []byte) ([]byte, error) {
	method, legacy, err := r.methodFor(input)
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("router: unpack %s: %w", method.Name, err)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("router: %s expects one argument, got %d", method.Name, len(args))
	}

	var amount *big.Int
	switch method.Name {
	case swap.MethodExactInput:
		p := swap.LegacyExactInputParams{}
		if legacy {
			p = *abi.ConvertType(args[0], new(swap.LegacyExactInputParams)).(*swap.LegacyExactInputParams)
			if err := checkDeadline(state, p.Deadline); err != nil {
				return nil, err
			}
		} else {
			v2 := *abi.ConvertType(args[0], new(swap.ExactInputParams)).(*swap.ExactInputParams)
			p = swap.LegacyExactInputParams{
				Path:             v2.Path,
				Recipient:        v2.Recipient,
				AmountIn:         v2.AmountIn,
				AmountOutMinimum: v2.AmountOutMinimum,
			}
		}
		amount, err = r.exactInput(state, caller, p.Path, p.Recipient, p.AmountIn, p.AmountOutMinimum)
	case swap.MethodExactOutput:
		p := swap.LegacyExactOutputParams{}
		if legacy {
			p = *abi.ConvertType(args[0], new(swap.LegacyExactOutputParams)).(*swap.LegacyExactOutputParams)
			if err := checkDeadline(state, p.Deadline); err != nil {
				return nil, err
			}
		} else {
			v2 := *abi.ConvertType(args[0], new(swap.ExactOutputParams)).(*swap.ExactOutputParams)
			p = swap.LegacyExactOutputParams{
				Path:            v2.Path,
				Recipient:       v2.Recipient,
				AmountOut:       v2.AmountOut,
				AmountInMaximum: v2.AmountInMaximum,
			}
		}
		amount, err = r.exactOutput(state, caller, p.Path, p.Recipient, p.AmountOut, p.AmountInMaximum)
	default:
		return nil, fmt.Errorf("%w: %s", contract.ErrUnknownSelector, method.Name)
	}
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(amount)
}

// methodFor resolves the selector against the interfaces this router
// answers.
func (r *Router) methodFor(input []byte) (*abi.Method, bool, error) {
	if len(input) < 4 {
		return nil, false, contract.ErrInputTooShort
	}
	if r.interfaces&RouterV2 != 0 {
		if method, err := swap.RouterV2ABI.MethodFor(input); err == nil {
			return method, false, nil
		}
	}
	if r.interfaces&RouterLegacy != 0 {
		if method, err := swap.RouterLegacyABI.MethodFor(input); err == nil {
			return method, true, nil
		}
	}
	return nil, false, fmt.Errorf("%w: %x", contract.ErrUnknownSelector, input[:4])
}

// exactInput walks an input-first path hop by hop.
func (r *Router) exactInput(
	state contract.AccessibleState,
	caller common.Address,
	rawPath []byte,
	recipient common.Address,
	amountIn, amountOutMin *big.Int,
) (*big.Int, error) {
	path, err := poolPath(rawPath)
	if err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	amount := new(big.Int).Set(amountIn)
	for i, fee := range path.Fees {
		rate, err := r.quote(path.Tokens[i], path.Tokens[i+1], fee)
		if err != nil {
			return nil, err
		}
		amount = mulDiv(mulDiv(amount, rate, RAY), new(big.Int).Sub(FeeDenominator, big.NewInt(int64(fee))), FeeDenominator)
	}
	if amountOutMin != nil && amount.Cmp(amountOutMin) < 0 {
		return nil, fmt.Errorf("%w: out=%s min=%s", ErrTooLittleReceived, amount, amountOutMin)
	}

	if err := r.settle(state, caller, recipient, path.Leading(), amountIn, path.Trailing(), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// exactOutput walks an output-first path hop by hop, rounding each input up.
func (r *Router) exactOutput(
	state contract.AccessibleState,
	caller common.Address,
	rawPath []byte,
	recipient common.Address,
	amountOut, amountInMax *big.Int,
) (*big.Int, error) {
	path, err := poolPath(rawPath)
	if err != nil {
		return nil, err
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	amount := new(big.Int).Set(amountOut)
	for i, fee := range path.Fees {
		rate, err := r.quote(path.Tokens[i+1], path.Tokens[i], fee)
		if err != nil {
			return nil, err
		}
		den := new(big.Int).Mul(rate, new(big.Int).Sub(FeeDenominator, big.NewInt(int64(fee))))
		amount = mulDivUp(new(big.Int).Mul(amount, RAY), FeeDenominator, den)
	}
	if amountInMax != nil && amount.Cmp(amountInMax) > 0 {
		return nil, fmt.Errorf("%w: in=%s max=%s", ErrTooMuchRequested, amount, amountInMax)
	}

	if err := r.settle(state, caller, recipient, path.Trailing(), amount, path.Leading(), amountOut); err != nil {
		return nil, err
	}
	return amount, nil
}

// settle pulls the input from caller and pays the output from inventory.
func (r *Router) settle(
	state contract.AccessibleState,
	caller, recipient common.Address,
	tokenIn common.Address, amountIn *big.Int,
	tokenOut common.Address, amountOut *big.Int,
) error {
	db := state.GetStateDB()
	if err := erc20.TransferFrom(db, tokenIn, r.address, caller, r.address, amountIn); err != nil {
		return err
	}
	if erc20.BalanceOf(db, tokenOut, r.address).Cmp(amountOut) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientLiquidity, tokenOut.Hex())
	}
	return erc20.Transfer(db, tokenOut, r.address, recipient, amountOut)
}

func (r *Router) quote(tokenIn, tokenOut common.Address, fee uint32) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rate, ok := r.quotes[quoteKey{tokenIn: tokenIn, tokenOut: tokenOut, fee: fee}]
	if !ok || rate.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s -> %s fee=%d", ErrNoQuote, tokenIn.Hex(), tokenOut.Hex(), fee)
	}
	return rate, nil
}

func poolPath(raw []byte) (swap.Path, error) {
	path, err := swap.DecodePath(raw)
	if err != nil {
		return swap.Path{}, err
	}
	if path.Hops() == 0 {
		return swap.Path{}, fmt.Errorf("%w: no pool hops", swap.ErrInvalidPath)
	}
	return path, nil
}

func checkDeadline(state contract.AccessibleState, deadline *big.Int) error {
	now := new(big.Int).SetUint64(state.GetBlockContext().Timestamp())
	if deadline == nil || now.Cmp(deadline) > 0 {
		return ErrTransactionTooOld
	}
	return nil
}

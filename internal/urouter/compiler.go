package urouter

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swapsolver/internal/amm"
	"swapsolver/internal/order"
	"swapsolver/internal/solver"
)

var (
	// ErrHeterogeneousRoute means a route mixes pool protocols, which no
	// single swap command can express.
	ErrHeterogeneousRoute = errors.New("route mixes pool protocols")

	// ErrInvalidPermit means the permit command supplied for prepending is
	// not a Permit2 permit.
	ErrInvalidPermit = errors.New("permit command must be PERMIT2_PERMIT or PERMIT2_PERMIT_BATCH")
)

// CompileOptions adjust how a solution is lowered into a plan.
type CompileOptions struct {
	// Recipient receives the swap output. The zero address means the
	// transaction sender.
	Recipient common.Address

	// Permit, when set, is prepended so the router gains spending rights
	// before the first swap executes.
	Permit *Command

	// WrapInput prepends a WRAP_ETH of the full input amount and makes the
	// swaps spend from the router balance, for orders funded with native
	// ether.
	WrapInput bool

	// UnwrapOutput directs swap output to the router and appends an
	// UNWRAP_WETH to the recipient, for orders paying out native ether.
	UnwrapOutput bool
}

// Compile lowers a solved order into an executable command plan: one swap
// command per allocation, bracketed by wrapping, unwrapping and permit
// commands as requested.
//
// Per-allocation limits are the order's limit split by allocation fraction
// and adjusted by each route's cumulative fee, so a route with more hops is
// held to the output it can actually deliver.
func Compile(sol *solver.Solution, opts CompileOptions) (*Plan, error) {
	ord := sol.Order

	recipient := opts.Recipient
	if recipient == (common.Address{}) {
		recipient = MsgSender
	}
	swapRecipient := recipient
	if opts.UnwrapOutput {
		swapRecipient = AddressThis
	}
	payerIsUser := !opts.WrapInput

	plan := NewPlan()

	if opts.Permit != nil {
		if opts.Permit.Opcode != Permit2Permit && opts.Permit.Opcode != Permit2PermitBatch {
			return nil, fmt.Errorf("%s: %w", opts.Permit.Opcode, ErrInvalidPermit)
		}
		plan.Add(*opts.Permit)
	}

	if opts.WrapInput {
		wrap, err := New(WrapETH, AddressThis, ord.TokenIn.ToBaseUnits(ord.AmountIn))
		if err != nil {
			return nil, err
		}
		plan.Add(wrap)
	}

	for _, alloc := range sol.Allocations {
		cmd, err := swapCommand(ord, alloc, swapRecipient, payerIsUser)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", alloc.Route, err)
		}
		plan.Add(cmd)
	}

	if opts.UnwrapOutput {
		unwrap, err := New(UnwrapWETH, recipient, ord.TokenOut.ToBaseUnits(ord.AmountOut))
		if err != nil {
			return nil, err
		}
		plan.Add(unwrap)
	}
	if opts.WrapInput && ord.Kind == order.ExactOut {
		// Exact-out swaps may leave part of the wrapped input unspent.
		refund, err := New(UnwrapWETH, MsgSender, ord.TokenIn.ToBaseUnits(decimal.Zero))
		if err != nil {
			return nil, err
		}
		plan.Add(refund)
	}

	return plan, nil
}

// swapCommand builds the single swap command for one allocation.
func swapCommand(ord *order.Order, alloc solver.Allocation, recipient common.Address, payerIsUser bool) (Command, error) {
	route := alloc.Route
	proto, ok := route.Protocol()
	if !ok {
		return Command{}, ErrHeterogeneousRoute
	}

	one := decimal.New(1, 0)
	kept := one.Sub(route.CumulativeFee())

	var fixed, limit decimal.Decimal
	if ord.Kind == order.ExactIn {
		fixed = alloc.Amount
		limit = ord.AmountOut.Mul(alloc.Fraction).Mul(kept)
	} else {
		fixed = alloc.Amount
		limit = ord.AmountIn.Mul(alloc.Fraction).DivRound(kept, 28)
	}

	switch {
	case proto == amm.ProtocolConstantProduct && ord.Kind == order.ExactIn:
		return New(V2SwapExactIn,
			recipient,
			ord.TokenIn.ToBaseUnits(ord.TokenIn.Quantize(fixed)),
			ord.TokenOut.ToBaseUnits(ord.TokenOut.Quantize(limit)),
			tokenAddresses(route.Tokens()),
			payerIsUser,
		)

	case proto == amm.ProtocolConstantProduct:
		return New(V2SwapExactOut,
			recipient,
			ord.TokenOut.ToBaseUnits(ord.TokenOut.Quantize(fixed)),
			ord.TokenIn.ToBaseUnits(ord.TokenIn.Quantize(limit)),
			tokenAddresses(route.Tokens()),
			payerIsUser,
		)

	case ord.Kind == order.ExactIn:
		packed, err := EncodePath(tokenAddresses(route.Tokens()), routeFees(route.Pools()))
		if err != nil {
			return Command{}, err
		}
		return New(V3SwapExactIn,
			recipient,
			ord.TokenIn.ToBaseUnits(ord.TokenIn.Quantize(fixed)),
			ord.TokenOut.ToBaseUnits(ord.TokenOut.Quantize(limit)),
			packed,
			payerIsUser,
		)

	default:
		// V3 exact-out paths are packed output token first.
		reversed := route.Reverse()
		packed, err := EncodePath(tokenAddresses(reversed.Tokens()), routeFees(reversed.Pools()))
		if err != nil {
			return Command{}, err
		}
		return New(V3SwapExactOut,
			recipient,
			ord.TokenOut.ToBaseUnits(ord.TokenOut.Quantize(fixed)),
			ord.TokenIn.ToBaseUnits(ord.TokenIn.Quantize(limit)),
			packed,
			payerIsUser,
		)
	}
}

func tokenAddresses(tokens []amm.Token) []common.Address {
	addrs := make([]common.Address, len(tokens))
	for i, t := range tokens {
		addrs[i] = t.Address
	}
	return addrs
}

func routeFees(pools []amm.Pool) []amm.Fee {
	fees := make([]amm.Fee, len(pools))
	for i, p := range pools {
		fees[i] = p.Fee()
	}
	return fees
}

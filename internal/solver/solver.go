package solver

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"swapsolver/internal/amm"
	"swapsolver/internal/order"
	"swapsolver/internal/routing"
)

var (
	// ErrInfeasible means the candidate routes cannot carry the full order
	// amount within its slippage tolerance.
	ErrInfeasible = errors.New("order amount exceeds route capacity at tolerance")

	// ErrInvariantViolation means the computed flow could not be decomposed
	// back into route allocations that sum to the order amount. It indicates
	// a solver bug, not a property of the order.
	ErrInvariantViolation = errors.New("flow decomposition does not sum to order amount")
)

// Allocation assigns a share of the order to one route. Amount and Fraction
// are denominated in the order's fixed token: the input token for exact-in,
// the output token for exact-out. Routes always run input to output,
// regardless of which side was fixed.
type Allocation struct {
	Route    *routing.Route
	Amount   decimal.Decimal
	Fraction decimal.Decimal
}

// Solution is an ordered split of an order across routes. Allocations are
// sorted by descending amount and their fractions sum to exactly one; the
// final allocation absorbs the division remainder.
type Solution struct {
	Order       *order.Order
	Allocations []Allocation
}

// Solve splits the order across the candidate routes by min-cost flow. Hops
// are priced in basis points of realized price impact and capacity-limited by
// each pool's depth at the order's slippage tolerance, so the cheapest
// combination of routes fills the order first and ErrInfeasible falls out
// when total depth is insufficient.
//
// Exact-out orders are solved on the reversed routes from the output token;
// the returned allocations are re-reversed into execution order.
func Solve(ord *order.Order, routes []*routing.Route) (*Solution, error) {
	fixed := ord.TokenIn
	if ord.Kind == order.ExactOut {
		fixed = ord.TokenOut
	}

	net := newNetwork()
	source := net.node(fixed)

	demand := ord.Fixed()
	demandUnits := fixed.ToBaseUnits(demand)
	if demandUnits.Sign() <= 0 {
		return nil, fmt.Errorf("order amount %s: %w", demand, ErrInfeasible)
	}

	sink := -1
	for _, route := range routes {
		if route.Start().Address != ord.TokenIn.Address || route.End().Address != ord.TokenOut.Address {
			return nil, fmt.Errorf("route %s does not connect %s to %s", route, ord.TokenIn, ord.TokenOut)
		}
		if ord.Kind == order.ExactOut {
			route = route.Reverse()
		}
		if err := addRoute(net, route, demand, ord.Slippage); err != nil {
			if errors.Is(err, amm.ErrUninitializedPool) {
				continue
			}
			return nil, err
		}
		sink = net.node(route.End())
	}
	if sink < 0 {
		return nil, fmt.Errorf("no usable routes: %w", ErrInfeasible)
	}

	if err := push(net, source, sink, demandUnits); err != nil {
		return nil, err
	}

	allocations, err := decompose(net, source, sink, fixed, demandUnits)
	if err != nil {
		return nil, err
	}
	if ord.Kind == order.ExactOut {
		for i := range allocations {
			allocations[i].Route = allocations[i].Route.Reverse()
		}
	}

	assignFractions(allocations, demand)
	return &Solution{Order: ord, Allocations: allocations}, nil
}

// addRoute walks the route once and inserts one capacity-limited arc per hop.
// All capacities are expressed in base units of the start token by dividing
// each hop's depth by the spot price accumulated over the hops before it.
func addRoute(net *network, route *routing.Route, demand, slippage decimal.Decimal) error {
	start := route.Start()
	tokens := route.Tokens()
	running := decimal.New(1, 0)

	for i, pool := range route.Pools() {
		tokenIn := tokens[i]

		depth, err := pool.Depth(tokenIn, slippage)
		if err != nil {
			return fmt.Errorf("hop %d (%s): %w", i, pool.Address().Hex(), err)
		}
		capacity := start.ToBaseUnits(depth.DivRound(running, 28))

		cost, err := hopCost(pool, tokenIn, demand.Mul(running), depth, slippage)
		if err != nil {
			return fmt.Errorf("hop %d (%s): %w", i, pool.Address().Hex(), err)
		}

		net.addHop(net.node(tokenIn), net.node(tokens[i+1]), capacity, cost, pool)

		price, err := pool.Price(tokenIn)
		if err != nil {
			return fmt.Errorf("hop %d (%s): %w", i, pool.Address().Hex(), err)
		}
		running = running.Mul(price)
	}
	return nil
}

// hopCost prices one pool traversal in basis points. A hop that cannot carry
// the whole demand is charged the full slippage tolerance; one that can is
// charged the impact it would actually realize.
func hopCost(pool amm.Pool, tokenIn amm.Token, size, depth, slippage decimal.Decimal) (int64, error) {
	if depth.LessThan(size) {
		return toBasisPoints(slippage), nil
	}
	impact, err := pool.Reflexivity(tokenIn, size)
	if err != nil {
		if errors.Is(err, amm.ErrSizeOutOfBounds) {
			return toBasisPoints(slippage), nil
		}
		return 0, err
	}
	return toBasisPoints(impact), nil
}

func toBasisPoints(ratio decimal.Decimal) int64 {
	return ratio.Mul(decimal.New(10_000, 0)).Round(0).IntPart()
}

// push runs successive shortest augmenting paths until the demand is met.
func push(net *network, source, sink int, demand *big.Int) error {
	remaining := new(big.Int).Set(demand)
	for remaining.Sign() > 0 {
		predArc := net.shortestPath(source, sink)
		if predArc == nil {
			return fmt.Errorf("%s base units unroutable: %w", remaining, ErrInfeasible)
		}
		pushed := net.augment(source, sink, predArc, remaining)
		if pushed.Sign() == 0 {
			return fmt.Errorf("%s base units unroutable: %w", remaining, ErrInfeasible)
		}
		remaining.Sub(remaining, pushed)
	}
	return nil
}

// decompose strips source-to-sink paths out of the settled flow. Costs are
// non-negative, so the flow is acyclic and stripping terminates; each
// stripped path becomes one allocation carrying its bottleneck amount.
func decompose(net *network, source, sink int, fixed amm.Token, demand *big.Int) ([]Allocation, error) {
	flows := make([]*big.Int, len(net.arcs))
	for idx, a := range net.arcs {
		if a.forward {
			flows[idx] = new(big.Int).Set(net.flowOn(idx))
		}
	}

	next := func(u int) int {
		for _, idx := range net.adj[u] {
			if flows[idx] != nil && flows[idx].Sign() > 0 {
				return idx
			}
		}
		return -1
	}

	var allocations []Allocation
	accounted := new(big.Int)
	for {
		idx := next(source)
		if idx < 0 {
			break
		}

		var (
			path       []int
			bottleneck *big.Int
		)
		for u := source; u != sink; {
			if idx = next(u); idx < 0 {
				return nil, fmt.Errorf("flow dead-ends at %s: %w", net.tokens[u], ErrInvariantViolation)
			}
			if len(path) == len(net.tokens) {
				return nil, fmt.Errorf("flow path longer than node count: %w", ErrInvariantViolation)
			}
			path = append(path, idx)
			if bottleneck == nil || flows[idx].Cmp(bottleneck) < 0 {
				bottleneck = flows[idx]
			}
			u = net.arcs[idx].to
		}

		bottleneck = new(big.Int).Set(bottleneck)
		pools := make([]amm.Pool, len(path))
		for i, idx := range path {
			flows[idx].Sub(flows[idx], bottleneck)
			pools[i] = net.arcs[idx].pool
		}

		route, err := routing.New(fixed, pools...)
		if err != nil {
			return nil, fmt.Errorf("stripped path: %w", err)
		}
		allocations = append(allocations, Allocation{
			Route:  route,
			Amount: fixed.FromBaseUnits(bottleneck),
		})
		accounted.Add(accounted, bottleneck)
	}

	if accounted.Cmp(demand) != 0 {
		return nil, fmt.Errorf("stripped %s of %s base units: %w", accounted, demand, ErrInvariantViolation)
	}
	return allocations, nil
}

// assignFractions orders allocations largest first and derives each share of
// the total. The last fraction is defined as one minus the rest, so the sum
// is exactly one even when the divisions do not terminate.
func assignFractions(allocations []Allocation, total decimal.Decimal) {
	sort.SliceStable(allocations, func(i, j int) bool {
		if !allocations[i].Amount.Equal(allocations[j].Amount) {
			return allocations[i].Amount.GreaterThan(allocations[j].Amount)
		}
		return allocations[i].Route.Key() < allocations[j].Route.Key()
	})

	one := decimal.New(1, 0)
	rest := one
	for i := range allocations {
		if i == len(allocations)-1 {
			allocations[i].Fraction = rest
			return
		}
		f := allocations[i].Amount.DivRound(total, 28)
		allocations[i].Fraction = f
		rest = rest.Sub(f)
	}
}

package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"swapsolver/internal/amm"
)

var (
	// ErrEmptyRoute means a route was built with no pools.
	ErrEmptyRoute = errors.New("route has no pools")

	// ErrDiscontiguousRoute means a hop's input token is not a side of its
	// pool, so the route cannot be walked from the start token.
	ErrDiscontiguousRoute = errors.New("route hops are not contiguous")
)

// Route is an ordered chain of pools walked from a start token. Each hop
// swaps the running token for the other side of its pool, so the token
// sequence is fully determined by the start token and the pool list.
type Route struct {
	start  amm.Token
	pools  []amm.Pool
	tokens []amm.Token
}

// New validates that the pool chain is walkable from start and returns the
// route. The token sequence is resolved once here; later walks reuse it.
func New(start amm.Token, pools ...amm.Pool) (*Route, error) {
	if len(pools) == 0 {
		return nil, ErrEmptyRoute
	}

	tokens := make([]amm.Token, 0, len(pools)+1)
	tokens = append(tokens, start)

	current := start
	for i, pool := range pools {
		next, err := pool.Other(current)
		if err != nil {
			return nil, fmt.Errorf("hop %d (%s): %w", i, pool.Address().Hex(), ErrDiscontiguousRoute)
		}
		tokens = append(tokens, next)
		current = next
	}

	return &Route{start: start, pools: pools, tokens: tokens}, nil
}

func (r *Route) Start() amm.Token { return r.start }
func (r *Route) End() amm.Token   { return r.tokens[len(r.tokens)-1] }
func (r *Route) Len() int         { return len(r.pools) }

// Pools returns the hop pools in walk order. The slice is shared; callers
// must not mutate it.
func (r *Route) Pools() []amm.Pool { return r.pools }

// Tokens returns the token sequence from start to end, one longer than the
// pool list.
func (r *Route) Tokens() []amm.Token { return r.tokens }

// Key is a stable identity for the route: the start token followed by each
// hop's pool address, in order. Two routes with the same key visit the same
// pools in the same direction.
func (r *Route) Key() string {
	var b strings.Builder
	b.WriteString(r.start.Address.Hex())
	for _, pool := range r.pools {
		b.WriteByte('>')
		b.WriteString(pool.Address().Hex())
	}
	return b.String()
}

func (r *Route) String() string {
	var b strings.Builder
	for i, token := range r.tokens {
		if i > 0 {
			b.WriteString(" -> ")
		}
		b.WriteString(token.String())
	}
	return b.String()
}

// Price is the spot exchange rate of the start token in end-token terms,
// the product of each hop's spot price. Fees are not included; see
// CumulativeFee.
func (r *Route) Price() (decimal.Decimal, error) {
	price := decimal.New(1, 0)
	for i, pool := range r.pools {
		hop, err := pool.Price(r.tokens[i])
		if err != nil {
			return decimal.Zero, fmt.Errorf("hop %d (%s): %w", i, pool.Address().Hex(), err)
		}
		price = price.Mul(hop)
	}
	return price, nil
}

// Liquidity is the route's capacity ceiling in start-token units: the
// smallest hop liquidity, each converted back to the start token at the spot
// prices of the hops before it.
func (r *Route) Liquidity() (decimal.Decimal, error) {
	var (
		minimum decimal.Decimal
		found   bool
	)
	running := decimal.New(1, 0)
	for i, pool := range r.pools {
		hopLiquidity, err := pool.Liquidity(r.tokens[i])
		if err != nil {
			return decimal.Zero, fmt.Errorf("hop %d (%s): %w", i, pool.Address().Hex(), err)
		}
		inStartUnits := hopLiquidity.DivRound(running, 28)
		if !found || inStartUnits.LessThan(minimum) {
			minimum = inStartUnits
			found = true
		}

		hopPrice, err := pool.Price(r.tokens[i])
		if err != nil {
			return decimal.Zero, fmt.Errorf("hop %d (%s): %w", i, pool.Address().Hex(), err)
		}
		running = running.Mul(hopPrice)
	}
	return r.start.Quantize(minimum), nil
}

// CumulativeFee is the total fee fraction taken across all hops:
// 1 - prod(1 - fee_i). Fees compound multiplicatively, so two 0.3% hops
// cost 0.5991%, not 0.6%.
func (r *Route) CumulativeFee() decimal.Decimal {
	one := decimal.New(1, 0)
	kept := one
	for _, pool := range r.pools {
		kept = kept.Mul(one.Sub(pool.Fee().Ratio()))
	}
	return one.Sub(kept)
}

// Reverse returns the same pool chain walked from the end token. Reversing
// twice yields a route equal to the original.
func (r *Route) Reverse() *Route {
	pools := make([]amm.Pool, len(r.pools))
	tokens := make([]amm.Token, len(r.tokens))
	for i, pool := range r.pools {
		pools[len(pools)-1-i] = pool
	}
	for i, token := range r.tokens {
		tokens[len(tokens)-1-i] = token
	}
	return &Route{start: tokens[0], pools: pools, tokens: tokens}
}

// Protocol reports the single protocol all hops share, or ok=false when the
// route mixes protocols.
func (r *Route) Protocol() (amm.Protocol, bool) {
	proto := r.pools[0].Protocol()
	for _, pool := range r.pools[1:] {
		if pool.Protocol() != proto {
			return 0, false
		}
	}
	return proto, true
}

// Visits reports whether the route passes through the given pool.
func (r *Route) Visits(pool amm.Pool) bool {
	for _, p := range r.pools {
		if p.Address() == pool.Address() {
			return true
		}
	}
	return false
}

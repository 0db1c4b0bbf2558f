// Package index maintains the in-memory token/pool graph used to discover
// candidate routes and quote market prices.
package index

import (
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swapsolver/internal/amm"
	"swapsolver/internal/routing"
)

// ErrNoLiquidity means no route between the tokens carries enough liquidity
// to quote a price.
var ErrNoLiquidity = errors.New("not enough liquidity to quote")

// DefaultMaxHops bounds route discovery. Search cost grows exponentially
// with depth and two intermediate tokens already cover the useful routes.
const DefaultMaxHops = 3

// Index is the pool graph: tokens are nodes, pools are undirected edges.
// Reads (route discovery, pricing) take the read lock so ingestion can keep
// registering pools concurrently.
type Index struct {
	mu      sync.RWMutex
	tokens  map[common.Address]amm.Token
	pools   map[common.Address]amm.Pool
	byToken map[common.Address][]amm.Pool
}

func New() *Index {
	return &Index{
		tokens:  make(map[common.Address]amm.Token),
		pools:   make(map[common.Address]amm.Pool),
		byToken: make(map[common.Address][]amm.Pool),
	}
}

// AddPool registers a pool and both its tokens. Re-adding a pool address is
// a no-op; pool state lives in the pool's reserve source, not the index.
func (ix *Index) AddPool(pool amm.Pool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.pools[pool.Address()]; exists {
		return
	}
	ix.pools[pool.Address()] = pool

	for _, token := range []amm.Token{pool.Token0(), pool.Token1()} {
		if _, exists := ix.tokens[token.Address]; !exists {
			ix.tokens[token.Address] = token
		}
		// Keep adjacency sorted by pool address so discovery order is
		// stable across runs.
		edges := append(ix.byToken[token.Address], pool)
		sort.Slice(edges, func(i, j int) bool {
			return edges[i].Address().Hex() < edges[j].Address().Hex()
		})
		ix.byToken[token.Address] = edges
	}
}

// Pool returns the registered pool at the address.
func (ix *Index) Pool(address common.Address) (amm.Pool, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	pool, ok := ix.pools[address]
	return pool, ok
}

// Token returns the token registered at the address.
func (ix *Index) Token(address common.Address) (amm.Token, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	token, ok := ix.tokens[address]
	return token, ok
}

// PoolsFor returns the pools that include the token, sorted by address.
func (ix *Index) PoolsFor(token amm.Token) []amm.Pool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]amm.Pool(nil), ix.byToken[token.Address]...)
}

// NumTokens returns the number of distinct tokens indexed.
func (ix *Index) NumTokens() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.tokens)
}

// NumPools returns the number of pools indexed.
func (ix *Index) NumPools() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.pools)
}

// FindRoutes returns every route from have to want of at most maxHops pools,
// visiting no pool twice. maxHops <= 0 falls back to DefaultMaxHops.
func (ix *Index) FindRoutes(have, want amm.Token, maxHops int) []*routing.Route {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var (
		found []*routing.Route
		used  = make(map[common.Address]bool)
		chain []amm.Pool
	)

	var walk func(current amm.Token)
	walk = func(current amm.Token) {
		for _, pool := range ix.byToken[current.Address] {
			if used[pool.Address()] {
				continue
			}
			next, err := pool.Other(current)
			if err != nil {
				continue
			}

			chain = append(chain, pool)
			if next.Address == want.Address {
				if route, err := routing.New(have, append([]amm.Pool(nil), chain...)...); err == nil {
					found = append(found, route)
				}
			} else if len(chain) < maxHops {
				used[pool.Address()] = true
				walk(next)
				delete(used, pool.Address())
			}
			chain = chain[:len(chain)-1]
		}
	}
	walk(have)

	return found
}

// MidPrice quotes base in terms of quote as the liquidity-weighted average
// of route spot prices, so deeper routes dominate the quote. Routes whose
// liquidity falls below minLiquidity (in base-token units) are ignored.
func (ix *Index) MidPrice(base, quote amm.Token, maxHops int, minLiquidity decimal.Decimal) (decimal.Decimal, error) {
	var (
		weighted decimal.Decimal
		total    decimal.Decimal
	)
	for _, route := range ix.FindRoutes(base, quote, maxHops) {
		liquidity, err := route.Liquidity()
		if err != nil || liquidity.LessThan(minLiquidity) {
			continue
		}
		price, err := route.Price()
		if err != nil {
			continue
		}
		weighted = weighted.Add(price.Mul(liquidity))
		total = total.Add(liquidity)
	}

	if total.Sign() == 0 {
		return decimal.Zero, ErrNoLiquidity
	}
	return weighted.DivRound(total, 28), nil
}

package solver

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"swapsolver/internal/amm"
)

// infinity represents an unreachable distance in basis points.
const infinity = math.MaxInt64 / 2

// arc is one direction of a residual edge. Arcs are stored in pairs; the
// partner of arcs[i] is arcs[i^1], so pushing flow here frees capacity there.
type arc struct {
	to      int
	rem     *big.Int // remaining residual capacity in base units
	cost    int64    // basis points, negated on the reverse arc
	pool    amm.Pool // nil on reverse arcs
	forward bool
}

// network is a token graph with residual capacities, built per solve from the
// candidate routes. Nodes are interned token addresses.
type network struct {
	arcs   []*arc
	adj    [][]int
	ids    map[common.Address]int
	tokens []amm.Token

	// seen dedupes hops shared between routes: the same pool traversed in
	// the same direction contributes capacity once.
	seen map[hopKey]bool
}

type hopKey struct {
	from, to int
	pool     common.Address
}

func newNetwork() *network {
	return &network{
		ids:  make(map[common.Address]int),
		seen: make(map[hopKey]bool),
	}
}

// node interns a token and returns its index.
func (n *network) node(token amm.Token) int {
	if id, ok := n.ids[token.Address]; ok {
		return id
	}
	id := len(n.tokens)
	n.ids[token.Address] = id
	n.tokens = append(n.tokens, token)
	n.adj = append(n.adj, nil)
	return id
}

// addHop inserts a forward/reverse arc pair for a pool traversal, unless the
// same traversal was already added by another route.
func (n *network) addHop(from, to int, capacity *big.Int, cost int64, pool amm.Pool) {
	key := hopKey{from: from, to: to, pool: pool.Address()}
	if n.seen[key] {
		return
	}
	n.seen[key] = true

	n.adj[from] = append(n.adj[from], len(n.arcs))
	n.arcs = append(n.arcs, &arc{to: to, rem: new(big.Int).Set(capacity), cost: cost, pool: pool, forward: true})
	n.adj[to] = append(n.adj[to], len(n.arcs))
	n.arcs = append(n.arcs, &arc{to: from, rem: new(big.Int), cost: -cost})
}

// shortestPath runs SPFA over the residual graph and returns, for each node,
// the index of the arc it was reached through, or -1 when the sink is
// unreachable. Reverse arcs carry negative costs, so a Bellman-Ford family
// search is required rather than Dijkstra.
func (n *network) shortestPath(source, sink int) []int {
	nodes := len(n.tokens)
	dist := make([]int64, nodes)
	predArc := make([]int, nodes)
	inQueue := make([]bool, nodes)
	for i := range dist {
		dist[i] = infinity
		predArc[i] = -1
	}
	dist[source] = 0

	queue := make([]int, 0, nodes)
	queue = append(queue, source)
	inQueue[source] = true

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		inQueue[u] = false

		for _, idx := range n.adj[u] {
			a := n.arcs[idx]
			if a.rem.Sign() == 0 {
				continue
			}
			if next := dist[u] + a.cost; next < dist[a.to] {
				dist[a.to] = next
				predArc[a.to] = idx
				if !inQueue[a.to] {
					queue = append(queue, a.to)
					inQueue[a.to] = true
				}
			}
		}
	}

	if dist[sink] >= infinity {
		return nil
	}
	return predArc
}

// augment pushes up to want along the predecessor chain into sink and
// returns the amount actually pushed (the path bottleneck).
func (n *network) augment(source, sink int, predArc []int, want *big.Int) *big.Int {
	bottleneck := new(big.Int).Set(want)
	for v := sink; v != source; {
		a := n.arcs[predArc[v]]
		if a.rem.Cmp(bottleneck) < 0 {
			bottleneck.Set(a.rem)
		}
		v = n.arcs[predArc[v]^1].to
	}

	for v := sink; v != source; {
		idx := predArc[v]
		n.arcs[idx].rem.Sub(n.arcs[idx].rem, bottleneck)
		n.arcs[idx^1].rem.Add(n.arcs[idx^1].rem, bottleneck)
		v = n.arcs[idx^1].to
	}
	return bottleneck
}

// flowOn returns the flow pushed through a forward arc, which accumulates on
// its reverse partner.
func (n *network) flowOn(idx int) *big.Int {
	return n.arcs[idx^1].rem
}

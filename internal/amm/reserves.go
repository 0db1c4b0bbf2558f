package amm

import (
	"math/big"
	"sync"
)

// ReserveSource supplies a pool's current reserve snapshot in base units.
// Implementations must return both reserves from the same observation so a
// single solve never mixes reads taken at different heights.
type ReserveSource interface {
	Reserves() (reserve0, reserve1 *big.Int, err error)
}

// SlotSource additionally exposes the current sqrt price for pools whose spot
// price is tracked separately from reserves.
type SlotSource interface {
	ReserveSource
	SqrtPriceX96() (*big.Int, error)
}

// StaticReserves is a fixed snapshot, used for tests and for one-shot solves
// where the caller fetched all pool state at a single block beforehand.
type StaticReserves struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
	SqrtP    *big.Int
}

func (s StaticReserves) Reserves() (*big.Int, *big.Int, error) {
	return s.Reserve0, s.Reserve1, nil
}

func (s StaticReserves) SqrtPriceX96() (*big.Int, error) {
	return s.SqrtP, nil
}

// ManagedReserves is a reserve snapshot kept current by an event stream.
// Reads and updates may race between the ingestion loop and a solve, so
// access is guarded; a single solve still sees one coherent pair because
// updates replace both reserves together.
type ManagedReserves struct {
	mu       sync.RWMutex
	reserve0 *big.Int
	reserve1 *big.Int
	sqrtP    *big.Int
}

// NewManagedReserves seeds a managed snapshot with the given reserves.
func NewManagedReserves(reserve0, reserve1 *big.Int) *ManagedReserves {
	return &ManagedReserves{
		reserve0: new(big.Int).Set(reserve0),
		reserve1: new(big.Int).Set(reserve1),
	}
}

func (m *ManagedReserves) Reserves() (*big.Int, *big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.reserve0), new(big.Int).Set(m.reserve1), nil
}

func (m *ManagedReserves) SqrtPriceX96() (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sqrtP == nil {
		return nil, ErrUninitializedPool
	}
	return new(big.Int).Set(m.sqrtP), nil
}

// Set replaces the snapshot, as after a Sync event carrying absolute reserves.
func (m *ManagedReserves) Set(reserve0, reserve1 *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserve0.Set(reserve0)
	m.reserve1.Set(reserve1)
}

// Apply adds signed deltas to the snapshot, as after a concentrated-pool Swap
// event whose amounts are negative for outflow.
func (m *ManagedReserves) Apply(delta0, delta1 *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserve0.Add(m.reserve0, delta0)
	m.reserve1.Add(m.reserve1, delta1)
}

// SetSqrtPriceX96 records the current sqrt price from a Swap event.
func (m *ManagedReserves) SetSqrtPriceX96(sqrtP *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sqrtP == nil {
		m.sqrtP = new(big.Int)
	}
	m.sqrtP.Set(sqrtP)
}

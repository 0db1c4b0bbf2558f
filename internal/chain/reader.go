package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"swapsolver/internal/amm"
)

// readerABIJSON carries every view function the reader touches: v2 pair
// reserves, v3 slot0, ERC-20 metadata and balances, factory lookups, and the
// Permit2 allowance record.
const readerABIJSON = `[
	{"inputs":[],"name":"getReserves","outputs":[
		{"internalType":"uint112","name":"reserve0","type":"uint112"},
		{"internalType":"uint112","name":"reserve1","type":"uint112"},
		{"internalType":"uint32","name":"blockTimestampLast","type":"uint32"}],
		"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"slot0","outputs":[
		{"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},
		{"internalType":"int24","name":"tick","type":"int24"},
		{"internalType":"uint16","name":"observationIndex","type":"uint16"},
		{"internalType":"uint16","name":"observationCardinality","type":"uint16"},
		{"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},
		{"internalType":"uint8","name":"feeProtocol","type":"uint8"},
		{"internalType":"bool","name":"unlocked","type":"bool"}],
		"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],
		"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],
		"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],
		"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],
		"stateMutability":"view","type":"function"},
	{"inputs":[
		{"internalType":"address","name":"tokenA","type":"address"},
		{"internalType":"address","name":"tokenB","type":"address"}],
		"name":"getPair","outputs":[{"internalType":"address","name":"","type":"address"}],
		"stateMutability":"view","type":"function"},
	{"inputs":[
		{"internalType":"address","name":"tokenA","type":"address"},
		{"internalType":"address","name":"tokenB","type":"address"},
		{"internalType":"uint24","name":"fee","type":"uint24"}],
		"name":"getPool","outputs":[{"internalType":"address","name":"","type":"address"}],
		"stateMutability":"view","type":"function"},
	{"inputs":[
		{"internalType":"address","name":"owner","type":"address"},
		{"internalType":"address","name":"token","type":"address"},
		{"internalType":"address","name":"spender","type":"address"}],
		"name":"allowance","outputs":[
		{"internalType":"uint160","name":"amount","type":"uint160"},
		{"internalType":"uint48","name":"expiration","type":"uint48"},
		{"internalType":"uint48","name":"nonce","type":"uint48"}],
		"stateMutability":"view","type":"function"}
]`

var readerABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(readerABIJSON))
	if err != nil {
		panic(fmt.Sprintf("failed to parse reader ABI: %v", err))
	}
	readerABI = parsed
}

func packCall(method string, arguments ...any) []byte {
	data, err := readerABI.Pack(method, arguments...)
	if err != nil {
		panic(fmt.Sprintf("failed to pack %s: %v", method, err))
	}
	return data
}

// PairState is a v2 pair's reserves at the snapshot block.
type PairState struct {
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Static converts the state into an immutable reserve source.
func (s PairState) Static() amm.StaticReserves {
	return amm.StaticReserves{Reserve0: s.Reserve0, Reserve1: s.Reserve1}
}

// PoolRef names a v3 pool and its tokens so balances can be read alongside
// the slot.
type PoolRef struct {
	Address common.Address
	Token0  common.Address
	Token1  common.Address
}

// SlotState is a v3 pool's price slot and token balances at the snapshot
// block.
type SlotState struct {
	SqrtPriceX96 *big.Int
	Balance0     *big.Int
	Balance1     *big.Int
}

// Static converts the state into an immutable reserve source.
func (s SlotState) Static() amm.StaticReserves {
	return amm.StaticReserves{Reserve0: s.Balance0, Reserve1: s.Balance1, SqrtP: s.SqrtPriceX96}
}

// TokenInfo is on-chain ERC-20 metadata.
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// AllowanceState is one Permit2 allowance record; Nonce seeds the next
// permit signature.
type AllowanceState struct {
	Amount     *big.Int
	Expiration *big.Int
	Nonce      *big.Int
}

// Reserves reads getReserves() for every pair in one multicall. Addresses
// that do not answer (not a v2 pair, or self-destructed) are absent from the
// result rather than failing the batch.
func (c *Client) Reserves(ctx context.Context, pairs []common.Address, block *big.Int) (map[common.Address]PairState, error) {
	calls := make([]ContractCall, len(pairs))
	for i, pair := range pairs {
		calls[i] = ContractCall{Target: pair, CallData: packCall("getReserves")}
	}

	results, err := c.BatchCallContract(ctx, calls, block)
	if err != nil {
		return nil, err
	}

	states := make(map[common.Address]PairState, len(pairs))
	for i, result := range results {
		if !result.Success {
			continue
		}
		values, err := readerABI.Unpack("getReserves", result.ReturnData)
		if err != nil {
			continue
		}
		states[pairs[i]] = PairState{
			Reserve0: values[0].(*big.Int),
			Reserve1: values[1].(*big.Int),
		}
	}
	return states, nil
}

// SlotStates reads slot0() plus both token balances for every v3 pool in one
// multicall, three calls per pool, all at the same block.
func (c *Client) SlotStates(ctx context.Context, pools []PoolRef, block *big.Int) (map[common.Address]SlotState, error) {
	calls := make([]ContractCall, 0, 3*len(pools))
	for _, pool := range pools {
		calls = append(calls,
			ContractCall{Target: pool.Address, CallData: packCall("slot0")},
			ContractCall{Target: pool.Token0, CallData: packCall("balanceOf", pool.Address)},
			ContractCall{Target: pool.Token1, CallData: packCall("balanceOf", pool.Address)},
		)
	}

	results, err := c.BatchCallContract(ctx, calls, block)
	if err != nil {
		return nil, err
	}

	states := make(map[common.Address]SlotState, len(pools))
	for i, pool := range pools {
		slot, bal0, bal1 := results[3*i], results[3*i+1], results[3*i+2]
		if !slot.Success || !bal0.Success || !bal1.Success {
			continue
		}
		slotValues, err := readerABI.Unpack("slot0", slot.ReturnData)
		if err != nil {
			continue
		}
		balance0, err0 := readerABI.Unpack("balanceOf", bal0.ReturnData)
		balance1, err1 := readerABI.Unpack("balanceOf", bal1.ReturnData)
		if err0 != nil || err1 != nil {
			continue
		}
		states[pool.Address] = SlotState{
			SqrtPriceX96: slotValues[0].(*big.Int),
			Balance0:     balance0[0].(*big.Int),
			Balance1:     balance1[0].(*big.Int),
		}
	}
	return states, nil
}

// TokenMetadata reads symbol() and decimals() for every token in one
// multicall. Tokens that answer with non-standard encodings are skipped.
func (c *Client) TokenMetadata(ctx context.Context, tokens []common.Address, block *big.Int) (map[common.Address]TokenInfo, error) {
	calls := make([]ContractCall, 0, 2*len(tokens))
	for _, token := range tokens {
		calls = append(calls,
			ContractCall{Target: token, CallData: packCall("symbol")},
			ContractCall{Target: token, CallData: packCall("decimals")},
		)
	}

	results, err := c.BatchCallContract(ctx, calls, block)
	if err != nil {
		return nil, err
	}

	info := make(map[common.Address]TokenInfo, len(tokens))
	for i, token := range tokens {
		symbolRes, decimalsRes := results[2*i], results[2*i+1]
		if !symbolRes.Success || !decimalsRes.Success {
			continue
		}
		symbolValues, err0 := readerABI.Unpack("symbol", symbolRes.ReturnData)
		decimalsValues, err1 := readerABI.Unpack("decimals", decimalsRes.ReturnData)
		if err0 != nil || err1 != nil {
			continue
		}
		info[token] = TokenInfo{
			Address:  token,
			Symbol:   symbolValues[0].(string),
			Decimals: decimalsValues[0].(uint8),
		}
	}
	return info, nil
}

// V2PairFor asks a v2 factory for the pair of the two tokens. The zero
// address means no pair has been created.
func (c *Client) V2PairFor(ctx context.Context, factory, tokenA, tokenB common.Address, block *big.Int) (common.Address, error) {
	data, err := c.CallContract(ctx, factory, packCall("getPair", tokenA, tokenB), block)
	if err != nil {
		return common.Address{}, err
	}
	values, err := readerABI.Unpack("getPair", data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack getPair result: %w", err)
	}
	return values[0].(common.Address), nil
}

// V3PoolsFor asks a v3 factory for the pools of the two tokens across the
// given fee tiers, one multicall for all tiers. Missing tiers are absent
// from the result.
func (c *Client) V3PoolsFor(ctx context.Context, factory, tokenA, tokenB common.Address, fees []amm.Fee, block *big.Int) (map[amm.Fee]common.Address, error) {
	calls := make([]ContractCall, len(fees))
	for i, fee := range fees {
		calls[i] = ContractCall{
			Target:   factory,
			CallData: packCall("getPool", tokenA, tokenB, big.NewInt(int64(fee))),
		}
	}

	results, err := c.BatchCallContract(ctx, calls, block)
	if err != nil {
		return nil, err
	}

	pools := make(map[amm.Fee]common.Address, len(fees))
	for i, fee := range fees {
		if !results[i].Success {
			continue
		}
		values, err := readerABI.Unpack("getPool", results[i].ReturnData)
		if err != nil {
			continue
		}
		if addr := values[0].(common.Address); addr != (common.Address{}) {
			pools[fee] = addr
		}
	}
	return pools, nil
}

// Permit2Allowance reads the (amount, expiration, nonce) allowance record
// for owner's token toward spender.
func (c *Client) Permit2Allowance(ctx context.Context, permit2, owner, token, spender common.Address) (AllowanceState, error) {
	data, err := c.CallContract(ctx, permit2, packCall("allowance", owner, token, spender), nil)
	if err != nil {
		return AllowanceState{}, err
	}
	values, err := readerABI.Unpack("allowance", data)
	if err != nil {
		return AllowanceState{}, fmt.Errorf("failed to unpack allowance result: %w", err)
	}
	return AllowanceState{
		Amount:     values[0].(*big.Int),
		Expiration: values[1].(*big.Int),
		Nonce:      values[2].(*big.Int),
	}, nil
}

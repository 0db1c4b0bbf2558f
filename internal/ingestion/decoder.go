// Package ingestion streams pool events over WebSocket and keeps managed
// reserve snapshots current.
package ingestion

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event topics (keccak256 hashes of event signatures)
var (
	// Sync(uint112,uint112) - v2 pairs emit this with absolute reserves after every swap/mint/burn
	SyncEventTopic = crypto.Keccak256Hash([]byte("Sync(uint112,uint112)"))

	// Swap(address,address,int256,int256,uint160,uint128,int24) - v3 pools emit signed
	// token deltas and the post-swap sqrt price
	SwapEventTopic = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

// SyncEvent is a decoded v2 Sync event.
type SyncEvent struct {
	Pool        common.Address
	Reserve0    *big.Int
	Reserve1    *big.Int
	BlockNumber uint64
	LogIndex    uint
	TxHash      string
	Timestamp   time.Time
}

// SwapEvent is a decoded v3 Swap event. Amounts are signed from the pool's
// perspective: positive flows in, negative flows out.
type SwapEvent struct {
	Pool         common.Address
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         *big.Int
	BlockNumber  uint64
	LogIndex     uint
	TxHash       string
	Timestamp    time.Time
}

// LogEntry represents a raw log entry from the WebSocket.
type LogEntry struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	BlockHash        string   `json:"blockHash"`
	LogIndex         string   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

// Decoder handles event decoding.
type Decoder struct {
	syncABI abi.Arguments
	swapABI abi.Arguments
}

// NewDecoder creates a new event decoder.
func NewDecoder() *Decoder {
	// Sync event: both reserves live in the data field (not indexed)
	uint112Type, _ := abi.NewType("uint112", "", nil)
	syncABI := abi.Arguments{
		{Type: uint112Type, Name: "reserve0"},
		{Type: uint112Type, Name: "reserve1"},
	}

	// Swap event: sender and recipient are indexed (topics), the rest is data
	int256Type, _ := abi.NewType("int256", "", nil)
	uint160Type, _ := abi.NewType("uint160", "", nil)
	uint128Type, _ := abi.NewType("uint128", "", nil)
	int24Type, _ := abi.NewType("int24", "", nil)

	swapABI := abi.Arguments{
		{Type: int256Type, Name: "amount0"},
		{Type: int256Type, Name: "amount1"},
		{Type: uint160Type, Name: "sqrtPriceX96"},
		{Type: uint128Type, Name: "liquidity"},
		{Type: int24Type, Name: "tick"},
	}

	return &Decoder{
		syncABI: syncABI,
		swapABI: swapABI,
	}
}

// DecodeSyncEvent decodes a Sync event from a log entry.
func (d *Decoder) DecodeSyncEvent(log *LogEntry) (*SyncEvent, error) {
	if len(log.Topics) < 1 {
		return nil, fmt.Errorf("no topics in log")
	}

	if common.HexToHash(log.Topics[0]) != SyncEventTopic {
		return nil, fmt.Errorf("not a Sync event: %s", log.Topics[0])
	}

	data := common.FromHex(log.Data)
	if len(data) < 64 {
		return nil, fmt.Errorf("data too short: %d bytes", len(data))
	}

	values, err := d.syncABI.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpacking sync data: %w", err)
	}

	reserve0, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid reserve0 type")
	}
	reserve1, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid reserve1 type")
	}

	blockNum, err := hexToUint64(log.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("parsing block number: %w", err)
	}
	logIdx, err := hexToUint(log.LogIndex)
	if err != nil {
		return nil, fmt.Errorf("parsing log index: %w", err)
	}

	return &SyncEvent{
		Pool:        common.HexToAddress(log.Address),
		Reserve0:    reserve0,
		Reserve1:    reserve1,
		BlockNumber: blockNum,
		LogIndex:    logIdx,
		TxHash:      log.TransactionHash,
		Timestamp:   time.Now(),
	}, nil
}

// DecodeSwapEvent decodes a v3 Swap event from a log entry.
func (d *Decoder) DecodeSwapEvent(log *LogEntry) (*SwapEvent, error) {
	if len(log.Topics) < 3 {
		return nil, fmt.Errorf("insufficient topics for Swap: %d", len(log.Topics))
	}

	if common.HexToHash(log.Topics[0]) != SwapEventTopic {
		return nil, fmt.Errorf("not a Swap event: %s", log.Topics[0])
	}

	data := common.FromHex(log.Data)
	if len(data) < 160 {
		return nil, fmt.Errorf("data too short for Swap: %d bytes", len(data))
	}

	values, err := d.swapABI.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpacking swap data: %w", err)
	}

	amount0, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid amount0 type")
	}
	amount1, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid amount1 type")
	}
	sqrtPrice, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid sqrtPriceX96 type")
	}
	liquidity, ok := values[3].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid liquidity type")
	}
	tick, ok := values[4].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid tick type")
	}

	blockNum, err := hexToUint64(log.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("parsing block number: %w", err)
	}
	logIdx, err := hexToUint(log.LogIndex)
	if err != nil {
		return nil, fmt.Errorf("parsing log index: %w", err)
	}

	return &SwapEvent{
		Pool:         common.HexToAddress(log.Address),
		Amount0:      amount0,
		Amount1:      amount1,
		SqrtPriceX96: sqrtPrice,
		Liquidity:    liquidity,
		Tick:         tick,
		BlockNumber:  blockNum,
		LogIndex:     logIdx,
		TxHash:       log.TransactionHash,
		Timestamp:    time.Now(),
	}, nil
}

// IsSyncEvent checks if a log entry is a v2 Sync event.
func IsSyncEvent(log *LogEntry) bool {
	if len(log.Topics) < 1 {
		return false
	}
	return common.HexToHash(log.Topics[0]) == SyncEventTopic
}

// IsSwapEvent checks if a log entry is a v3 Swap event.
func IsSwapEvent(log *LogEntry) bool {
	if len(log.Topics) < 1 {
		return false
	}
	return common.HexToHash(log.Topics[0]) == SwapEventTopic
}

func hexToUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	var val uint64
	_, err := fmt.Sscanf(s, "%x", &val)
	return val, err
}

func hexToUint(s string) (uint, error) {
	s = strings.TrimPrefix(s, "0x")
	var val uint
	_, err := fmt.Sscanf(s, "%x", &val)
	return val, err
}

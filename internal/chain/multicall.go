package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall3 is deployed at the same address on all major EVM chains.
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const multicall3ABIJSON = `[{
	"inputs": [{
		"components": [
			{"internalType": "address", "name": "target", "type": "address"},
			{"internalType": "bool", "name": "allowFailure", "type": "bool"},
			{"internalType": "bytes", "name": "callData", "type": "bytes"}
		],
		"internalType": "struct Multicall3.Call3[]",
		"name": "calls",
		"type": "tuple[]"
	}],
	"name": "aggregate3",
	"outputs": [{
		"components": [
			{"internalType": "bool", "name": "success", "type": "bool"},
			{"internalType": "bytes", "name": "returnData", "type": "bytes"}
		],
		"internalType": "struct Multicall3.Result[]",
		"name": "returnData",
		"type": "tuple[]"
	}],
	"stateMutability": "payable",
	"type": "function"
}]`

var multicall3ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(multicall3ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("failed to parse Multicall3 ABI: %v", err))
	}
	multicall3ABI = parsed
}

// ContractCall is one read in a batch.
type ContractCall struct {
	Target   common.Address
	CallData []byte
}

// CallResult is the outcome of one call in a batch, in call order.
type CallResult struct {
	Success    bool
	ReturnData []byte
}

// BatchCallContract executes calls through Multicall3 aggregate3, all at the
// same block when block is non-nil. Individual call failures surface as
// Success=false rather than failing the batch.
func (c *Client) BatchCallContract(ctx context.Context, calls []ContractCall, block *big.Int) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	type call3 struct {
		Target       common.Address
		AllowFailure bool
		CallData     []byte
	}
	aggregated := make([]call3, len(calls))
	for i, call := range calls {
		aggregated[i] = call3{
			Target:       call.Target,
			AllowFailure: true,
			CallData:     call.CallData,
		}
	}

	callData, err := multicall3ABI.Pack("aggregate3", aggregated)
	if err != nil {
		return nil, fmt.Errorf("failed to pack aggregate3 call: %w", err)
	}

	var returned []byte
	err = c.retryCall(func() error {
		var callErr error
		returned, callErr = c.CallContract(ctx, Multicall3Address, callData, block)
		return callErr
	}, 3)
	if err != nil {
		return nil, fmt.Errorf("multicall failed: %w", err)
	}

	unpacked, err := multicall3ABI.Unpack("aggregate3", returned)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack aggregate3 result: %w", err)
	}

	raw, ok := unpacked[0].([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	})
	if !ok {
		return nil, fmt.Errorf("unexpected aggregate3 result type %T", unpacked[0])
	}

	results := make([]CallResult, len(raw))
	for i, r := range raw {
		results[i] = CallResult{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}

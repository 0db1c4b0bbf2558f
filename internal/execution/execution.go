// Package execution turns compiled router plans into execute() calldata and
// signed transactions.
package execution

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"swapsolver/internal/urouter"
)

var ErrNotExecuteCall = errors.New("calldata is not an execute call")

// Deadline returns a unix deadline the given duration from now.
func Deadline(validFor time.Duration) *big.Int {
	return big.NewInt(time.Now().Add(validFor).Unix())
}

// executeSelector is the 4-byte selector of
// execute(bytes commands, bytes[] inputs, uint256 deadline).
var executeSelector = crypto.Keccak256([]byte("execute(bytes,bytes[],uint256)"))[:4]

var executeArgs abi.Arguments

func init() {
	bytesType, _ := abi.NewType("bytes", "", nil)
	bytesSliceType, _ := abi.NewType("bytes[]", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	executeArgs = abi.Arguments{
		{Type: bytesType, Name: "commands"},
		{Type: bytesSliceType, Name: "inputs"},
		{Type: uint256Type, Name: "deadline"},
	}
}

// EncodeExecute packs a plan into Universal Router execute() calldata.
func EncodeExecute(plan *urouter.Plan, deadline *big.Int) ([]byte, error) {
	packed, err := executeArgs.Pack(plan.EncodedCommands(), plan.EncodedInputs(), deadline)
	if err != nil {
		return nil, fmt.Errorf("packing execute arguments: %w", err)
	}
	return append(append([]byte{}, executeSelector...), packed...), nil
}

// DecodeExecute unpacks execute() calldata back into the plan it carries.
func DecodeExecute(calldata []byte) (*urouter.Plan, *big.Int, error) {
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], executeSelector) {
		return nil, nil, ErrNotExecuteCall
	}

	values, err := executeArgs.Unpack(calldata[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("unpacking execute arguments: %w", err)
	}

	commands, ok := values[0].([]byte)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected commands type %T", values[0])
	}
	inputs, ok := values[1].([][]byte)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected inputs type %T", values[1])
	}
	deadline, ok := values[2].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected deadline type %T", values[2])
	}

	plan, err := urouter.DecodePlan(commands, inputs)
	if err != nil {
		return nil, nil, err
	}
	return plan, deadline, nil
}

// TxParams describes one router transaction. Value carries attached ETH when
// the plan wraps its input.
type TxParams struct {
	Router    common.Address
	Calldata  []byte
	Value     *big.Int
	Nonce     uint64
	GasLimit  uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

// SignTransaction builds and signs an EIP-1559 transaction for the router
// call, returning the raw bytes ready for broadcast and the transaction hash.
func SignTransaction(chainID *big.Int, key *ecdsa.PrivateKey, p TxParams) ([]byte, common.Hash, error) {
	value := p.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     p.Nonce,
		GasTipCap: p.GasTipCap,
		GasFeeCap: p.GasFeeCap,
		Gas:       p.GasLimit,
		To:        &p.Router,
		Value:     value,
		Data:      p.Calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("signing transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("encoding transaction: %w", err)
	}
	return raw, signed.Hash(), nil
}

// Broadcaster sends a signed transaction to the network.
type Broadcaster interface {
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

// Submitter signs router transactions with a fixed key and broadcasts them.
type Submitter struct {
	ChainID     *big.Int
	Key         *ecdsa.PrivateKey
	Broadcaster Broadcaster
}

// Submit signs and broadcasts one router transaction.
func (s *Submitter) Submit(ctx context.Context, p TxParams) (common.Hash, error) {
	raw, _, err := SignTransaction(s.ChainID, s.Key, p)
	if err != nil {
		return common.Hash{}, err
	}
	return s.Broadcaster.SendRawTransaction(ctx, raw)
}

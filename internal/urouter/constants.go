package urouter

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Router argument sentinels. The router rewrites these placeholder values at
// execution time, so plans stay valid regardless of who submits them.
var (
	// MsgSender stands for the transaction sender.
	MsgSender = common.HexToAddress("0x0000000000000000000000000000000000000001")

	// AddressThis stands for the router contract itself, used to chain
	// commands through the router's own balance.
	AddressThis = common.HexToAddress("0x0000000000000000000000000000000000000002")

	// ETH marks a native-ether transfer where a token address is expected.
	ETH = common.Address{}

	// ContractBalance, passed as an amount, means "the router's entire
	// balance of the token".
	ContractBalance = new(big.Int).Lsh(big.NewInt(1), 255)
)

// AlreadyPaid, passed as a v2 input amount, means the pair has already
// received its input tokens.
const AlreadyPaid = 0

const (
	allowRevertFlag = 0x80
	opcodeMask      = 0x3F
)

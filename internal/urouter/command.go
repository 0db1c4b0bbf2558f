package urouter

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownOpcode means the command byte does not map to a supported
	// router command.
	ErrUnknownOpcode = errors.New("unknown router opcode")

	// ErrNotRevertible means the allow-revert flag was set on a command the
	// router always treats as mandatory.
	ErrNotRevertible = errors.New("command does not support allow-revert")

	// ErrArgCount means the argument count does not match the command's
	// schema.
	ErrArgCount = errors.New("argument count does not match command schema")

	// ErrTruncatedArgs means the encoded arguments are too short for the
	// command's schema.
	ErrTruncatedArgs = errors.New("encoded arguments truncated")
)

// Opcode identifies a router command. Values are the low six bits of the
// wire command byte.
type Opcode byte

const (
	V3SwapExactIn            Opcode = 0x00
	V3SwapExactOut           Opcode = 0x01
	Permit2TransferFrom      Opcode = 0x02
	Permit2PermitBatch       Opcode = 0x03
	Sweep                    Opcode = 0x04
	Transfer                 Opcode = 0x05
	PayPortion               Opcode = 0x06
	V2SwapExactIn            Opcode = 0x08
	V2SwapExactOut           Opcode = 0x09
	Permit2Permit            Opcode = 0x0A
	WrapETH                  Opcode = 0x0B
	UnwrapWETH               Opcode = 0x0C
	Permit2TransferFromBatch Opcode = 0x0D
	BalanceCheckERC20        Opcode = 0x0E
	SeaportV15               Opcode = 0x10
	LooksRareV2              Opcode = 0x11
	NFTX                     Opcode = 0x12
	Cryptopunks              Opcode = 0x13
	OwnerCheck721            Opcode = 0x15
	OwnerCheck1155           Opcode = 0x16
	SweepERC721              Opcode = 0x17
	X2Y2721                  Opcode = 0x18
	Sudoswap                 Opcode = 0x19
	NFT20                    Opcode = 0x1A
	X2Y21155                 Opcode = 0x1B
	Foundation               Opcode = 0x1C
	SweepERC1155             Opcode = 0x1D
	ElementMarket            Opcode = 0x1E
	SeaportV14               Opcode = 0x20
	ExecuteSubPlan           Opcode = 0x21
	ApproveERC20             Opcode = 0x22
)

// PermitDetails is one token authorization inside a Permit2 permit.
type PermitDetails struct {
	Token      common.Address
	Amount     *big.Int
	Expiration *big.Int
	Nonce      *big.Int
}

// PermitSingle is the signed payload of a PERMIT2_PERMIT command.
type PermitSingle struct {
	Details     PermitDetails
	Spender     common.Address
	SigDeadline *big.Int
}

// PermitBatch is the signed payload of a PERMIT2_PERMIT_BATCH command.
type PermitBatch struct {
	Details     []PermitDetails
	Spender     common.Address
	SigDeadline *big.Int
}

// AllowanceTransfer is one entry of a Permit2 batched transfer.
type AllowanceTransfer struct {
	Sender    common.Address
	Recipient common.Address
	Amount    *big.Int
	Token     common.Address
}

type commandSpec struct {
	name       string
	args       abi.Arguments
	revertible bool
}

func abiType(t string, components ...abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

var (
	addressT   = abiType("address")
	addressesT = abiType("address[]")
	uint256T   = abiType("uint256")
	uint160T   = abiType("uint160")
	uint8T     = abiType("uint8")
	boolT      = abiType("bool")
	bytesT     = abiType("bytes")
	bytesSlcT  = abiType("bytes[]")

	permitComponents = []abi.ArgumentMarshaling{
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint160"},
		{Name: "expiration", Type: "uint48"},
		{Name: "nonce", Type: "uint48"},
	}
	permitSingleT = abiType("tuple",
		abi.ArgumentMarshaling{Name: "details", Type: "tuple", Components: permitComponents},
		abi.ArgumentMarshaling{Name: "spender", Type: "address"},
		abi.ArgumentMarshaling{Name: "sigDeadline", Type: "uint256"},
	)
	permitBatchT = abiType("tuple",
		abi.ArgumentMarshaling{Name: "details", Type: "tuple[]", Components: permitComponents},
		abi.ArgumentMarshaling{Name: "spender", Type: "address"},
		abi.ArgumentMarshaling{Name: "sigDeadline", Type: "uint256"},
	)
	allowanceTransferT = abiType("tuple[]",
		abi.ArgumentMarshaling{Name: "sender", Type: "address"},
		abi.ArgumentMarshaling{Name: "recipient", Type: "address"},
		abi.ArgumentMarshaling{Name: "amount", Type: "uint160"},
		abi.ArgumentMarshaling{Name: "token", Type: "address"},
	)
)

func args(pairs ...abi.Argument) abi.Arguments { return pairs }

func arg(name string, t abi.Type) abi.Argument { return abi.Argument{Name: name, Type: t} }

// valueAndData is the argument shape shared by most marketplace commands.
var valueAndData = args(arg("value", uint256T), arg("data", bytesT))

var specs = map[Opcode]commandSpec{
	V3SwapExactIn: {"V3_SWAP_EXACT_IN", args(
		arg("recipient", addressT), arg("amountIn", uint256T), arg("amountOutMin", uint256T),
		arg("encodedPath", bytesT), arg("payerIsUser", boolT)), false},
	V3SwapExactOut: {"V3_SWAP_EXACT_OUT", args(
		arg("recipient", addressT), arg("amountOut", uint256T), arg("amountInMax", uint256T),
		arg("encodedPath", bytesT), arg("payerIsUser", boolT)), false},
	Permit2TransferFrom: {"PERMIT2_TRANSFER_FROM", args(
		arg("token", addressT), arg("recipient", addressT), arg("amount", uint160T)), false},
	Permit2PermitBatch: {"PERMIT2_PERMIT_BATCH", args(
		arg("permitBatch", permitBatchT), arg("signature", bytesT)), false},
	Sweep: {"SWEEP", args(
		arg("token", addressT), arg("recipient", addressT), arg("amountMin", uint256T)), false},
	Transfer: {"TRANSFER", args(
		arg("token", addressT), arg("recipient", addressT), arg("amount", uint256T)), false},
	PayPortion: {"PAY_PORTION", args(
		arg("token", addressT), arg("recipient", addressT), arg("bips", uint256T)), false},
	V2SwapExactIn: {"V2_SWAP_EXACT_IN", args(
		arg("recipient", addressT), arg("amountIn", uint256T), arg("amountOutMin", uint256T),
		arg("path", addressesT), arg("payerIsUser", boolT)), false},
	V2SwapExactOut: {"V2_SWAP_EXACT_OUT", args(
		arg("recipient", addressT), arg("amountOut", uint256T), arg("amountInMax", uint256T),
		arg("path", addressesT), arg("payerIsUser", boolT)), false},
	Permit2Permit: {"PERMIT2_PERMIT", args(
		arg("permitSingle", permitSingleT), arg("signature", bytesT)), false},
	WrapETH: {"WRAP_ETH", args(
		arg("recipient", addressT), arg("amountMin", uint256T)), false},
	UnwrapWETH: {"UNWRAP_WETH", args(
		arg("recipient", addressT), arg("amountMin", uint256T)), false},
	Permit2TransferFromBatch: {"PERMIT2_TRANSFER_FROM_BATCH", args(
		arg("batch", allowanceTransferT)), false},
	BalanceCheckERC20: {"BALANCE_CHECK_ERC20", args(
		arg("owner", addressT), arg("token", addressT), arg("minBalance", uint256T)), false},

	// Marketplace commands may be marked allow-revert so one failed
	// purchase does not abort the rest of the plan.
	SeaportV15:  {"SEAPORT_V1_5", valueAndData, true},
	LooksRareV2: {"LOOKS_RARE_V2", valueAndData, true},
	NFTX:        {"NFTX", valueAndData, true},
	Cryptopunks: {"CRYPTOPUNKS", args(
		arg("punkId", uint256T), arg("recipient", addressT), arg("value", uint256T)), true},
	OwnerCheck721: {"OWNER_CHECK_721", args(
		arg("owner", addressT), arg("token", addressT), arg("tokenId", uint256T)), true},
	OwnerCheck1155: {"OWNER_CHECK_1155", args(
		arg("owner", addressT), arg("token", addressT), arg("tokenId", uint256T),
		arg("minBalance", uint256T)), true},
	SweepERC721: {"SWEEP_ERC721", args(
		arg("token", addressT), arg("recipient", addressT), arg("tokenId", uint256T)), true},
	X2Y2721: {"X2Y2_721", args(
		arg("value", uint256T), arg("data", bytesT), arg("recipient", addressT),
		arg("token", addressT), arg("tokenId", uint256T)), true},
	Sudoswap: {"SUDOSWAP", valueAndData, true},
	NFT20:    {"NFT20", valueAndData, true},
	X2Y21155: {"X2Y2_1155", args(
		arg("value", uint256T), arg("data", bytesT), arg("recipient", addressT),
		arg("token", addressT), arg("tokenId", uint256T), arg("amount", uint256T)), true},
	Foundation: {"FOUNDATION", args(
		arg("value", uint256T), arg("data", bytesT), arg("recipient", addressT),
		arg("token", addressT), arg("tokenId", uint256T)), true},
	SweepERC1155: {"SWEEP_ERC1155", args(
		arg("token", addressT), arg("recipient", addressT), arg("tokenId", uint256T),
		arg("amount", uint256T)), true},
	ElementMarket: {"ELEMENT_MARKET", valueAndData, true},
	SeaportV14:    {"SEAPORT_V1_4", valueAndData, true},

	ExecuteSubPlan: {"EXECUTE_SUB_PLAN", args(
		arg("commands", bytesT), arg("inputs", bytesSlcT)), false},
	ApproveERC20: {"APPROVE_ERC20", args(
		arg("token", addressT), arg("spender", uint8T)), false},
}

func (op Opcode) String() string {
	if def, ok := specs[op]; ok {
		return def.name
	}
	return fmt.Sprintf("opcode(%#02x)", byte(op))
}

// Revertible reports whether the router honors the allow-revert flag for
// this opcode.
func (op Opcode) Revertible() bool {
	return specs[op].revertible
}

// Command is one router instruction with its ABI-encoded arguments.
type Command struct {
	Opcode      Opcode
	AllowRevert bool

	input []byte
}

// New encodes a command from its arguments. Argument Go types follow the
// usual ABI mapping: common.Address for address, *big.Int for integers wider
// than 64 bits, []byte for bytes.
func New(op Opcode, arguments ...any) (Command, error) {
	def, ok := specs[op]
	if !ok {
		return Command{}, fmt.Errorf("%#02x: %w", byte(op), ErrUnknownOpcode)
	}
	if len(arguments) != len(def.args) {
		return Command{}, fmt.Errorf("%s takes %d args, got %d: %w",
			def.name, len(def.args), len(arguments), ErrArgCount)
	}

	input, err := def.args.Pack(arguments...)
	if err != nil {
		return Command{}, fmt.Errorf("encode %s: %w", def.name, err)
	}
	return Command{Opcode: op, input: input}, nil
}

// Decode parses a wire command byte and its encoded arguments.
func Decode(commandByte byte, input []byte) (Command, error) {
	op := Opcode(commandByte & opcodeMask)
	def, ok := specs[op]
	if !ok {
		return Command{}, fmt.Errorf("%#02x: %w", commandByte, ErrUnknownOpcode)
	}

	allowRevert := commandByte&allowRevertFlag != 0
	if allowRevert && !def.revertible {
		return Command{}, fmt.Errorf("%s: %w", def.name, ErrNotRevertible)
	}

	if _, err := def.args.Unpack(input); err != nil {
		return Command{}, fmt.Errorf("%s: %w: %v", def.name, ErrTruncatedArgs, err)
	}

	return Command{
		Opcode:      op,
		AllowRevert: allowRevert,
		input:       append([]byte(nil), input...),
	}, nil
}

// AllowingRevert returns a copy of the command with the allow-revert flag
// set, or ErrNotRevertible for commands the router treats as mandatory.
func (c Command) AllowingRevert() (Command, error) {
	if !c.Opcode.Revertible() {
		return Command{}, fmt.Errorf("%s: %w", c.Opcode, ErrNotRevertible)
	}
	c.AllowRevert = true
	return c, nil
}

// Byte is the wire command byte: the opcode with the allow-revert flag in
// the high bit.
func (c Command) Byte() byte {
	b := byte(c.Opcode)
	if c.AllowRevert {
		b |= allowRevertFlag
	}
	return b
}

// Input is the ABI encoding of the command's arguments.
func (c Command) Input() []byte { return c.input }

// Args decodes the command's arguments back into Go values. Tuple arguments
// decode into anonymous structs generated by the ABI package.
func (c Command) Args() ([]any, error) {
	values, err := specs[c.Opcode].args.Unpack(c.input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", c.Opcode, ErrTruncatedArgs, err)
	}
	return values, nil
}

func (c Command) String() string {
	return fmt.Sprintf("%s(%d bytes)", c.Opcode, len(c.input))
}

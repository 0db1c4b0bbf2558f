package urouter

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"swapsolver/internal/amm"
)

// ErrMalformedPath means a packed v3 path is not an alternating sequence of
// 20-byte addresses and 3-byte fee tiers.
var ErrMalformedPath = errors.New("malformed v3 path")

const (
	pathAddrSize = common.AddressLength
	pathFeeSize  = 3
	pathHopSize  = pathAddrSize + pathFeeSize
)

// EncodePath packs a v3 swap path: each token address followed by the fee
// tier of the pool to the next token, with no padding. A path over n pools
// has n+1 tokens and n fees.
func EncodePath(tokens []common.Address, fees []amm.Fee) ([]byte, error) {
	if len(tokens) < 2 || len(fees) != len(tokens)-1 {
		return nil, fmt.Errorf("%d tokens with %d fees: %w", len(tokens), len(fees), ErrMalformedPath)
	}

	packed := make([]byte, 0, len(fees)*pathHopSize+pathAddrSize)
	for i, fee := range fees {
		packed = append(packed, tokens[i].Bytes()...)
		packed = append(packed, byte(fee>>16), byte(fee>>8), byte(fee))
	}
	return append(packed, tokens[len(tokens)-1].Bytes()...), nil
}

// DecodePath unpacks a v3 swap path back into its tokens and fee tiers.
func DecodePath(packed []byte) ([]common.Address, []amm.Fee, error) {
	if len(packed) < pathHopSize+pathAddrSize || (len(packed)-pathAddrSize)%pathHopSize != 0 {
		return nil, nil, fmt.Errorf("%d bytes: %w", len(packed), ErrMalformedPath)
	}

	hops := (len(packed) - pathAddrSize) / pathHopSize
	tokens := make([]common.Address, 0, hops+1)
	fees := make([]amm.Fee, 0, hops)
	for i := 0; i < hops; i++ {
		at := i * pathHopSize
		tokens = append(tokens, common.BytesToAddress(packed[at:at+pathAddrSize]))
		raw := packed[at+pathAddrSize : at+pathHopSize]
		fees = append(fees, amm.Fee(uint32(raw[0])<<16|uint32(raw[1])<<8|uint32(raw[2])))
	}
	tokens = append(tokens, common.BytesToAddress(packed[len(packed)-pathAddrSize:]))
	return tokens, fees, nil
}

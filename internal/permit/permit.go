// Package permit builds signed Permit2 authorizations for router plans.
package permit

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"swapsolver/internal/urouter"
)

// ErrNoDetails means a batch permit was requested with no token entries.
var ErrNoDetails = errors.New("permit batch has no details")

// SignerFunc signs a 32-byte EIP-712 digest and returns a 65-byte r||s||v
// signature. Implementations wrap a keystore, hardware wallet, or raw key.
type SignerFunc func(digest []byte) ([]byte, error)

// Permit2 builds typed-data payloads bound to one Permit2 deployment.
type Permit2 struct {
	ChainID  *big.Int
	Contract common.Address
}

var typedDataTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"PermitDetails": {
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint160"},
		{Name: "expiration", Type: "uint48"},
		{Name: "nonce", Type: "uint48"},
	},
	"PermitSingle": {
		{Name: "details", Type: "PermitDetails"},
		{Name: "spender", Type: "address"},
		{Name: "sigDeadline", Type: "uint256"},
	},
	"PermitBatch": {
		{Name: "details", Type: "PermitDetails[]"},
		{Name: "spender", Type: "address"},
		{Name: "sigDeadline", Type: "uint256"},
	},
}

func (p Permit2) domain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              "Permit2",
		ChainId:           (*math.HexOrDecimal256)(p.ChainID),
		VerifyingContract: p.Contract.Hex(),
	}
}

func detailsMessage(d urouter.PermitDetails) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"token":      d.Token.Hex(),
		"amount":     (*math.HexOrDecimal256)(d.Amount),
		"expiration": (*math.HexOrDecimal256)(d.Expiration),
		"nonce":      (*math.HexOrDecimal256)(d.Nonce),
	}
}

// Digest computes the EIP-712 signing hash for a single-token permit.
func (p Permit2) Digest(permit urouter.PermitSingle) ([]byte, error) {
	data := apitypes.TypedData{
		Types:       typedDataTypes,
		PrimaryType: "PermitSingle",
		Domain:      p.domain(),
		Message: apitypes.TypedDataMessage{
			"details":     detailsMessage(permit.Details),
			"spender":     permit.Spender.Hex(),
			"sigDeadline": (*math.HexOrDecimal256)(permit.SigDeadline),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash permit: %w", err)
	}
	return digest, nil
}

// BatchDigest computes the EIP-712 signing hash for a batch permit.
func (p Permit2) BatchDigest(permit urouter.PermitBatch) ([]byte, error) {
	details := make([]interface{}, len(permit.Details))
	for i, d := range permit.Details {
		details[i] = detailsMessage(d)
	}
	data := apitypes.TypedData{
		Types:       typedDataTypes,
		PrimaryType: "PermitBatch",
		Domain:      p.domain(),
		Message: apitypes.TypedDataMessage{
			"details":     details,
			"spender":     permit.Spender.Hex(),
			"sigDeadline": (*math.HexOrDecimal256)(permit.SigDeadline),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash permit batch: %w", err)
	}
	return digest, nil
}

// SignPermit signs a single-token authorization and returns the
// PERMIT2_PERMIT command carrying it. A nil sigDeadline defaults to the
// permit's expiration.
func (p Permit2) SignPermit(details urouter.PermitDetails, spender common.Address, sigDeadline *big.Int, sign SignerFunc) (urouter.Command, error) {
	if sigDeadline == nil {
		sigDeadline = details.Expiration
	}
	permit := urouter.PermitSingle{
		Details:     details,
		Spender:     spender,
		SigDeadline: sigDeadline,
	}

	digest, err := p.Digest(permit)
	if err != nil {
		return urouter.Command{}, err
	}
	signature, err := sign(digest)
	if err != nil {
		return urouter.Command{}, fmt.Errorf("sign permit: %w", err)
	}
	return urouter.New(urouter.Permit2Permit, permit, signature)
}

// SignPermitBatch signs a multi-token authorization and returns the
// PERMIT2_PERMIT_BATCH command carrying it. A nil sigDeadline defaults to
// the latest expiration among the entries.
func (p Permit2) SignPermitBatch(details []urouter.PermitDetails, spender common.Address, sigDeadline *big.Int, sign SignerFunc) (urouter.Command, error) {
	if len(details) == 0 {
		return urouter.Command{}, ErrNoDetails
	}
	if sigDeadline == nil {
		for _, d := range details {
			if sigDeadline == nil || d.Expiration.Cmp(sigDeadline) > 0 {
				sigDeadline = d.Expiration
			}
		}
	}
	permit := urouter.PermitBatch{
		Details:     details,
		Spender:     spender,
		SigDeadline: sigDeadline,
	}

	digest, err := p.BatchDigest(permit)
	if err != nil {
		return urouter.Command{}, err
	}
	signature, err := sign(digest)
	if err != nil {
		return urouter.Command{}, fmt.Errorf("sign permit batch: %w", err)
	}
	return urouter.New(urouter.Permit2PermitBatch, permit, signature)
}

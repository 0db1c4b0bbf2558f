package permit

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"swapsolver/internal/urouter"
)

var permit2 = Permit2{
	ChainID:  big.NewInt(1),
	Contract: common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3"),
}

func testDetails() urouter.PermitDetails {
	return urouter.PermitDetails{
		Token:      common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		Amount:     big.NewInt(1_000_000),
		Expiration: big.NewInt(1_700_000_000),
		Nonce:      big.NewInt(0),
	}
}

func TestDigestIsStable(t *testing.T) {
	permit := urouter.PermitSingle{
		Details:     testDetails(),
		Spender:     common.HexToAddress("0x3fC91A3afd70395Cd496C647d5a6CC9D4B2b7FAD"),
		SigDeadline: big.NewInt(1_700_000_600),
	}

	first, err := permit2.Digest(permit)
	require.NoError(t, err)
	require.Len(t, first, 32)

	second, err := permit2.Digest(permit)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Any field change moves the digest.
	permit.SigDeadline = big.NewInt(1_700_000_601)
	changed, err := permit2.Digest(permit)
	require.NoError(t, err)
	require.NotEqual(t, first, changed)
}

func TestSignPermitRecoverable(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	var signed []byte
	spender := common.HexToAddress("0x3fC91A3afd70395Cd496C647d5a6CC9D4B2b7FAD")
	cmd, err := permit2.SignPermit(testDetails(), spender, nil, func(digest []byte) ([]byte, error) {
		sig, err := crypto.Sign(digest, key)
		signed = sig
		return sig, err
	})
	require.NoError(t, err)
	require.Equal(t, urouter.Permit2Permit, cmd.Opcode)

	// The signature must recover to the signing key over the same digest.
	digest, err := permit2.Digest(urouter.PermitSingle{
		Details:     testDetails(),
		Spender:     spender,
		SigDeadline: testDetails().Expiration,
	})
	require.NoError(t, err)

	pub, err := crypto.SigToPub(digest, signed)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pub))
}

func TestSignPermitBatch(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	later := testDetails()
	later.Token = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	later.Expiration = big.NewInt(1_800_000_000)

	spender := common.HexToAddress("0x3fC91A3afd70395Cd496C647d5a6CC9D4B2b7FAD")
	cmd, err := permit2.SignPermitBatch(
		[]urouter.PermitDetails{testDetails(), later},
		spender, nil,
		func(digest []byte) ([]byte, error) { return crypto.Sign(digest, key) },
	)
	require.NoError(t, err)
	require.Equal(t, urouter.Permit2PermitBatch, cmd.Opcode)

	_, err = permit2.SignPermitBatch(nil, spender, nil, nil)
	require.ErrorIs(t, err, ErrNoDetails)
}

// Package account derives the deterministic identity of smart-contract
// accounts: the per-account salt and the counterfactual address the factory
// will deploy for (owner, salt).
package account

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxSalt is the largest salt value an account can carry.
const MaxSalt = math.MaxUint32

// saltModulus is 2^32 - 1; reducing by it keeps every derived salt inside
// the uint32 range.
var saltModulus = new(big.Int).SetUint64(math.MaxUint32)

// DeriveSalt returns the salt of the account at index for signer on chainID.
//
// Index 0 always maps to salt 0, the convention other AA wallets use for an
// owner's first account. Every other index hashes
// abi.encodePacked(address signer, uint256 index, uint256 chainId) and reduces
// the digest modulo 2^32-1. A zero remainder becomes 1 so that no derived
// account can collide with the index 0 account.
func DeriveSalt(signer common.Address, index uint64, chainID *big.Int) (uint32, error) {
	if signer == (common.Address{}) {
		return 0, &DerivationError{Field: "signer", Value: signer.Hex(), Err: ErrZeroSigner}
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return 0, &DerivationError{Field: "chainId", Value: chainID, Err: ErrInvalidChainID}
	}
	if chainID.BitLen() > 256 {
		return 0, &DerivationError{Field: "chainId", Value: chainID, Err: ErrInvalidChainID}
	}

	if index == 0 {
		return 0, nil
	}

	packed := make([]byte, 0, common.AddressLength+64)
	packed = append(packed, signer.Bytes()...)
	packed = append(packed, gmath.U256Bytes(new(big.Int).SetUint64(index))...)
	packed = append(packed, gmath.U256Bytes(new(big.Int).Set(chainID))...)

	digest := new(big.Int).SetBytes(crypto.Keccak256(packed))
	salt := digest.Mod(digest, saltModulus).Uint64()
	if salt == 0 {
		salt = 1
	}

	if err := ValidateSalt(int64(salt)); err != nil {
		return 0, err
	}

	return uint32(salt), nil
}

// ValidateSalt checks that value is usable as an account salt:
// 0 <= value <= 0xFFFFFFFF.
func ValidateSalt(value int64) error {
	if value < 0 || value > MaxSalt {
		return &DerivationError{Field: "salt", Value: value, Err: ErrSaltOutOfRange}
	}
	return nil
}

// Package signer provides the owner signing capability smart accounts are
// validated against.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is an externally owned account able to sign arbitrary messages.
type Signer interface {
	// Address returns the Ethereum address of the signer
	Address() common.Address

	// SignMessage signs an arbitrary message (EIP-191 personal sign)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// ErrEmptyKey is returned when no private key material is configured.
var ErrEmptyKey = errors.New("empty private key")

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner wraps an existing private key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewKeySignerFromHex parses a hex encoded private key, with or without 0x prefix.
func NewKeySignerFromHex(hexKey string) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrEmptyKey
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignMessage produces a 65 byte [R || S || V] signature over the EIP-191
// hash of message, with V in {27, 28} as account contracts expect.
func (s *KeySigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	signature[crypto.RecoveryIDOffset] += 27

	return signature, nil
}

// RecoverAddress returns the address that produced an EIP-191 signature
// over message.
func RecoverAddress(message, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}

	sig := common.CopyBytes(signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*pub), nil
}

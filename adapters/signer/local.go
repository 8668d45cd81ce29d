// Package signer provides wallet signing capabilities consumed by the
// authenticator through the ports.Signer interface.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/parlor/ports"
)

// LocalSigner signs EIP-191 personal messages with an in-process secp256k1
// key. It is the headless equivalent of a browser wallet: no user prompt,
// signing never blocks.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address string
}

var _ ports.Signer = (*LocalSigner)(nil)

// NewLocalSigner wraps an existing private key.
func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// FromKeyFile loads a hex-encoded private key from disk.
func FromKeyFile(path string) (*LocalSigner, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load key file: %w", err)
	}
	return NewLocalSigner(key), nil
}

// FromHex parses a hex-encoded private key.
func FromHex(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewLocalSigner(key), nil
}

// Address returns the wallet address this signer can sign for.
func (s *LocalSigner) Address() string {
	return s.address
}

// SignMessage signs message with the EIP-191 personal-message prefix and
// returns the 65-byte signature as 0x-prefixed hex. The recovery byte is
// shifted to the Ethereum convention (27/28).
func (s *LocalSigner) SignMessage(_ context.Context, message []byte) (string, error) {
	digest := accounts.TextHash(message)

	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27

	return hexutil.Encode(sig), nil
}

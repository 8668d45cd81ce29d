package ports

import "context"

// Signer is the opaque signing capability of a connected wallet.
// SignMessage may involve user interaction and can block indefinitely;
// a user decline surfaces as core.ErrSignatureRejected.
type Signer interface {
	// Address returns the wallet address this signer can sign for.
	Address() string

	// SignMessage signs an EIP-191 personal message and returns the
	// 65-byte signature as a 0x-prefixed hex string.
	SignMessage(ctx context.Context, message []byte) (string, error)
}

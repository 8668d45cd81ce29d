package core

// Challenge is a single-use nonce issued by the backend for one wallet.
// It is consumed by exactly one signature and never persisted client-side.
type Challenge struct {
	Wallet    string // Wallet address the challenge is bound to
	Challenge string // Opaque challenge value echoed back on verify
	Message   string // Human-readable text the wallet is asked to sign
}

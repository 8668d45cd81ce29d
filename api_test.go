package parlor_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layer-3/parlor/core"
)

func TestChallengeCarriesWalletAndNonce(t *testing.T) {
	env := newAuthEnv(t)
	wallet := newWallet(t)

	challenge, err := env.api.Challenge(context.Background(), wallet.Address())
	require.NoError(t, err)
	require.Equal(t, wallet.Address(), challenge.Wallet)
	require.NotEmpty(t, challenge.Challenge)
	require.Contains(t, challenge.Message, wallet.Address())
	require.Contains(t, challenge.Message, challenge.Challenge)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	env := newAuthEnv(t)
	wallet := newWallet(t)

	challenge, err := env.api.Challenge(context.Background(), wallet.Address())
	require.NoError(t, err)

	badSig := "0x" + strings.Repeat("ab", 65)
	_, err = env.api.Verify(context.Background(), wallet.Address(), badSig, challenge.Challenge)
	require.ErrorIs(t, err, core.ErrVerificationFailed)
}

func TestVerifyChallengeIsSingleUse(t *testing.T) {
	env := newAuthEnv(t)
	wallet := newWallet(t)

	challenge, err := env.api.Challenge(context.Background(), wallet.Address())
	require.NoError(t, err)

	signature, err := wallet.SignMessage(context.Background(), []byte(challenge.Message))
	require.NoError(t, err)

	cred, err := env.api.Verify(context.Background(), wallet.Address(), signature, challenge.Challenge)
	require.NoError(t, err)
	require.NotEmpty(t, cred.Token)
	require.Equal(t, wallet.Address(), cred.Wallet)
	require.False(t, cred.IsExpired())

	// Replaying the same signed challenge must fail.
	_, err = env.api.Verify(context.Background(), wallet.Address(), signature, challenge.Challenge)
	require.ErrorIs(t, err, core.ErrVerificationFailed)
}

func TestVerifyRejectsForeignWallet(t *testing.T) {
	env := newAuthEnv(t)
	wallet := newWallet(t)
	other := newWallet(t)

	challenge, err := env.api.Challenge(context.Background(), wallet.Address())
	require.NoError(t, err)

	// A signature from a different key never authenticates the wallet the
	// challenge was issued for.
	signature, err := other.SignMessage(context.Background(), []byte(challenge.Message))
	require.NoError(t, err)

	_, err = env.api.Verify(context.Background(), wallet.Address(), signature, challenge.Challenge)
	require.ErrorIs(t, err, core.ErrVerificationFailed)
}

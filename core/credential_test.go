package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/layer-3/parlor/core"
)

func TestCredentialIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		expired   bool
	}{
		{"future expiry", time.Now().Add(time.Hour), false},
		{"past expiry", time.Now().Add(-time.Second), true},
		{"zero value", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := core.Credential{Token: "tok", ExpiresAt: tt.expiresAt}
			require.Equal(t, tt.expired, cred.IsExpired())
		})
	}
}

func TestCredentialNeedsRefresh(t *testing.T) {
	fresh := core.Credential{Token: "tok", ExpiresAt: time.Now().Add(2 * time.Hour)}
	require.False(t, fresh.NeedsRefresh())

	closing := core.Credential{Token: "tok", ExpiresAt: time.Now().Add(5 * time.Minute)}
	require.True(t, closing.NeedsRefresh())

	expired := core.Credential{Token: "tok", ExpiresAt: time.Now().Add(-time.Minute)}
	require.True(t, expired.NeedsRefresh())
}

func TestCredentialValidFor(t *testing.T) {
	cred := core.Credential{
		Token:     "tok",
		Wallet:    "0xAbC",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	require.True(t, cred.ValidFor("0xAbC"))
	require.False(t, cred.ValidFor("0xDeF"), "a credential never authenticates another wallet")
	require.False(t, core.Credential{Wallet: "0xAbC", ExpiresAt: cred.ExpiresAt}.ValidFor("0xAbC"))

	expired := core.Credential{Token: "tok", Wallet: "0xAbC", ExpiresAt: time.Now().Add(-time.Second)}
	require.False(t, expired.ValidFor("0xAbC"))
}

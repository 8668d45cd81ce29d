package parlor_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/parlor"
	"github.com/layer-3/parlor/adapters/signer"
	"github.com/layer-3/parlor/adapters/store"
	"github.com/layer-3/parlor/backendtest"
	"github.com/layer-3/parlor/core"
	"github.com/layer-3/parlor/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWallet(t *testing.T) *signer.LocalSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return signer.NewLocalSigner(key)
}

type authEnv struct {
	server *backendtest.Server
	store  ports.CredentialStore
	api    *parlor.APIClient
	auth   *parlor.Authenticator
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	server := backendtest.New()
	t.Cleanup(server.Close)

	credStore := store.NewMemoryStore()
	api := parlor.NewAPIClient(server.URL(), credStore, discardLogger())
	auth := parlor.NewAuthenticator(api, credStore, parlor.AuthOptions{Log: discardLogger()})

	return &authEnv{server: server, store: credStore, api: api, auth: auth}
}

// gateSigner blocks inside SignMessage until released, so tests can observe
// the authenticator mid-handshake.
type gateSigner struct {
	inner   ports.Signer
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newGateSigner(inner ports.Signer) *gateSigner {
	return &gateSigner{
		inner:   inner,
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (g *gateSigner) Address() string { return g.inner.Address() }

func (g *gateSigner) SignMessage(ctx context.Context, message []byte) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.inner.SignMessage(ctx, message)
}

func (g *gateSigner) signCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// rejectSigner simulates the user declining the wallet prompt.
type rejectSigner struct {
	address string
}

func (r *rejectSigner) Address() string { return r.address }

func (r *rejectSigner) SignMessage(context.Context, []byte) (string, error) {
	return "", core.ErrSignatureRejected
}

func TestAuthenticateEndToEnd(t *testing.T) {
	env := newAuthEnv(t)
	wallet := newWallet(t)

	var (
		mu     sync.Mutex
		states []core.AuthState
	)
	env.auth.OnChange(func(change core.AuthChange) {
		mu.Lock()
		states = append(states, change.State)
		mu.Unlock()
	})

	require.NoError(t, env.auth.Authenticate(context.Background(), wallet))

	require.Equal(t, core.Authenticated, env.auth.State())
	require.Equal(t, wallet.Address(), env.auth.Wallet())
	require.NotEmpty(t, env.store.Token())

	status := env.store.Status()
	require.True(t, status.IsAuthenticated)
	require.Equal(t, wallet.Address(), status.Wallet)
	require.True(t, status.ExpiresAt.After(time.Now().Add(time.Hour)))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []core.AuthState{core.Authenticating, core.Authenticated}, states)
}

func TestAuthenticateWithoutSigner(t *testing.T) {
	env := newAuthEnv(t)

	err := env.auth.Authenticate(context.Background(), nil)
	require.ErrorIs(t, err, core.ErrSigningUnavailable)
	require.Equal(t, core.Unauthenticated, env.auth.State())
}

func TestAuthenticateConcurrentIsNoOp(t *testing.T) {
	env := newAuthEnv(t)
	gated := newGateSigner(newWallet(t))

	done := make(chan error, 1)
	go func() { done <- env.auth.Authenticate(context.Background(), gated) }()
	<-gated.entered

	// The second call must return immediately without a second prompt.
	require.NoError(t, env.auth.Authenticate(context.Background(), gated))
	require.Equal(t, core.Authenticating, env.auth.State())

	close(gated.release)
	require.NoError(t, <-done)

	require.Equal(t, core.Authenticated, env.auth.State())
	require.Equal(t, 1, gated.signCalls(), "one login must produce exactly one signature prompt")
}

func TestAuthenticateSignatureRejected(t *testing.T) {
	env := newAuthEnv(t)

	err := env.auth.Authenticate(context.Background(), &rejectSigner{address: newWallet(t).Address()})
	require.ErrorIs(t, err, core.ErrSignatureRejected)
	require.Equal(t, core.Unauthenticated, env.auth.State())
	require.Empty(t, env.store.Token())
}

func TestWalletSwitchClearsPreviousCredential(t *testing.T) {
	env := newAuthEnv(t)
	first := newWallet(t)
	require.NoError(t, env.auth.Authenticate(context.Background(), first))
	require.NotEmpty(t, env.store.Token())

	second := newGateSigner(newWallet(t))
	done := make(chan error, 1)
	go func() { done <- env.auth.Authenticate(context.Background(), second) }()
	<-second.entered

	// The first wallet's token is gone before the new handshake completes.
	require.Empty(t, env.store.Token())

	close(second.release)
	require.NoError(t, <-done)

	status := env.store.Status()
	require.True(t, status.IsAuthenticated)
	require.Equal(t, second.Address(), status.Wallet)
}

func TestDisconnectDiscardsInFlightResult(t *testing.T) {
	env := newAuthEnv(t)
	gated := newGateSigner(newWallet(t))

	done := make(chan error, 1)
	go func() { done <- env.auth.Authenticate(context.Background(), gated) }()
	<-gated.entered

	env.auth.DisconnectWallet()
	close(gated.release)

	// The late handshake result must not resurrect the session.
	require.NoError(t, <-done)
	require.Equal(t, core.Unauthenticated, env.auth.State())
	require.Empty(t, env.store.Token())
	require.Empty(t, env.auth.Wallet())
}

func TestSessionRestoreSkipsHandshake(t *testing.T) {
	server := backendtest.New()
	t.Cleanup(server.Close)
	wallet := newWallet(t)

	credStore := store.NewMemoryStore()
	token, expiresAt := server.IssueToken(wallet.Address(), time.Hour)
	credStore.Save(core.Credential{Token: token, Wallet: wallet.Address(), ExpiresAt: expiresAt})

	// Point the API client at a dead endpoint: a restored session must not
	// touch the network.
	api := parlor.NewAPIClient("http://127.0.0.1:1", credStore, discardLogger())
	auth := parlor.NewAuthenticator(api, credStore, parlor.AuthOptions{Log: discardLogger()})

	require.Equal(t, core.Authenticated, auth.State())
	require.True(t, auth.HasValidSession(wallet.Address()))
	require.False(t, auth.HasValidSession("0xSomeoneElse"))
}

func TestExpiredStoredCredentialRequiresHandshake(t *testing.T) {
	env := newAuthEnv(t)
	wallet := newWallet(t)

	env.store.Save(core.Credential{
		Token:     "stale",
		Wallet:    wallet.Address(),
		ExpiresAt: time.Now().Add(-time.Minute),
	})

	auth := parlor.NewAuthenticator(env.api, env.store, parlor.AuthOptions{Log: discardLogger()})
	require.Equal(t, core.Unauthenticated, auth.State())
	require.False(t, auth.HasValidSession(wallet.Address()))
}

func TestLogoutRetainsSigner(t *testing.T) {
	env := newAuthEnv(t)
	wallet := newWallet(t)
	require.NoError(t, env.auth.Authenticate(context.Background(), wallet))

	env.auth.Logout()
	require.Equal(t, core.Unauthenticated, env.auth.State())
	require.Empty(t, env.store.Token())

	// Logging back in needs no wallet reconnect.
	require.NoError(t, env.auth.Reauthenticate(context.Background()))
	require.Equal(t, core.Authenticated, env.auth.State())
}

func TestReauthenticateWithoutSigner(t *testing.T) {
	env := newAuthEnv(t)
	err := env.auth.Reauthenticate(context.Background())
	require.ErrorIs(t, err, core.ErrSigningUnavailable)
}

func TestRefreshLoopRenewsExpiringToken(t *testing.T) {
	// Tokens issued inside the refresh window trigger a proactive renewal.
	server := backendtest.NewWithTTL(5 * time.Minute)
	t.Cleanup(server.Close)
	wallet := newWallet(t)

	credStore := store.NewMemoryStore()
	api := parlor.NewAPIClient(server.URL(), credStore, discardLogger())
	auth := parlor.NewAuthenticator(api, credStore, parlor.AuthOptions{
		RefreshInterval: 20 * time.Millisecond,
		Log:             discardLogger(),
	})

	require.NoError(t, auth.Authenticate(context.Background(), wallet))
	first := credStore.Token()
	require.NotEmpty(t, first)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	auth.StartRefreshLoop(ctx)

	require.Eventually(t, func() bool {
		return credStore.Token() != "" && credStore.Token() != first
	}, 5*time.Second, 10*time.Millisecond, "the token was never rotated")
	require.Equal(t, core.Authenticated, auth.State())
}

package parlor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/layer-3/parlor/core"
	"github.com/layer-3/parlor/ports"
)

// DefaultRefreshInterval is how often the background loop evaluates whether
// the credential needs a proactive renewal.
const DefaultRefreshInterval = time.Minute

// AuthOptions configures an Authenticator.
type AuthOptions struct {
	RefreshInterval time.Duration
	Events          ports.EventPublisher // optional
	Log             *slog.Logger
}

// Authenticator runs the challenge → sign → verify handshake and tracks
// session validity per wallet. All failures are returned as values; nothing
// is thrown across the public boundary.
type Authenticator struct {
	api    *APIClient
	store  ports.CredentialStore
	events ports.EventPublisher
	log    *slog.Logger

	refreshInterval time.Duration

	mu        sync.Mutex
	state     core.AuthState
	wallet    string
	signer    ports.Signer
	inFlight  bool
	gen       uint64 // bumped on wallet change or disconnect to void late results
	observers []func(core.AuthChange)
}

// NewAuthenticator creates an authenticator. If the store already holds a
// valid credential (e.g. restored from disk after a restart), the
// authenticator starts out Authenticated and no handshake is needed.
func NewAuthenticator(api *APIClient, store ports.CredentialStore, opts AuthOptions) *Authenticator {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}

	a := &Authenticator{
		api:             api,
		store:           store,
		events:          opts.Events,
		log:             opts.Log,
		refreshInterval: opts.RefreshInterval,
		state:           core.Unauthenticated,
	}

	if status := store.Status(); status.IsAuthenticated {
		a.state = core.Authenticated
		a.wallet = status.Wallet
	}

	return a
}

// OnChange registers an observer for state transitions.
func (a *Authenticator) OnChange(fn func(core.AuthChange)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, fn)
}

// State returns the current auth state.
func (a *Authenticator) State() core.AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Wallet returns the wallet the authenticator is currently bound to.
func (a *Authenticator) Wallet() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wallet
}

// HasValidSession reports whether a stored credential already authenticates
// wallet, letting callers skip a fresh handshake after a restart.
func (a *Authenticator) HasValidSession(wallet string) bool {
	status := a.store.Status()
	return status.IsAuthenticated && status.Wallet == wallet
}

// Authenticate runs the full handshake with the given signer. A concurrent
// call while one attempt is in flight is a no-op: the challenge is single-use
// and the user must never see two signature prompts for one login.
//
// Switching to a different wallet clears any credential issued for the
// previous one before the new attempt starts.
func (a *Authenticator) Authenticate(ctx context.Context, signer ports.Signer) error {
	if signer == nil {
		return core.ErrSigningUnavailable
	}
	wallet := signer.Address()

	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		return nil
	}
	if a.wallet != "" && a.wallet != wallet {
		// Tokens must never cross wallet identities.
		a.store.Clear()
		a.gen++
	}
	a.wallet = wallet
	a.signer = signer
	a.inFlight = true
	a.state = core.Authenticating
	gen := a.gen
	a.mu.Unlock()

	a.notify(core.AuthChange{State: core.Authenticating, Wallet: wallet})

	cred, err := a.handshake(ctx, wallet, signer)
	if err != nil {
		return a.finishFailure(gen, wallet, err)
	}
	return a.finishSuccess(gen, cred)
}

// Reauthenticate re-runs the handshake with the retained signer. It is used
// by the background refresh and by the session coordinator after the backend
// rejects a token.
func (a *Authenticator) Reauthenticate(ctx context.Context) error {
	a.mu.Lock()
	signer := a.signer
	a.mu.Unlock()

	if signer == nil {
		return core.ErrSigningUnavailable
	}
	return a.Authenticate(ctx, signer)
}

// handshake performs the three network/user steps of one attempt.
func (a *Authenticator) handshake(ctx context.Context, wallet string, signer ports.Signer) (core.Credential, error) {
	challenge, err := a.api.Challenge(ctx, wallet)
	if err != nil {
		return core.Credential{}, err
	}

	signature, err := signer.SignMessage(ctx, []byte(challenge.Message))
	if err != nil {
		if errors.Is(err, core.ErrSignatureRejected) {
			return core.Credential{}, err
		}
		return core.Credential{}, fmt.Errorf("signing failed: %w", err)
	}

	return a.api.Verify(ctx, wallet, signature, challenge.Challenge)
}

func (a *Authenticator) finishSuccess(gen uint64, cred core.Credential) error {
	a.mu.Lock()
	if a.gen != gen {
		// The wallet changed or disconnected while the handshake was in
		// flight; the late result must not resurrect a stale session.
		a.inFlight = false
		a.mu.Unlock()
		a.log.Info("auth.result.stale", "wallet", cred.Wallet)
		return nil
	}

	a.store.Save(cred)
	a.inFlight = false
	a.state = core.Authenticated
	wallet := cred.Wallet
	status := a.store.Status()
	a.mu.Unlock()

	a.log.Info("auth.ok", "wallet", wallet, "expires_at", cred.ExpiresAt)
	a.notify(core.AuthChange{State: core.Authenticated, Wallet: wallet, Status: status})
	a.publish(ports.SessionEventAuthenticated, wallet)
	return nil
}

func (a *Authenticator) finishFailure(gen uint64, wallet string, err error) error {
	a.mu.Lock()
	stale := a.gen != gen
	a.inFlight = false
	if !stale {
		a.state = core.Unauthenticated
	}
	a.mu.Unlock()

	if stale {
		return nil
	}

	a.log.Warn("auth.fail", "wallet", wallet, "err", err)
	a.notify(core.AuthChange{State: core.Unauthenticated, Wallet: wallet, Err: err})
	return err
}

// Logout clears the credential and transitions to Unauthenticated. The
// signer is retained so the user can log back in without reconnecting the
// wallet.
func (a *Authenticator) Logout() {
	a.mu.Lock()
	a.store.Clear()
	a.gen++
	a.state = core.Unauthenticated
	wallet := a.wallet
	a.mu.Unlock()

	a.log.Info("auth.logout", "wallet", wallet)
	a.notify(core.AuthChange{State: core.Unauthenticated, Wallet: wallet})
	a.publish(ports.SessionEventLoggedOut, wallet)
}

// DisconnectWallet handles an explicit wallet disconnect: credential cleared,
// signer dropped, any in-flight attempt's eventual result discarded.
func (a *Authenticator) DisconnectWallet() {
	a.mu.Lock()
	a.store.Clear()
	a.gen++
	a.signer = nil
	a.state = core.Unauthenticated
	wallet := a.wallet
	a.wallet = ""
	a.mu.Unlock()

	a.log.Info("auth.wallet.disconnect", "wallet", wallet)
	a.notify(core.AuthChange{State: core.Unauthenticated, Wallet: wallet})
	a.publish(ports.SessionEventLoggedOut, wallet)
}

// StartRefreshLoop runs the proactive renewal policy until ctx is done:
// while Authenticated, a credential inside its refresh window triggers a new
// handshake before expiry so the transport never sees a hard cutover.
func (a *Authenticator) StartRefreshLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.refreshTick(ctx)
			}
		}
	}()
}

func (a *Authenticator) refreshTick(ctx context.Context) {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()
	if state != core.Authenticated {
		return
	}

	status := a.store.Status()
	if !status.IsAuthenticated {
		return
	}
	if time.Until(status.ExpiresAt) >= core.RefreshThreshold {
		return
	}

	a.log.Info("auth.refresh", "wallet", status.Wallet, "expires_at", status.ExpiresAt)
	if err := a.Reauthenticate(ctx); err != nil {
		a.log.Warn("auth.refresh.fail", "err", err)
	}
}

func (a *Authenticator) notify(change core.AuthChange) {
	a.mu.Lock()
	observers := make([]func(core.AuthChange), len(a.observers))
	copy(observers, a.observers)
	a.mu.Unlock()

	for _, fn := range observers {
		fn(change)
	}
}

func (a *Authenticator) publish(kind, wallet string) {
	if a.events == nil {
		return
	}
	if err := a.events.PublishSessionEvent(context.Background(), kind, wallet); err != nil {
		a.log.Warn("auth.event.publish.fail", "kind", kind, "err", err)
	}
}

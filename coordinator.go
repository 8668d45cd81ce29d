package parlor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/layer-3/parlor/core"
	"github.com/layer-3/parlor/ports"
	"github.com/layer-3/parlor/transport/ws"
)

// DefaultRebuildDebounce is the pause between tearing an old socket down and
// opening its replacement, guaranteeing the two never race for the same
// logical session.
const DefaultRebuildDebounce = 100 * time.Millisecond

// SessionOptions configures a Session coordinator.
type SessionOptions struct {
	// WSEndpoint is the realtime endpoint, e.g. "wss://host/ws". An http(s)
	// scheme is upgraded to the matching ws(s) scheme.
	WSEndpoint string

	// Transport is the options template for every transport built by the
	// coordinator; Endpoint and Log are filled in.
	Transport ws.Options

	Debounce time.Duration
	Events   ports.EventPublisher
	Log      *slog.Logger
}

// Session glues the authenticator and the transport: a transport exists if
// and only if a non-expired credential exists, and every credential change
// tears the old socket down before a new one dials.
type Session struct {
	auth   *Authenticator
	store  ports.CredentialStore
	opts   SessionOptions
	events ports.EventPublisher
	log    *slog.Logger

	mu        sync.Mutex
	transport *ws.Transport
	requester *ws.Requester
	lastToken string
	tearing   bool
	observers []func(*ws.Transport, *ws.Requester)
}

// NewSession creates the coordinator and starts observing the authenticator.
func NewSession(auth *Authenticator, store ports.CredentialStore, opts SessionOptions) *Session {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultRebuildDebounce
	}

	s := &Session{
		auth:   auth,
		store:  store,
		opts:   opts,
		events: opts.Events,
		log:    opts.Log,
	}

	auth.OnChange(s.onAuthChange)

	// A session restored from the store is already Authenticated and will
	// never emit a transition, so reconcile once at construction.
	if auth.State() == core.Authenticated {
		s.reconcile()
	}

	return s
}

// Transport returns the active transport, or nil while unauthenticated.
func (s *Session) Transport() *ws.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// Requester returns the requester bound to the active transport, or nil.
func (s *Session) Requester() *ws.Requester {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requester
}

// OnTransport registers an observer invoked with every transport the
// coordinator builds, letting domain clients re-bind their subscriptions
// after a rebuild. If a transport is already live the observer fires
// immediately.
func (s *Session) OnTransport(fn func(*ws.Transport, *ws.Requester)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	t, r := s.transport, s.requester
	s.mu.Unlock()

	if t != nil {
		fn(t, r)
	}
}

func (s *Session) onAuthChange(change core.AuthChange) {
	switch change.State {
	case core.Authenticated:
		s.reconcile()
	case core.Authenticating:
		// A refresh handshake runs while the old credential is still valid;
		// the socket stays up and the rotation path swaps it once the new
		// token lands. Only a handshake that cleared the credential first
		// (wallet switch) takes the transport down.
		if s.store.Token() == "" {
			s.teardown()
		}
	default:
		s.teardown()
	}
}

// reconcile makes the transport match the stored credential: build one when
// missing, rebuild when the token rotated, leave alone when unchanged.
func (s *Session) reconcile() {
	token := s.store.Token()
	if token == "" {
		s.teardown()
		return
	}

	s.mu.Lock()
	if s.transport != nil && s.lastToken == token {
		s.mu.Unlock()
		return
	}

	if s.transport != nil {
		// Token rotated: the backend binds authorization to the dial
		// handshake, so the socket cannot be reused across tokens.
		old := s.transport
		s.transport = nil
		s.requester = nil
		s.tearing = true
		s.mu.Unlock()

		s.log.Info("session.transport.rotate")
		old.Close()

		time.AfterFunc(s.opts.Debounce, func() {
			s.mu.Lock()
			s.tearing = false
			s.mu.Unlock()
			s.reconcile()
		})
		return
	}

	if s.tearing {
		// A teardown is in progress; its debounce timer re-runs reconcile.
		s.mu.Unlock()
		return
	}

	transport := s.build()
	requester := ws.NewRequester(transport)
	s.transport = transport
	s.requester = requester
	s.lastToken = token
	observers := make([]func(*ws.Transport, *ws.Requester), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	// Observers subscribe before the dial starts so nobody misses the
	// first connected event.
	for _, fn := range observers {
		fn(transport, requester)
	}

	transport.Open(context.Background())
	s.log.Info("session.transport.open")
}

// build constructs a transport wired with the session's lifecycle handlers.
func (s *Session) build() *ws.Transport {
	opts := s.opts.Transport
	opts.Endpoint = s.endpoint
	if opts.Log == nil {
		opts.Log = s.log
	}

	t := ws.New(opts)

	t.Subscribe(ws.EventAuthError, func(data json.RawMessage) {
		d := ws.DecodeAuthError(data)
		s.log.Warn("session.auth.rejected", "err", d.Error, "requires_auth", d.RequiresAuth)
		go s.handleAuthRejected(d.RequiresAuth)
	})

	t.Subscribe(ws.EventReconnectFailed, func(json.RawMessage) {
		s.log.Error("session.reconnect.failed")
		s.publish(ports.SessionEventReconnectFailed)
	})

	return t
}

// endpoint builds the dial URL with the freshest token. It runs on every
// connection attempt, including automatic reconnects after a rotation.
func (s *Session) endpoint() string {
	u, err := url.Parse(s.opts.WSEndpoint)
	if err != nil {
		s.log.Error("session.endpoint.invalid", "err", err)
		return s.opts.WSEndpoint
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	q := u.Query()
	q.Set("token", s.store.Token())
	u.RawQuery = q.Encode()
	return u.String()
}

// handleAuthRejected runs the recovery sequence for a token the backend
// refused: drop the socket and clear the credential unconditionally, then
// re-prompt for a signature when the backend asked for a fresh handshake.
// A locally "valid" token the backend rejects must never be kept.
func (s *Session) handleAuthRejected(reauth bool) {
	s.teardown()
	s.auth.Logout()

	if !reauth {
		return
	}

	if err := s.auth.Reauthenticate(context.Background()); err != nil {
		// Without a signer the system stays logged out until the user
		// reconnects their wallet.
		s.log.Warn("session.reauth.fail", "err", err)
	}
}

// teardown closes and forgets the active transport, if any.
func (s *Session) teardown() {
	s.mu.Lock()
	old := s.transport
	s.transport = nil
	s.requester = nil
	s.lastToken = ""
	s.mu.Unlock()

	if old != nil {
		s.log.Info("session.transport.close")
		old.Close()
	}
}

func (s *Session) publish(kind string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSessionEvent(context.Background(), kind, s.auth.Wallet()); err != nil {
		s.log.Warn("session.event.publish.fail", "kind", kind, "err", err)
	}
}

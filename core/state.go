package core

// AuthState is the authenticator's coarse state.
type AuthState int

const (
	Unauthenticated AuthState = iota
	Authenticating
	Authenticated
)

// String returns the string representation of an auth state.
func (s AuthState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// AuthChange is delivered to authenticator observers on every transition.
type AuthChange struct {
	State  AuthState
	Wallet string
	Status SessionStatus
	Err    error // Reason for a transition to Unauthenticated, if any
}

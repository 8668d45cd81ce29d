package core

import "time"

// RefreshThreshold is the remaining-lifetime floor below which a credential
// should be proactively renewed instead of waiting for a hard expiry.
const RefreshThreshold = 10 * time.Minute

// Credential is a bearer token bound to one wallet address.
type Credential struct {
	Token     string    // Opaque bearer token issued by the backend
	Wallet    string    // Wallet address the token was issued for
	ExpiresAt time.Time // Absolute expiry of the token
}

// IsExpired reports whether the credential's lifetime has elapsed.
func (c Credential) IsExpired() bool {
	return !time.Now().Before(c.ExpiresAt)
}

// NeedsRefresh reports whether the remaining lifetime is below the refresh
// threshold. An expired credential also needs a refresh.
func (c Credential) NeedsRefresh() bool {
	return time.Until(c.ExpiresAt) < RefreshThreshold
}

// ValidFor reports whether the credential can authenticate the given wallet
// right now.
func (c Credential) ValidFor(wallet string) bool {
	return c.Token != "" && c.Wallet == wallet && !c.IsExpired()
}

// SessionStatus is a point-in-time view of the stored credential.
type SessionStatus struct {
	IsAuthenticated bool
	Wallet          string
	ExpiresAt       time.Time
	IsExpired       bool
}

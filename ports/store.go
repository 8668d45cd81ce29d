package ports

import "github.com/layer-3/parlor/core"

// CredentialStore is the single source of truth for the bearer token.
// Implementations must make every mutation visible to the next Status call
// and must degrade to memory-only operation when durable storage fails:
// persistence is best-effort, authentication correctness never depends on it.
type CredentialStore interface {
	// Save atomically overwrites the stored credential.
	Save(cred core.Credential)

	// Load populates the in-memory view from durable storage. A persisted
	// credential that is already expired is treated as absent and purged.
	Load()

	// Status returns the current session view.
	Status() core.SessionStatus

	// Token returns the raw bearer token, or "" when none is stored.
	Token() string

	// Clear removes the credential from memory and durable storage.
	Clear()
}

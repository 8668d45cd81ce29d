// Package ws maintains one logical duplex connection to the realtime backend
// and exposes named-event publish/subscribe on top of it. Transient
// connectivity loss is masked from callers: outbound messages queue while
// disconnected and reconnection is automatic with exponential backoff.
package ws

import "encoding/json"

// Envelope is the wire wrapper for every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Lifecycle event names. They are reserved: the backend never uses them as
// domain channels, so subscribers can always distinguish "transport down"
// from a business-level message.
const (
	// EventConnected fires after the socket reaches Open and the outbound
	// queue has been flushed.
	EventConnected = "connected"

	// EventDisconnected fires when the socket drops, clean or not.
	EventDisconnected = "disconnected"

	// EventAuthError fires when the backend rejects the token post-connect.
	// Automatic reconnection is suppressed until the next explicit Open.
	EventAuthError = "auth:error"

	// EventReconnectFailed fires once the reconnection budget is exhausted.
	EventReconnectFailed = "reconnect-failed"
)

// AuthErrorData is the payload of an EventAuthError frame.
type AuthErrorData struct {
	Error        string `json:"error"`
	RequiresAuth bool   `json:"requiresAuth"`
}

// DecodeAuthError parses an auth:error payload. A malformed payload decodes
// to a zero value with RequiresAuth=true, the conservative reading.
func DecodeAuthError(data json.RawMessage) AuthErrorData {
	var d AuthErrorData
	if err := json.Unmarshal(data, &d); err != nil {
		return AuthErrorData{Error: "malformed auth error", RequiresAuth: true}
	}
	return d
}

// IsLifecycleEvent reports whether name is one of the reserved lifecycle events.
func IsLifecycleEvent(name string) bool {
	switch name {
	case EventConnected, EventDisconnected, EventAuthError, EventReconnectFailed:
		return true
	default:
		return false
	}
}

package core

import "errors"

var (
	// ErrSigningUnavailable is returned when no signing capability is attached
	// for the wallet being authenticated.
	ErrSigningUnavailable = errors.New("signing capability unavailable")

	// ErrSignatureRejected is returned when the user declines to sign the
	// challenge. The attempt is terminal; no automatic retry is scheduled.
	ErrSignatureRejected = errors.New("signature rejected by user")

	// ErrChallengeRequest is returned when the backend fails to issue a challenge.
	ErrChallengeRequest = errors.New("challenge request failed")

	// ErrVerificationFailed is returned when the backend rejects the signed challenge.
	ErrVerificationFailed = errors.New("signature verification failed")

	// ErrRequestTimeout is returned when a request/response exchange over the
	// transport does not complete within its deadline.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrAuthRequired signals that the backend demands a fresh handshake
	// (hard 401 with requiresAuth).
	ErrAuthRequired = errors.New("authentication required")

	// ErrTokenExpired signals a soft expiry reported by the backend.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTransportClosed is returned when an operation needs an open transport
	// and none exists.
	ErrTransportClosed = errors.New("transport is closed")
)

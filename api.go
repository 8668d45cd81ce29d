// Package parlor is the client SDK for the Parlor gambling backend: the
// wallet-signature authentication flow, the realtime transport lifecycle,
// and the authenticated REST surface.
package parlor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/layer-3/parlor/core"
	"github.com/layer-3/parlor/ports"
)

const defaultHTTPTimeout = 15 * time.Second

// APIClient talks to the backend's REST endpoints. Authenticated calls
// attach the bearer token from the credential store; authorization failures
// clear the stored credential so the session layer can react.
type APIClient struct {
	base  string
	http  *http.Client
	store ports.CredentialStore
	log   *slog.Logger
}

// NewAPIClient creates a REST client rooted at base (e.g. "https://host").
func NewAPIClient(base string, store ports.CredentialStore, log *slog.Logger) *APIClient {
	if log == nil {
		log = slog.Default()
	}
	return &APIClient{
		base:  strings.TrimRight(base, "/"),
		http:  &http.Client{Timeout: defaultHTTPTimeout},
		store: store,
		log:   log,
	}
}

// Base returns the API base URL.
func (c *APIClient) Base() string {
	return c.base
}

type challengeRequest struct {
	WalletAddress string `json:"walletAddress"`
}

type challengeResponse struct {
	Challenge string `json:"challenge"`
	Message   string `json:"message"`
}

// Challenge requests a single-use authentication challenge for wallet.
func (c *APIClient) Challenge(ctx context.Context, wallet string) (core.Challenge, error) {
	var resp challengeResponse
	err := c.post(ctx, "/auth/challenge", challengeRequest{WalletAddress: wallet}, &resp)
	if err != nil {
		return core.Challenge{}, fmt.Errorf("%w: %w", core.ErrChallengeRequest, err)
	}
	if resp.Challenge == "" {
		return core.Challenge{}, fmt.Errorf("%w: empty challenge", core.ErrChallengeRequest)
	}

	return core.Challenge{
		Wallet:    wallet,
		Challenge: resp.Challenge,
		Message:   resp.Message,
	}, nil
}

type verifyRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	Challenge     string `json:"challenge"`
}

type verifyResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // epoch milliseconds
}

// Verify submits the signed challenge and returns the issued credential.
// Nothing is persisted here; the authenticator owns the save.
func (c *APIClient) Verify(ctx context.Context, wallet, signature, challenge string) (core.Credential, error) {
	var resp verifyResponse
	err := c.post(ctx, "/auth/verify", verifyRequest{
		WalletAddress: wallet,
		Signature:     signature,
		Challenge:     challenge,
	}, &resp)
	if err != nil {
		return core.Credential{}, fmt.Errorf("%w: %w", core.ErrVerificationFailed, err)
	}
	if resp.Token == "" {
		return core.Credential{}, fmt.Errorf("%w: empty token", core.ErrVerificationFailed)
	}

	return core.Credential{
		Token:     resp.Token,
		Wallet:    wallet,
		ExpiresAt: time.UnixMilli(resp.ExpiresAt),
	}, nil
}

// post issues an unauthenticated JSON POST.
func (c *APIClient) post(ctx context.Context, path string, body, out any) error {
	return c.roundTrip(ctx, http.MethodPost, path, body, out, false)
}

// Do issues an authenticated JSON request with the stored bearer token.
// A 401 carrying {"requiresAuth": true} maps to core.ErrAuthRequired; a 401
// whose error mentions expiry maps to core.ErrTokenExpired. Both clear the
// local credential.
func (c *APIClient) Do(ctx context.Context, method, path string, body, out any) error {
	return c.roundTrip(ctx, method, path, body, out, true)
}

type backendError struct {
	Error        string `json:"error"`
	RequiresAuth bool   `json:"requiresAuth"`
}

func (c *APIClient) roundTrip(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := c.store.Token()
		if token == "" {
			return core.ErrAuthRequired
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && authed {
		var be backendError
		_ = json.Unmarshal(data, &be)

		c.store.Clear()
		c.log.Warn("api.unauthorized", "path", path, "requires_auth", be.RequiresAuth)

		if be.RequiresAuth {
			return core.ErrAuthRequired
		}
		if strings.Contains(strings.ToLower(be.Error), "expired") {
			return core.ErrTokenExpired
		}
		return fmt.Errorf("%w: %s", core.ErrAuthRequired, be.Error)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var be backendError
		if json.Unmarshal(data, &be) == nil && be.Error != "" {
			return fmt.Errorf("backend returned %d: %s", resp.StatusCode, be.Error)
		}
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

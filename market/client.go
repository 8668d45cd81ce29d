// Package market is the authenticated REST client for the marketplace,
// dashboard, and leaderboard endpoints.
package market

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/layer-3/parlor"
)

// Listing is one tradeable game asset offered for sale.
type Listing struct {
	ID        string          `json:"id"`
	Seller    string          `json:"seller"`
	AssetID   string          `json:"assetId"`
	AssetKind string          `json:"assetKind"` // e.g. "blockpad:tile", "pachinko:ball"
	Price     decimal.Decimal `json:"price"`
	CreatedAt int64           `json:"createdAt"` // epoch milliseconds
}

// CreateListing is the request body for listing an asset.
type CreateListing struct {
	AssetID   string          `json:"assetId"`
	AssetKind string          `json:"assetKind"`
	Price     decimal.Decimal `json:"price"`
}

// Dashboard summarizes the authenticated wallet's account.
type Dashboard struct {
	Wallet       string          `json:"wallet"`
	Balance      decimal.Decimal `json:"balance"`
	TotalWagered decimal.Decimal `json:"totalWagered"`
	TotalWon     decimal.Decimal `json:"totalWon"`
	OpenListings int             `json:"openListings"`
}

// LeaderboardEntry is one row of the winnings leaderboard.
type LeaderboardEntry struct {
	Rank     int             `json:"rank"`
	Wallet   string          `json:"wallet"`
	TotalWon decimal.Decimal `json:"totalWon"`
}

// Client wraps the authenticated REST surface. All calls attach the bearer
// token; authorization failures clear the credential and surface as
// core.ErrAuthRequired / core.ErrTokenExpired from the API client.
type Client struct {
	api *parlor.APIClient
}

// New creates a marketplace client on the shared API client.
func New(api *parlor.APIClient) *Client {
	return &Client{api: api}
}

// Listings returns the open marketplace listings.
func (c *Client) Listings(ctx context.Context) ([]Listing, error) {
	var out struct {
		Listings []Listing `json:"listings"`
	}
	if err := c.api.Do(ctx, http.MethodGet, "/market/listings", nil, &out); err != nil {
		return nil, err
	}
	return out.Listings, nil
}

// List offers an asset for sale and returns the created listing.
func (c *Client) List(ctx context.Context, req CreateListing) (Listing, error) {
	var out Listing
	if err := c.api.Do(ctx, http.MethodPost, "/market/listings", req, &out); err != nil {
		return Listing{}, err
	}
	return out, nil
}

// Cancel withdraws one of the caller's listings.
func (c *Client) Cancel(ctx context.Context, listingID string) error {
	path := fmt.Sprintf("/market/listings/%s/cancel", listingID)
	return c.api.Do(ctx, http.MethodPost, path, nil, nil)
}

// Buy purchases a listing at its asking price.
func (c *Client) Buy(ctx context.Context, listingID string) (Listing, error) {
	var out Listing
	path := fmt.Sprintf("/market/listings/%s/buy", listingID)
	if err := c.api.Do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return Listing{}, err
	}
	return out, nil
}

// Dashboard fetches the account summary for the authenticated wallet.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var out Dashboard
	if err := c.api.Do(ctx, http.MethodGet, "/dashboard", nil, &out); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}

// Leaderboard fetches the top winners.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var out struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	path := fmt.Sprintf("/leaderboard?limit=%d", limit)
	if err := c.api.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

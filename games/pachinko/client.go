// Package pachinko is the realtime client for the Pachinko lottery game:
// machine status, ball purchases, and winner draws.
package pachinko

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/layer-3/parlor"
	"github.com/layer-3/parlor/core"
	"github.com/layer-3/parlor/transport/ws"
)

// Channel names used by the Pachinko lottery.
const (
	ChannelGetStatus       = "lottery:get_status"
	ChannelStatus          = "lottery:status"
	ChannelBuyBalls        = "lottery:buy_balls"
	ChannelPurchaseSuccess = "lottery:purchase_success"
	ChannelGetWinners      = "lottery:get_winners"
	ChannelWinners         = "lottery:winners"
	ChannelError           = "lottery:error"
)

// Machine is one lottery machine's live state.
type Machine struct {
	MachineID string          `json:"machineId"`
	BallPrice decimal.Decimal `json:"ballPrice"`
	Jackpot   decimal.Decimal `json:"jackpot"`
	BallsSold int             `json:"ballsSold"`
	DrawsAt   int64           `json:"drawsAt"` // epoch milliseconds
}

// Status is the response to a status query.
type Status struct {
	Machines []Machine `json:"machines"`
}

// Purchase acknowledges a ball purchase.
type Purchase struct {
	MachineID string          `json:"machineId"`
	Quantity  int             `json:"quantity"`
	BallIDs   []string        `json:"ballIds"`
	Balance   decimal.Decimal `json:"balance"`
}

// Winner is one winning draw, with the backend's opaque fairness proof.
type Winner struct {
	Wallet    string          `json:"wallet"`
	MachineID string          `json:"machineId"`
	Prize     decimal.Decimal `json:"prize"`
	DrawnAt   int64           `json:"drawnAt"`
	Proof     string          `json:"proof,omitempty"`
}

// Winners is the response to a winners query. It also backs the leaderboard.
type Winners struct {
	Winners []Winner `json:"winners"`
}

type statusRequest struct{}

type buyRequest struct {
	WalletAddress string `json:"walletAddress"`
	MachineID     string `json:"machineId"`
	Quantity      int    `json:"quantity"`
}

type winnersRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Client is the Pachinko game client.
type Client struct {
	wallet string
	log    *slog.Logger

	mu        sync.Mutex
	requester *ws.Requester
}

// New creates a Pachinko client bound to the session.
func New(session *parlor.Session, wallet string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{wallet: wallet, log: log}
	session.OnTransport(func(_ *ws.Transport, r *ws.Requester) {
		c.mu.Lock()
		c.requester = r
		c.mu.Unlock()
	})
	return c
}

func (c *Client) req() (*ws.Requester, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requester == nil {
		return nil, core.ErrTransportClosed
	}
	return c.requester, nil
}

// Status queries the live machine states.
func (c *Client) Status(ctx context.Context) (Status, error) {
	r, err := c.req()
	if err != nil {
		return Status{}, err
	}

	raw, err := r.Do(ctx, ws.Request{
		Event:         ChannelGetStatus,
		ResponseEvent: ChannelStatus,
		ErrorEvent:    ChannelError,
		Payload:       statusRequest{},
		Timeout:       ws.QueryTimeout,
	})
	if err != nil {
		return Status{}, err
	}

	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// BuyBalls purchases quantity lottery balls on the given machine.
func (c *Client) BuyBalls(ctx context.Context, machineID string, quantity int) (Purchase, error) {
	r, err := c.req()
	if err != nil {
		return Purchase{}, err
	}

	raw, err := r.Do(ctx, ws.Request{
		Event:         ChannelBuyBalls,
		ResponseEvent: ChannelPurchaseSuccess,
		ErrorEvent:    ChannelError,
		Payload: buyRequest{
			WalletAddress: c.wallet,
			MachineID:     machineID,
			Quantity:      quantity,
		},
		Timeout: ws.PurchaseTimeout,
	})
	if err != nil {
		return Purchase{}, err
	}

	var p Purchase
	if err := json.Unmarshal(raw, &p); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// Winners fetches recent winning draws, newest first.
func (c *Client) Winners(ctx context.Context, limit int) (Winners, error) {
	r, err := c.req()
	if err != nil {
		return Winners{}, err
	}

	raw, err := r.Do(ctx, ws.Request{
		Event:         ChannelGetWinners,
		ResponseEvent: ChannelWinners,
		ErrorEvent:    ChannelError,
		Payload:       winnersRequest{Limit: limit},
		Timeout:       ws.QueryTimeout,
	})
	if err != nil {
		return Winners{}, err
	}

	var w Winners
	if err := json.Unmarshal(raw, &w); err != nil {
		return Winners{}, err
	}
	return w, nil
}

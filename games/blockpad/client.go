// Package blockpad is the realtime client for the Blockpad tile-betting
// game. It layers typed channels over the session transport.
package blockpad

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

// Channel names used by the Blockpad game.
const (
	ChannelRoundStarted = "round:started"
	ChannelGameUpdate   = "game:update"
	ChannelPlaceBatch   = "bet:place_batch"
	ChannelBatchSuccess = "bet:batch_success"
	ChannelBetError     = "bet:error"
)

// Round announces a new betting round.
type Round struct {
	RoundID   string `json:"roundId"`
	StartsAt  int64  `json:"startsAt"` // epoch milliseconds
	BoardSize int    `json:"boardSize"`
}

// GameUpdate carries the live state of the current round. Proof is the
// backend's fairness proof, surfaced opaquely.
type GameUpdate struct {
	RoundID       string          `json:"roundId"`
	Phase         string          `json:"phase"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	RevealedTiles []int           `json:"revealedTiles"`
	Proof         string          `json:"proof,omitempty"`
}

// Bet stakes an amount on one tile.
type Bet struct {
	Tile   int             `json:"tile"`
	Amount decimal.Decimal `json:"amount"`
}

// BatchSuccess acknowledges an accepted bet batch.
type BatchSuccess struct {
	RoundID     string          `json:"roundId"`
	Accepted    int             `json:"accepted"`
	TotalStaked decimal.Decimal `json:"totalStaked"`
	Balance     decimal.Decimal `json:"balance"`
}

type placeBatchRequest struct {
	WalletAddress string `json:"walletAddress"`
	Bets          []Bet  `json:"bets"`
}

// Client is the Blockpad game client. It survives transport rebuilds by
// re-binding its subscriptions whenever the session builds a new transport.
type Client struct {
	wallet string
	log    *slog.Logger

	mu        sync.Mutex
	requester *ws.Requester
	onRound   func(Round)
	onUpdate  func(GameUpdate)
	onError   func(error)
}

// New creates a Blockpad client bound to the session.
func New(session *parlor.Session, wallet string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{wallet: wallet, log: log}
	session.OnTransport(c.bind)
	return c
}

// OnRoundStarted registers the round announcement callback.
func (c *Client) OnRoundStarted(fn func(Round)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRound = fn
}

// OnGameUpdate registers the live state callback.
func (c *Client) OnGameUpdate(fn func(GameUpdate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// OnError registers the callback for payload decode failures.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// bind subscribes the client's channels on a freshly built transport.
func (c *Client) bind(t *ws.Transport, r *ws.Requester) {
	c.mu.Lock()
	c.requester = r
	c.mu.Unlock()

	t.Subscribe(ChannelRoundStarted, func(data json.RawMessage) {
		var round Round
		if err := json.Unmarshal(data, &round); err != nil {
			c.fail(err)
			return
		}
		c.mu.Lock()
		fn := c.onRound
		c.mu.Unlock()
		if fn != nil {
			fn(round)
		}
	})

	t.Subscribe(ChannelGameUpdate, func(data json.RawMessage) {
		var update GameUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			c.fail(err)
			return
		}
		c.mu.Lock()
		fn := c.onUpdate
		c.mu.Unlock()
		if fn != nil {
			fn(update)
		}
	})
}

// PlaceBets submits a batch of tile bets and waits for the acknowledgement.
func (c *Client) PlaceBets(ctx context.Context, bets []Bet) (BatchSuccess, error) {
	c.mu.Lock()
	r := c.requester
	c.mu.Unlock()
	if r == nil {
		return BatchSuccess{}, core.ErrTransportClosed
	}

	raw, err := r.Do(ctx, ws.Request{
		Event:         ChannelPlaceBatch,
		ResponseEvent: ChannelBatchSuccess,
		ErrorEvent:    ChannelBetError,
		Payload:       placeBatchRequest{WalletAddress: c.wallet, Bets: bets},
		Timeout:       ws.PurchaseTimeout,
	})
	if err != nil {
		return BatchSuccess{}, err
	}

	var ack BatchSuccess
	if err := json.Unmarshal(raw, &ack); err != nil {
		return BatchSuccess{}, err
	}
	return ack, nil
}

func (c *Client) fail(err error) {
	c.log.Warn("blockpad.payload.decode.fail", "err", err)
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

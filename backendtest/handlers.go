package backendtest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---- market / dashboard / leaderboard ----

func (s *Server) handleListings(c *gin.Context) {
	s.mu.Lock()
	listings := make([]marketListing, len(s.listings))
	copy(listings, s.listings)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (s *Server) handleCreateListing(c *gin.Context) {
	var req struct {
		AssetID   string          `json:"assetId" binding:"required"`
		AssetKind string          `json:"assetKind" binding:"required"`
		Price     decimal.Decimal `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	listing := marketListing{
		ID:        uuid.New().String(),
		Seller:    c.GetString("wallet"),
		AssetID:   req.AssetID,
		AssetKind: req.AssetKind,
		Price:     req.Price,
		CreatedAt: time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.listings = append(s.listings, listing)
	s.mu.Unlock()

	c.JSON(http.StatusOK, listing)
}

func (s *Server) handleCancelListing(c *gin.Context) {
	id := c.Param("id")
	wallet := c.GetString("wallet")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listings {
		if l.ID != id {
			continue
		}
		if l.Seller != wallet {
			c.JSON(http.StatusForbidden, gin.H{"error": "not the seller"})
			return
		}
		s.listings = append(s.listings[:i], s.listings[i+1:]...)
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
}

func (s *Server) handleBuyListing(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listings {
		if l.ID != id {
			continue
		}
		s.listings = append(s.listings[:i], s.listings[i+1:]...)
		c.JSON(http.StatusOK, l)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
}

func (s *Server) handleDashboard(c *gin.Context) {
	wallet := c.GetString("wallet")

	s.mu.Lock()
	open := 0
	for _, l := range s.listings {
		if l.Seller == wallet {
			open++
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"wallet":       wallet,
		"balance":      "100",
		"totalWagered": "0",
		"totalWon":     "0",
		"openListings": open,
	})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": []gin.H{}})
}

// ---- websocket ----

// handleWS upgrades the connection, validates the token query parameter, and
// serves the scripted realtime loop: correlated replies for the lottery and
// bet channels, plus whatever the tests broadcast.
func (s *Server) handleWS(c *gin.Context) {
	s.mu.Lock()
	reject := s.wsRejects > 0
	if reject {
		s.wsRejects--
	}
	s.mu.Unlock()
	if reject {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "rejected", "requiresAuth": true})
		return
	}

	token := c.Query("token")
	if _, err := s.parseToken(token); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "requiresAuth": true})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := c.Request.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		if reply := s.replyFor(env.Event, env.Data); reply != nil {
			writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, reply)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// replyFor builds the correlated response frame for a request event.
func (s *Server) replyFor(event string, data json.RawMessage) []byte {
	var req map[string]any
	if err := json.Unmarshal(data, &req); err != nil {
		return nil
	}
	requestID, _ := req["requestId"].(string)

	var (
		respEvent string
		respData  map[string]any
	)

	switch event {
	case "lottery:get_status":
		respEvent = "lottery:status"
		respData = map[string]any{
			"machines": []map[string]any{{
				"machineId": "sol",
				"ballPrice": "0.1",
				"jackpot":   "42",
				"ballsSold": 7,
				"drawsAt":   time.Now().Add(time.Hour).UnixMilli(),
			}},
		}

	case "lottery:buy_balls":
		quantity, _ := req["quantity"].(float64)
		machineID, _ := req["machineId"].(string)
		ballIDs := make([]string, int(quantity))
		for i := range ballIDs {
			ballIDs[i] = uuid.New().String()
		}
		respEvent = "lottery:purchase_success"
		respData = map[string]any{
			"machineId": machineID,
			"quantity":  int(quantity),
			"ballIds":   ballIDs,
			"balance":   "99",
		}

	case "lottery:get_winners":
		respEvent = "lottery:winners"
		respData = map[string]any{"winners": []map[string]any{}}

	case "bet:place_batch":
		bets, _ := req["bets"].([]any)
		respEvent = "bet:batch_success"
		respData = map[string]any{
			"roundId":     uuid.New().String(),
			"accepted":    len(bets),
			"totalStaked": "1",
			"balance":     "99",
		}

	default:
		return nil
	}

	respData["requestId"] = requestID
	frame, _ := json.Marshal(map[string]any{"event": respEvent, "data": respData})
	return frame
}

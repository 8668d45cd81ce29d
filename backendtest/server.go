// Package backendtest runs an in-process Parlor backend: the auth REST
// endpoints, the authenticated market surface, and the realtime websocket.
// It backs the integration tests and the demo CLI's local mode.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultTokenTTL mirrors the production backend's observed token lifetime.
const DefaultTokenTTL = 2 * time.Hour

type challengeRecord struct {
	wallet  string
	message string
}

// Server is the in-process fake backend.
type Server struct {
	secret   []byte
	tokenTTL time.Duration
	srv      *httptest.Server

	mu         sync.Mutex
	challenges map[string]challengeRecord // challenge value -> record
	conns      map[*websocket.Conn]struct{}
	listings   []marketListing
	wsRejects  int // reject the next N ws upgrades with 401
}

type marketListing struct {
	ID        string          `json:"id"`
	Seller    string          `json:"seller"`
	AssetID   string          `json:"assetId"`
	AssetKind string          `json:"assetKind"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt int64           `json:"createdAt"`
}

// New starts a fake backend with the default token lifetime.
func New() *Server {
	return NewWithTTL(DefaultTokenTTL)
}

// NewWithTTL starts a fake backend issuing tokens with the given lifetime.
func NewWithTTL(ttl time.Duration) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		secret:     []byte(uuid.New().String()),
		tokenTTL:   ttl,
		challenges: make(map[string]challengeRecord),
		conns:      make(map[*websocket.Conn]struct{}),
	}

	router := gin.New()

	auth := router.Group("/auth")
	{
		auth.POST("/challenge", s.handleChallenge)
		auth.POST("/verify", s.handleVerify)
	}

	api := router.Group("/")
	api.Use(s.authMiddleware())
	{
		api.GET("/market/listings", s.handleListings)
		api.POST("/market/listings", s.handleCreateListing)
		api.POST("/market/listings/:id/cancel", s.handleCancelListing)
		api.POST("/market/listings/:id/buy", s.handleBuyListing)
		api.GET("/dashboard", s.handleDashboard)
		api.GET("/leaderboard", s.handleLeaderboard)
	}

	router.GET("/ws", s.handleWS)

	s.srv = httptest.NewServer(router)
	return s
}

// URL returns the REST base URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// WSURL returns the websocket endpoint (without token).
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// Close shuts the backend down.
func (s *Server) Close() {
	s.DropConnections(websocket.StatusNormalClosure)
	s.srv.Close()
}

// IssueToken mints a valid token outside the handshake, for seeding stores.
func (s *Server) IssueToken(wallet string, ttl time.Duration) (string, time.Time) {
	expiresAt := time.Now().Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   wallet,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ID:        uuid.New().String(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(fmt.Sprintf("backendtest: failed to sign token: %v", err))
	}
	return token, expiresAt
}

// RejectNextWS makes the next n websocket upgrades fail with 401.
func (s *Server) RejectNextWS(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wsRejects = n
}

// PushAuthError sends an auth:error frame to every connected ws client.
func (s *Server) PushAuthError(requiresAuth bool) {
	frame, _ := json.Marshal(map[string]any{
		"event": "auth:error",
		"data":  map[string]any{"error": "token rejected", "requiresAuth": requiresAuth},
	})
	s.broadcast(frame)
}

// Broadcast pushes an arbitrary event frame to every connected ws client.
func (s *Server) Broadcast(event string, data any) {
	frame, _ := json.Marshal(map[string]any{"event": event, "data": data})
	s.broadcast(frame)
}

func (s *Server) broadcast(frame []byte) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, c := range conns {
		_ = c.Write(ctx, websocket.MessageText, frame)
	}
}

// DropConnections closes every live ws connection with the given code.
func (s *Server) DropConnections(code websocket.StatusCode) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(code, "dropped")
	}
}

// ConnCount returns the number of live ws connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ---- auth ----

func (s *Server) handleChallenge(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	challenge := uuid.New().String()
	message := fmt.Sprintf("Sign in to Parlor\nWallet: %s\nNonce: %s", req.WalletAddress, challenge)

	s.mu.Lock()
	s.challenges[challenge] = challengeRecord{wallet: req.WalletAddress, message: message}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"challenge": challenge, "message": message})
}

func (s *Server) handleVerify(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress" binding:"required"`
		Signature     string `json:"signature" binding:"required"`
		Challenge     string `json:"challenge" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	s.mu.Lock()
	record, ok := s.challenges[req.Challenge]
	// A challenge is single-use regardless of the outcome.
	delete(s.challenges, req.Challenge)
	s.mu.Unlock()

	if !ok || !strings.EqualFold(record.wallet, req.WalletAddress) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown challenge"})
		return
	}

	if err := verifyPersonalSignature(record.message, req.Signature, req.WalletAddress); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	token, expiresAt := s.IssueToken(req.WalletAddress, s.tokenTTL)
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": expiresAt.UnixMilli()})
}

// verifyPersonalSignature recovers the signer of an EIP-191 personal message
// and compares it to the expected wallet.
func verifyPersonalSignature(message, signature, wallet string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// Undo the Ethereum recovery byte convention.
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), wallet) {
		return fmt.Errorf("signer %s does not match wallet %s", recovered.Hex(), wallet)
	}
	return nil
}

func (s *Server) parseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("invalid token")
	}
	return parsed.Claims.(*jwt.RegisteredClaims).Subject, nil
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "requiresAuth": true})
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		wallet, err := s.parseToken(token)
		if err != nil {
			if isExpired(token, s.secret) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "requiresAuth": true})
			}
			return
		}

		c.Set("wallet", wallet)
		c.Next()
	}
}

// isExpired distinguishes a soft expiry from an otherwise invalid token.
func isExpired(token string, secret []byte) bool {
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	return err != nil && strings.Contains(err.Error(), "expired")
}

// Command parlor runs a headless Parlor client: it authenticates a local
// wallet key against the backend, keeps the realtime session alive, and logs
// game events as they arrive.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/parlor"
	"github.com/layer-3/parlor/adapters/events"
	"github.com/layer-3/parlor/adapters/signer"
	"github.com/layer-3/parlor/adapters/store"
	"github.com/layer-3/parlor/games/blockpad"
	"github.com/layer-3/parlor/games/pachinko"
	"github.com/layer-3/parlor/ports"
	"github.com/layer-3/parlor/transport/ws"
)

type config struct {
	APIBase    string `env:"PARLOR_API,default=http://localhost:9000"`
	WSEndpoint string `env:"PARLOR_WS,default=ws://localhost:9000/ws"`
	DataDir    string `env:"PARLOR_DATADIR,default=.parlor"`
	KeyFile    string `env:"PARLOR_KEYFILE,required"`
	RedisURL   string `env:"PARLOR_REDIS_URL"` // optional: shared store + event bus
	LogLevel   string `env:"PARLOR_LOG_LEVEL,default=info"`
}

func main() {
	var cfg config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	walletSigner, err := signer.FromKeyFile(cfg.KeyFile)
	if err != nil {
		logger.Error("main.keyfile.fail", "err", err)
		os.Exit(1)
	}
	wallet := walletSigner.Address()

	var (
		credStore ports.CredentialStore
		eventPub  ports.EventPublisher
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("main.redis.url.fail", "err", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(opts)
		credStore = store.NewRedisStore(redisClient, "parlor:credential:"+wallet, logger)

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			watermill.NewStdLogger(false, false),
		)
		if err != nil {
			logger.Error("main.redis.publisher.fail", "err", err)
			os.Exit(1)
		}
		eventPub = events.NewWatermillPublisher(publisher)
	} else {
		credStore = store.NewFileStore(filepath.Join(cfg.DataDir, "credential.json"), logger)
	}
	credStore.Load()

	prefs := store.NewPrefsStore(filepath.Join(cfg.DataDir, "prefs.json"), logger)
	prefs.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := parlor.NewAPIClient(cfg.APIBase, credStore, logger)
	auth := parlor.NewAuthenticator(api, credStore, parlor.AuthOptions{
		Events: eventPub,
		Log:    logger,
	})
	session := parlor.NewSession(auth, credStore, parlor.SessionOptions{
		WSEndpoint: cfg.WSEndpoint,
		Events:     eventPub,
		Log:        logger,
	})

	pad := blockpad.New(session, wallet, logger)
	pad.OnRoundStarted(func(round blockpad.Round) {
		logger.Info("blockpad.round", "round_id", round.RoundID, "board_size", round.BoardSize)
	})
	pad.OnGameUpdate(func(update blockpad.GameUpdate) {
		logger.Info("blockpad.update", "round_id", update.RoundID, "phase", update.Phase)
	})

	lottery := pachinko.New(session, wallet, logger)

	session.OnTransport(func(t *ws.Transport, _ *ws.Requester) {
		t.Subscribe(ws.EventConnected, func(json.RawMessage) {
			logger.Info("main.connected")
			status, err := lottery.Status(ctx)
			if err != nil {
				logger.Warn("main.lottery.status.fail", "err", err)
				return
			}
			logger.Info("main.lottery.status", "machines", len(status.Machines))
		})
	})

	if auth.HasValidSession(wallet) {
		logger.Info("main.session.restored", "wallet", wallet)
	} else if err := auth.Authenticate(ctx, walletSigner); err != nil {
		logger.Error("main.auth.fail", "err", err)
		os.Exit(1)
	}

	auth.StartRefreshLoop(ctx)

	<-ctx.Done()
	logger.Info("main.shutdown")
	auth.DisconnectWallet()
}

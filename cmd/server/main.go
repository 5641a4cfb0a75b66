package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vedran77/stratchat/internal/auth"
	"github.com/vedran77/stratchat/internal/config"
	"github.com/vedran77/stratchat/internal/database"
	"github.com/vedran77/stratchat/internal/id"
	"github.com/vedran77/stratchat/internal/logger"
	"github.com/vedran77/stratchat/internal/repository"
	"github.com/vedran77/stratchat/internal/repository/memory"
	postgresrepo "github.com/vedran77/stratchat/internal/repository/postgres"
	"github.com/vedran77/stratchat/internal/service"
	"github.com/vedran77/stratchat/internal/telemetry"
	"github.com/vedran77/stratchat/internal/transport/http/handlers"
	"github.com/vedran77/stratchat/internal/transport/http/middleware"
	"github.com/vedran77/stratchat/internal/transport/ws"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

type repositories struct {
	users      repository.UserRepository
	strategies repository.StrategyRepository
	chats      repository.ChatRepository
	messages   repository.MessageRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := id.Init(cfg.NodeID); err != nil {
		return fmt.Errorf("initializing snowflake ids: %w", err)
	}

	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			log.WithError(err).Warn("telemetry shutdown")
		}
	}()

	repos, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Bus
	hub := ws.NewHub(log)
	var relay *ws.RedisRelay
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		relay = ws.NewRedisRelay(redisClient, cfg.Redis.Channel, hub, log)
		hub.SetRelay(relay)
		log.WithField("channel", cfg.Redis.Channel).Info("redis relay enabled")
	}

	// Services
	chatService := service.NewChatService(repos.chats, repos.messages, repos.users, repos.strategies, log)
	chatService.SetNotifier(ws.NewHubNotifier(hub))

	authenticator := auth.NewAuthenticator(cfg.JWTSecret, repos.users)

	// Routes
	mux := http.NewServeMux()
	handlers.Register(mux, handlers.NewChatHandler(chatService, log), middleware.Auth(authenticator))
	mux.Handle("GET /ws", ws.ServeWS(hub, authenticator, chatService, ws.HandlerOptions{
		OriginPatterns: cfg.CORSOrigins,
		Client: ws.ClientOptions{
			RateLimit: cfg.WS.RateLimit,
			RateBurst: cfg.WS.RateBurst,
			PongWait:  cfg.WS.PongWait,
		},
	}))

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           middleware.CORS(cfg.CORSOrigins)(middleware.Observe(log)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"addr":  server.Addr,
			"store": cfg.StoreDriver,
			"env":   cfg.Env,
		}).Info("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown.
		hub.Close()
		return server.Shutdown(sctx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (repositories, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store := memory.New()
		if cfg.SeedFile != "" {
			if err := store.LoadSeed(cfg.SeedFile); err != nil {
				return repositories{}, nil, fmt.Errorf("loading seed: %w", err)
			}
			log.WithField("file", cfg.SeedFile).Info("memory store seeded")
		}
		return repositories{
			users:      store.Users(),
			strategies: store.Strategies(),
			chats:      store.Chats(),
			messages:   store.Messages(),
		}, func() {}, nil

	default:
		pool, err := database.Connect(ctx, cfg.DB)
		if err != nil {
			return repositories{}, nil, err
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return repositories{}, nil, err
		}
		log.Info("connected to database")

		return repositories{
			users:      postgresrepo.NewUserRepo(pool),
			strategies: postgresrepo.NewStrategyRepo(pool),
			chats:      postgresrepo.NewChatRepo(pool),
			messages:   postgresrepo.NewMessageRepo(pool),
		}, pool.Close, nil
	}
}

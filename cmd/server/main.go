package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"chatgraph/internal/config"
	"chatgraph/internal/domain"
	"chatgraph/internal/graph"
	"chatgraph/internal/httpserver"
	"chatgraph/internal/pubsub"
	"chatgraph/internal/security"
	"chatgraph/internal/service"
	"chatgraph/internal/store/postgres"
	"chatgraph/internal/store/sqlite"
	"chatgraph/internal/ws"
)

type repositories struct {
	users         domain.UserRepository
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize database
	db, repos, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())
	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey), cfg.LegacyEncryptKeys)
	if err != nil {
		log.Fatalf("failed to initialize encryptor: %v", err)
	}

	// Fan-out bus
	bus, closeBus, err := openBus(cfg)
	if err != nil {
		log.Fatalf("failed to open bus: %v", err)
	}
	defer closeBus()

	// Services and schema
	auth := service.NewAuthService(repos.users, tokenSvc)
	conversations := service.NewConversationService(repos.conversations, repos.participants, repos.users, bus, encryptor)
	messages := service.NewMessageService(repos.conversations, repos.messages, bus, encryptor, cfg.MaxMessageLength, cfg.MessagesPageSize)
	subscriptions := service.NewSubscriptionService(bus, repos.conversations, repos.participants)
	schema := graph.NewSchema(graph.NewResolver(service.NewUserService(repos.users), conversations, messages, subscriptions))

	// WebSocket subscriptions
	hub := ws.NewHub()
	subsHandler := ws.NewHandler(hub, schema, auth, ws.Options{
		AllowedOrigins: cfg.CORSOrigins,
		PingInterval:   cfg.WSPingInterval,
		ReadLimit:      cfg.WSReadLimit,
	})

	router := httpserver.NewRouter(cfg, schema, auth, subsHandler)

	// No WriteTimeout: it would cut websocket connections.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Starting %s (%s) on %s (db=%s, bus=%s)", cfg.AppName, cfg.Env, cfg.HTTPAddr(), cfg.DBDriver, cfg.BusDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	hub.CloseAll()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func openStore(cfg *config.Config) (*sql.DB, repositories, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			users:         postgres.NewUserRepo(db),
			conversations: postgres.NewConversationRepo(db),
			participants:  postgres.NewParticipantRepo(db),
			messages:      postgres.NewMessageRepo(db),
		}, nil

	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			users:         sqlite.NewUserRepo(db),
			conversations: sqlite.NewConversationRepo(db),
			participants:  sqlite.NewParticipantRepo(db),
			messages:      sqlite.NewMessageRepo(db),
		}, nil
	}
}

func openBus(cfg *config.Config) (pubsub.Bus, func(), error) {
	if cfg.BusDriver != "redis" {
		bus := pubsub.NewMemoryBus(cfg.SubscriptionBuffer)
		return bus, func() { _ = bus.Close() }, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}

	bus := pubsub.NewRedisBus(client, cfg.BusChannelPrefix, cfg.SubscriptionBuffer)
	return bus, func() { _ = client.Close() }, nil
}

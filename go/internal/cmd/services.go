package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/astromitra/consultroom/go/clients/userdir"
	"github.com/astromitra/consultroom/go/internal/chat/archive"
	"github.com/astromitra/consultroom/go/internal/chat/bridge"
	"github.com/astromitra/consultroom/go/internal/chat/delivery"
	"github.com/astromitra/consultroom/go/internal/chat/gateway"
	"github.com/astromitra/consultroom/go/internal/chat/room"
	"github.com/astromitra/consultroom/go/internal/chat/session"
)

// Services holds every long-lived component of the relay.
type Services struct {
	Rooms    *room.Manager
	Sessions *session.Manager
	Gateway  *gateway.Service

	ArchiveStore  archive.Store
	ArchiveWorker *archive.Worker
	Bridge        *bridge.Publisher
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	rooms := room.NewManager(room.Config{
		MaxHistory: cfg.Chat.MaxHistory,
		IdleTTL:    time.Duration(cfg.Chat.IdleTTL),
		GCInterval: time.Duration(cfg.Chat.GCInterval),
	}, clock)
	sessions := session.NewManager(clock)
	tracker := delivery.NewTracker()

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.TickInterval = time.Duration(cfg.Chat.TickInterval)
	gatewayConfig.ConnectionConfig.MaxMessageSize = cfg.Chat.MaxMessageBytes

	gw := gateway.NewService(gatewayConfig, rooms, sessions, tracker, clock)

	services := &Services{
		Rooms:    rooms,
		Sessions: sessions,
		Gateway:  gw,
	}

	if err := setupArchive(ctx, cfg, services); err != nil {
		return nil, err
	}
	setupBridge(ctx, cfg, services)
	setupUserDirectory(cfg, services)

	return services, nil
}

func setupArchive(ctx context.Context, cfg *Config, services *Services) error {
	var store archive.Store
	var err error

	switch cfg.Archive.Driver {
	case "", "none":
		log.Info().Msg("message archive disabled")
		return nil
	case "postgres":
		databaseURL := os.Getenv("DATABASE_URL")
		if databaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres archive driver")
		}
		store, err = archive.NewPostgresStore(ctx, databaseURL)
	case "redis":
		redisURL := os.Getenv("REDIS_URL")
		if redisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis archive driver")
		}
		store, err = archive.NewRedisStore(ctx, redisURL)
	default:
		return fmt.Errorf("unknown archive driver %q", cfg.Archive.Driver)
	}
	if err != nil {
		return fmt.Errorf("failed to set up %s archive: %w", cfg.Archive.Driver, err)
	}

	worker := archive.NewWorker(store, cfg.Archive.QueueSize)
	services.ArchiveStore = store
	services.ArchiveWorker = worker
	services.Gateway.SetArchiver(worker)

	log.Info().Str("driver", store.Driver()).Msg("message archive enabled")
	return nil
}

func setupBridge(ctx context.Context, cfg *Config, services *Services) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		log.Info().Msg("event bridge disabled, NATS_URL not set")
		return
	}

	bridgeConfig := bridge.DefaultConfig()
	bridgeConfig.URL = natsURL
	bridgeConfig.StreamName = cfg.Bridge.StreamName
	bridgeConfig.SubjectPrefix = cfg.Bridge.SubjectPrefix

	publisher, err := bridge.NewPublisher(ctx, bridgeConfig)
	if err != nil {
		// The bridge is an audit mirror, not a dependency of the relay.
		log.Error().Err(err).Msg("failed to set up event bridge, continuing without it")
		return
	}

	services.Bridge = publisher
	services.Gateway.SetEventSink(publisher)
	log.Info().Str("stream", bridgeConfig.StreamName).Msg("event bridge enabled")
}

func setupUserDirectory(cfg *Config, services *Services) {
	if cfg.UserDirectory.BaseURL == "" {
		log.Info().Msg("user directory lookups disabled")
		return
	}

	var tokens func() (string, error)
	if token := os.Getenv("USER_DIRECTORY_TOKEN"); token != "" {
		tokens = func() (string, error) { return token, nil }
	}

	client := userdir.NewClient(cfg.UserDirectory.BaseURL, tokens)
	services.Gateway.SetUserLookup(&userLookupAdapter{client: client})
	log.Info().Str("base_url", cfg.UserDirectory.BaseURL).Msg("user directory lookups enabled")
}

// userLookupAdapter maps the directory client onto the gateway's interface.
type userLookupAdapter struct {
	client *userdir.Client
}

func (a *userLookupAdapter) Lookup(ctx context.Context, userID string) (gateway.UserProfile, error) {
	profile, err := a.client.GetProfile(ctx, userID)
	if err != nil {
		return gateway.UserProfile{}, err
	}
	return gateway.UserProfile{
		ID:           profile.ID,
		Name:         profile.Name,
		ProfileImage: profile.ProfileImage,
	}, nil
}

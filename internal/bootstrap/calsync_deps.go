// Package bootstrap wires configuration, stores, providers and the HTTP
// server together.
package bootstrap

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"calsync_server/adapter/out/mongodb"
	"calsync_server/adapter/out/persistence"
	"calsync_server/adapter/out/provider"
	"calsync_server/config"
	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/core/service/calendar"
	"calsync_server/infra/database"
	"calsync_server/pkg/crypto"
	"calsync_server/pkg/logger"
)

type Dependencies struct {
	Config  *config.Config
	DB      *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Stores
	EventStore   *persistence.EventStoreAdapter
	SessionStore *persistence.SessionStoreAdapter
	EventArchive out.EventArchive
	Tokens       out.TokenSource

	// Providers
	Registry *provider.Registry

	// Services
	CalendarService *calendar.Service
	Scheduler       *calendar.Scheduler
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	log := logger.For("bootstrap")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	// The payload archive is optional; without Mongo, raw provider
	// payloads are simply not kept.
	var mongoClient *mongo.Client
	var archive out.EventArchive
	if cfg.MongoDBURL != "" {
		mongoClient, err = mongodb.NewClient(cfg.MongoDBURL)
		if err != nil {
			log.Warn().Err(err).Msg("MongoDB unavailable, event payload archive disabled")
		} else {
			archive = mongodb.NewEventArchiveAdapter(mongoClient, cfg.MongoDBName)
		}
	}

	// Tokens are stored encrypted when a key is configured.
	var encryptor *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		encryptor, err = crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			redisClient.Close()
			db.Close()
			return nil, nil, err
		}
	} else {
		log.Warn().Msg("ENCRYPTION_KEY not set, OAuth tokens stored unencrypted")
	}

	eventStore := persistence.NewEventStoreAdapter(db)
	sessionStore := persistence.NewSessionStoreAdapter(redisClient, encryptor)

	googleConfig := provider.GoogleOAuthConfig(provider.OAuthCredentials{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	microsoftConfig := provider.MicrosoftOAuthConfig(provider.OAuthCredentials{
		ClientID:     cfg.MicrosoftClientID,
		ClientSecret: cfg.MicrosoftClientSecret,
		RedirectURL:  cfg.MicrosoftRedirectURL,
		TenantID:     cfg.MicrosoftTenantID,
	})

	googleTokens := persistence.NewOAuthTokenSource(googleConfig, sessionStore)
	microsoftTokens := persistence.NewOAuthTokenSource(microsoftConfig, sessionStore)
	tokens := persistence.NewTokenSourceMux(sessionStore, googleTokens, microsoftTokens)

	registry := provider.NewRegistry(
		provider.NewGoogleAdapter(googleConfig, googleTokens, archive),
		provider.NewMicrosoftAdapter(microsoftConfig, microsoftTokens, archive),
	)

	svc := calendar.NewService(registry, eventStore, tokens, sessionStore, calendar.Config{
		DefaultTimeZone:  cfg.DefaultTimeZone,
		SyncWindowPast:   cfg.SyncWindowPast,
		SyncWindowFuture: cfg.SyncWindowFuture,
		SyncTimeout:      cfg.SyncTimeout,
		WatchCallbackURL: cfg.WatchCallbackURL,
	})

	scheduler := calendar.NewScheduler(svc, func(ctx context.Context) ([]calendar.AccountRef, error) {
		accounts, err := eventStore.ListSyncAccounts(ctx)
		if err != nil {
			return nil, err
		}
		refs := make([]calendar.AccountRef, len(accounts))
		for i, a := range accounts {
			refs[i] = calendar.AccountRef{
				Provider:  domain.ProviderID(a.Provider),
				AccountID: a.AccountID,
			}
		}
		return refs, nil
	})

	deps := &Dependencies{
		Config:          cfg,
		DB:              db,
		Redis:           redisClient,
		MongoDB:         mongoClient,
		EventStore:      eventStore,
		SessionStore:    sessionStore,
		EventArchive:    archive,
		Tokens:          tokens,
		Registry:        registry,
		CalendarService: svc,
		Scheduler:       scheduler,
	}

	cleanup := func() {
		if mongoClient != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := mongoClient.Disconnect(ctx); err != nil {
				log.Warn().Err(err).Msg("MongoDB disconnect failed")
			}
			cancel()
		}
		if err := redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Redis close failed")
		}
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("Postgres close failed")
		}
	}

	return deps, cleanup, nil
}

package wire

import (
	"context"

	"github.com/Digital-Creators-Team/slot-progressives/config"
	"github.com/Digital-Creators-Team/slot-progressives/db/redis"
	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/events"
	"github.com/Digital-Creators-Team/slot-progressives/events/kafka"
	"github.com/Digital-Creators-Team/slot-progressives/game"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/Digital-Creators-Team/slot-progressives/persistence/redisstore"
	"github.com/Digital-Creators-Team/slot-progressives/pkg/progressive"
	"github.com/Digital-Creators-Team/slot-progressives/pkg/providers"
	"github.com/Digital-Creators-Team/slot-progressives/provider"
	"github.com/Digital-Creators-Team/slot-progressives/server"
	"github.com/coder/quartz"
	"github.com/google/wire"
	"github.com/rs/zerolog"
)

// Runtime is the assembled service: the HTTP app plus the background parts main starts and stops.
type Runtime struct {
	App       *server.App
	Game      *progressive.ProgressiveGameProvider
	Linked    *progressive.LinkedProgressiveProvider
	Consumer  *kafka.Consumer
	Forwarder *kafka.Forwarder
	Disabler  *provider.DisableProvider
	Logger    zerolog.Logger
}

// ProvideLogger provides a zerolog.Logger
func ProvideLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Logging)
}

// ProvideClock provides the wall clock
func ProvideClock() quartz.Clock {
	return quartz.NewReal()
}

// ProvideRedisClient provides a Redis client. It is nil when no address is configured.
func ProvideRedisClient(cfg *config.Config, logger zerolog.Logger) (*redis.Client, func(), error) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}, nil
	}
	client, err := redis.New(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close Redis client")
		}
	}, nil
}

// ProvideStorageBackend selects the persistence backend
func ProvideStorageBackend(cfg *config.Config, client *redis.Client) (persistence.Backend, error) {
	if cfg.Storage.Backend != config.StorageBackendRedis {
		return persistence.NewMemoryBackend(), nil
	}
	if client == nil {
		return nil, apperrors.New(apperrors.ErrConfigError, "redis storage backend needs redis.addr")
	}
	return redisstore.New(client, cfg.Storage.KeyPrefix), nil
}

// ProvideBus provides the in-process event bus
func ProvideBus(logger zerolog.Logger) *events.Bus {
	return events.NewBus(logger)
}

// ProvideManifest loads the game catalog. An unset path yields an empty catalog.
func ProvideManifest(cfg *config.Config) (*game.Manifest, error) {
	if cfg.Progressive.ManifestPath == "" {
		return &game.Manifest{}, nil
	}
	return game.LoadManifest(cfg.Progressive.ManifestPath)
}

// ProvideMysteryProvider provides the mystery trigger store
func ProvideMysteryProvider(ctx context.Context, storage persistence.Storage, logger zerolog.Logger) (*progressive.MysteryProvider, error) {
	return progressive.NewMysteryProvider(ctx, storage, logger)
}

// ProvideLevelProvider provides the level catalog loaded from the manifest
func ProvideLevelProvider(ctx context.Context, cfg *config.Config, storage persistence.Storage, manifest *game.Manifest, logger zerolog.Logger) (*progressive.LevelProvider, error) {
	levels, err := progressive.NewLevelProvider(ctx, storage, progressive.PoolCreationPolicy(cfg.Progressive.PoolCreationType), logger)
	if err != nil {
		return nil, err
	}
	if err := levels.LoadProgressiveLevels(ctx, manifest); err != nil {
		return nil, err
	}
	return levels, nil
}

// ProvideSapProvider provides the standalone pool provider
func ProvideSapProvider(ctx context.Context, storage persistence.Storage, bus *events.Bus, levels *progressive.LevelProvider, mystery *progressive.MysteryProvider, logger zerolog.Logger) (*progressive.SapProvider, func(), error) {
	sap, err := progressive.NewSapProvider(ctx, storage, bus, levels, mystery, logger)
	if err != nil {
		return nil, nil, err
	}
	return sap, sap.Dispose, nil
}

// ProvideSharedSapProvider provides the shared pool provider
func ProvideSharedSapProvider(ctx context.Context, storage persistence.Storage, bus *events.Bus, mystery *progressive.MysteryProvider, logger zerolog.Logger) (*progressive.SharedSapProvider, func(), error) {
	shared, err := progressive.NewSharedSapProvider(ctx, storage, bus, mystery, logger)
	if err != nil {
		return nil, nil, err
	}
	return shared, shared.Dispose, nil
}

// ProvideLinkedProvider provides the linked level provider
func ProvideLinkedProvider(ctx context.Context, cfg *config.Config, storage persistence.Storage, bus *events.Bus, clock quartz.Clock, logger zerolog.Logger) (*progressive.LinkedProgressiveProvider, func(), error) {
	linked, err := progressive.NewLinkedProgressiveProvider(ctx, storage, bus, clock, progressive.LinkedOptions{
		MonitorInterval: cfg.Progressive.MonitorInterval,
		ClaimTimeout:    cfg.Progressive.ClaimTimeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return linked, func() {
		linked.Stop()
		linked.Dispose()
	}, nil
}

// ProvideGameProvider provides the game-facing progressive provider
func ProvideGameProvider(ctx context.Context, deps progressive.GameProviderDeps, logger zerolog.Logger) (*progressive.ProgressiveGameProvider, func(), error) {
	g, err := progressive.NewProgressiveGameProvider(ctx, deps, logger)
	if err != nil {
		return nil, nil, err
	}
	return g, g.Dispose, nil
}

// ProvideConfigurationService provides the operator configuration service
func ProvideConfigurationService(storage persistence.Storage, bus *events.Bus, levels *progressive.LevelProvider, shared *progressive.SharedSapProvider, linked *progressive.LinkedProgressiveProvider, disabler providers.SystemDisabler, logger zerolog.Logger) (*progressive.ConfigurationService, func()) {
	c := progressive.NewConfigurationService(storage, bus, levels, shared, linked, disabler, logger)
	return c, c.Dispose
}

// ProvideDisableProvider provides the play disabler, mirrored to Redis when a client exists
func ProvideDisableProvider(cfg *config.Config, client *redis.Client, clock quartz.Clock, logger zerolog.Logger) *provider.DisableProvider {
	return provider.NewDisableProvider(client, cfg.Storage.KeyPrefix+":", clock, logger)
}

// ProvideBroadcaster provides the runtime notification hub
func ProvideBroadcaster() *server.Broadcaster {
	return server.NewBroadcaster(64)
}

// ProvideProducer provides the Kafka producer. It is nil when no broker is configured.
func ProvideProducer(cfg *config.Config, logger zerolog.Logger) (*kafka.Producer, func()) {
	p := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Logger:  logger,
	})
	if p == nil {
		return nil, func() {}
	}
	return p, func() {
		if err := p.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close Kafka producer")
		}
	}
}

// ProvideForwarder forwards bus events to the progressive events topic
func ProvideForwarder(cfg *config.Config, bus *events.Bus, producer *kafka.Producer, clock quartz.Clock, logger zerolog.Logger) (*kafka.Forwarder, func()) {
	var sender kafka.Sender
	if producer != nil {
		sender = producer
	}
	f := kafka.NewForwarder(bus, sender, cfg.Kafka.Topic(config.TopicProgressiveEvents), clock, logger)
	return f, func() { f.Close(bus) }
}

// ProvideConsumer provides the linked host consumer
func ProvideConsumer(cfg *config.Config, host kafka.LinkedHost, logger zerolog.Logger) (*kafka.Consumer, func()) {
	c := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Kafka.Topic(config.TopicLinkedHost),
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
		Logger:        logger,
	}, host)
	return c, func() {
		if err := c.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop Kafka consumer")
		}
	}
}

// ProvideServices groups the collaborators of the HTTP layer
func ProvideServices(
	game *progressive.ProgressiveGameProvider,
	configService *progressive.ConfigurationService,
	shared *progressive.SharedSapProvider,
	linked *progressive.LinkedProgressiveProvider,
	history *provider.HistoryProvider,
	disabler *provider.DisableProvider,
	runtime *server.RuntimeBridge,
) server.Services {
	return server.Services{
		Game:     game,
		Config:   configService,
		Shared:   shared,
		Linked:   linked,
		History:  history,
		Disabler: disabler,
		Runtime:  runtime,
	}
}

// ProvideServerOptions provides server options
func ProvideServerOptions(cfg *config.Config, logger zerolog.Logger, services server.Services) server.Options {
	return server.Options{
		Config:   cfg,
		Logger:   logger,
		Services: services,
	}
}

// ProvideApp provides the main application with its middlewares and routes
func ProvideApp(opts server.Options) *server.App {
	app := server.New(opts)
	app.UseCommonMiddlewares()
	app.RegisterHealthCheck()
	app.RegisterRoutes()
	return app
}

// ConfigSet is the wire provider set for configuration
var ConfigSet = wire.NewSet(
	config.Load,
)

// LoggingSet is the wire provider set for logging
var LoggingSet = wire.NewSet(
	ProvideLogger,
)

// RedisSet is the wire provider set for Redis
var RedisSet = wire.NewSet(
	ProvideRedisClient,
)

// StorageSet is the wire provider set for progressive persistence
var StorageSet = wire.NewSet(
	ProvideStorageBackend,
	persistence.NewStore,
	wire.Bind(new(persistence.Storage), new(*persistence.Store)),
)

// ProgressiveSet is the wire provider set for the progressive engine
var ProgressiveSet = wire.NewSet(
	ProvideClock,
	ProvideBus,
	ProvideManifest,
	ProvideMysteryProvider,
	ProvideLevelProvider,
	ProvideSapProvider,
	ProvideSharedSapProvider,
	ProvideLinkedProvider,
	ProvideGameProvider,
	ProvideConfigurationService,
	wire.Struct(new(progressive.GameProviderDeps), "*"),
	wire.Bind(new(providers.GameRuntime), new(*server.RuntimeBridge)),
	wire.Bind(new(providers.GameHistory), new(*provider.HistoryProvider)),
	wire.Bind(new(providers.SystemDisabler), new(*provider.DisableProvider)),
)

// ProviderSet is the wire provider set for external collaborators
var ProviderSet = wire.NewSet(
	provider.NewHistoryProvider,
	ProvideDisableProvider,
)

// KafkaSet is the wire provider set for Kafka
var KafkaSet = wire.NewSet(
	ProvideProducer,
	ProvideForwarder,
	ProvideConsumer,
	wire.Bind(new(kafka.LinkedHost), new(*progressive.LinkedProgressiveProvider)),
)

// ServerSet is the wire provider set for server
var ServerSet = wire.NewSet(
	ProvideBroadcaster,
	server.NewRuntimeBridge,
	ProvideServices,
	ProvideServerOptions,
	ProvideApp,
)

// FullSet includes every provider the service needs
var FullSet = wire.NewSet(
	LoggingSet,
	RedisSet,
	StorageSet,
	ProgressiveSet,
	ProviderSet,
	KafkaSet,
	ServerSet,
	wire.Struct(new(Runtime), "*"),
)

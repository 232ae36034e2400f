package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"wafleet/internal/app/config"
	"wafleet/internal/batch"
	"wafleet/internal/dispatch"
	"wafleet/internal/domain/session"
	"wafleet/internal/domain/whatsapp"
	"wafleet/internal/fleet"
	infra "wafleet/internal/infra/whatsapp"
	"wafleet/internal/notify"
	"wafleet/internal/plugin"
	"wafleet/internal/storage"
	"wafleet/internal/storage/authstore"
	"wafleet/internal/storage/prefix"
	"wafleet/internal/storage/repository"
)

// authBlobCollection is the document collection used in mongodb mode
const authBlobCollection = "auth_blobs"

// activityRelay forwards activity signals to the health monitor. The
// monitor is built after the dispatcher, so the relay breaks the
// construction cycle.
type activityRelay struct {
	target dispatch.ActivitySink
}

func (a *activityRelay) RecordActivity(sessionID string) {
	if a.target != nil {
		a.target.RecordActivity(sessionID)
	}
}

// Container holds all application dependencies
type Container struct {
	config     *config.Config
	instanceID string
	db         *storage.Database

	// Storage
	auth        authstore.Store
	mongo       *authstore.MongoStore
	sessionRepo session.Repository
	archive     *repository.MessageArchive
	prefixes    *prefix.Cache

	// Ingress
	registry   *plugin.Registry
	dispatcher *dispatch.Dispatcher
	relay      *activityRelay

	// WhatsApp
	devices *infra.DeviceStore
	factory whatsapp.SocketFactory

	// Fleet
	state       *fleet.State
	manager     *fleet.Manager
	reconnector *fleet.Reconnector
	health      *fleet.HealthMonitor
	detector    *fleet.WebDetector
	notifier    notify.Notifier

	// Batch
	follower    *batch.ChannelFollower
	broadcaster *batch.Broadcaster
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	container := &Container{
		config:     cfg,
		instanceID: uuid.NewString(),
	}

	if err := container.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := container.initializeAuthStore(); err != nil {
		return nil, fmt.Errorf("failed to initialize auth store: %w", err)
	}

	if err := container.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	container.initializeIngress()

	if err := container.initializeWhatsApp(); err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp: %w", err)
	}

	container.initializeFleet()

	log.Info().Str("instance_id", container.instanceID).Msg("Application container initialized successfully")
	return container, nil
}

// initializeDatabase sets up the database connection and runs migrations
func (c *Container) initializeDatabase() error {
	db, err := storage.New(c.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	c.db = db
	log.Info().Str("driver", c.config.Database.Driver).Msg("Database initialized successfully")
	return nil
}

// initializeAuthStore selects the credential blob backend
func (c *Container) initializeAuthStore() error {
	switch c.config.Fleet.StorageMode {
	case config.StorageModeMongoDB:
		mongo, err := authstore.NewMongoStore(
			context.Background(),
			c.config.Mongo.URI,
			c.config.Mongo.Database,
			authBlobCollection,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		c.mongo = mongo
		c.auth = mongo

	default:
		fileStore, err := authstore.NewFileStore(c.config.Fleet.SessionsDir)
		if err != nil {
			return fmt.Errorf("failed to create file auth store: %w", err)
		}
		c.auth = fileStore
	}

	log.Info().Str("mode", string(c.config.Fleet.StorageMode)).Msg("Auth store initialized successfully")
	return nil
}

// initializeRepositories sets up repositories and caches backed by them
func (c *Container) initializeRepositories() error {
	c.sessionRepo = repository.NewSessionRepository(c.db.DB)

	archive, err := repository.NewMessageArchive(context.Background(), c.db.DB)
	if err != nil {
		return fmt.Errorf("failed to create message archive: %w", err)
	}
	c.archive = archive

	c.prefixes = prefix.New(c.sessionRepo)
	if err := c.prefixes.Load(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to preload command prefixes")
	}

	log.Info().Msg("Repositories initialized successfully")
	return nil
}

// initializeIngress sets up the plugin registry and the message
// dispatch pipeline
func (c *Container) initializeIngress() {
	c.registry = plugin.NewRegistry()
	c.registry.Register(plugin.PingPlugin{}, "p")
	c.registry.RegisterAnti(plugin.AntiDeletePlugin{})
	c.registry.RegisterAnti(plugin.AntiViewOncePlugin{})

	c.relay = &activityRelay{}
	groups := dispatch.NewGroupMetaCache()
	processor := dispatch.NewProcessor(
		dispatch.NewDedup(dispatch.DefaultDedupTTL),
		c.prefixes,
		c.registry,
		groups,
		c.archive,
		c.relay,
		c.config.Fleet.MessageTSOffset,
	)
	c.dispatcher = dispatch.NewDispatcher(processor, c.auth, groups, c.relay)

	log.Info().Msg("Message ingress initialized successfully")
}

// initializeWhatsApp sets up the device store and socket factory
func (c *Container) initializeWhatsApp() error {
	dialect := "sqlite3"
	if c.config.Database.Driver == "postgres" {
		dialect = "postgres"
	}

	devices, err := infra.NewDeviceStore(context.Background(), c.db.DB.DB, dialect, c.auth)
	if err != nil {
		return fmt.Errorf("failed to create device store: %w", err)
	}
	c.devices = devices
	c.factory = infra.NewFactory(devices)

	log.Info().Msg("WhatsApp initialized successfully")
	return nil
}

// initializeFleet builds the fleet controllers and cross-wires them
func (c *Container) initializeFleet() {
	cfg := c.config

	if cfg.Telegram.BotToken != "" {
		c.notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.Timeout)
	} else {
		c.notifier = notify.NopNotifier{}
	}

	c.state = fleet.NewState()
	c.manager = fleet.NewManager(cfg.Fleet, c.sessionRepo, c.auth, c.factory, c.dispatcher, c.state)
	c.reconnector = fleet.NewReconnector(c.manager, c.state, c.notifier, cfg.Fleet.Enable515Flow)
	c.health = fleet.NewHealthMonitor(
		c.manager,
		c.prefixes,
		cfg.Fleet.HealthSweepEvery,
		cfg.Fleet.HealthProbeEvery,
		cfg.Fleet.InactivityLimit,
		cfg.Fleet.PingTimeout,
	)
	c.detector = fleet.NewWebDetector(c.manager, c.sessionRepo, c.state, cfg.Fleet.WebDetectEvery)

	c.manager.SetReconnector(c.reconnector)
	c.manager.SetHealth(c.health)
	c.manager.SetPurger(c.archive)
	c.manager.SetDeviceWiper(c.devices)
	c.relay.target = c.health

	c.registry.Register(plugin.StatusPlugin{Provider: c.manager}, "fleet")

	c.follower = batch.NewChannelFollower(cfg.Fleet.ChannelJID, batch.DefaultFollowTimings())
	c.broadcaster = batch.NewBroadcaster(
		cfg.Fleet.AnnouncementFile,
		batch.DefaultBroadcastTimings(),
		c.manager,
		true,
	)

	c.dispatcher.OnConnection(c.reconnector.HandleConnectionUpdate)
	c.dispatcher.OnOpen(c.follower.Enqueue)

	log.Info().Msg("Fleet controllers initialized successfully")
}

// StartBackground launches every long-running fleet loop
func (c *Container) StartBackground(ctx context.Context) {
	c.prefixes.StartRefresh(ctx, c.config.Fleet.PrefixRefreshEvery)
	c.manager.StartMaintenance(ctx)
	c.health.Start(ctx)
	c.detector.Start(ctx)
	c.follower.Start(ctx)
	c.broadcaster.Start(ctx)
}

// Close closes all resources
func (c *Container) Close() error {
	if c.mongo != nil {
		if err := c.mongo.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to close mongodb connection")
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database connection")
			return err
		}
	}

	log.Info().Msg("Application container closed successfully")
	return nil
}

// Getters for dependencies

func (c *Container) Config() *config.Config {
	return c.config
}

func (c *Container) InstanceID() string {
	return c.instanceID
}

func (c *Container) Database() *storage.Database {
	return c.db
}

func (c *Container) SessionRepository() session.Repository {
	return c.sessionRepo
}

func (c *Container) Manager() *fleet.Manager {
	return c.manager
}

func (c *Container) HealthMonitor() *fleet.HealthMonitor {
	return c.health
}

func (c *Container) WebDetector() *fleet.WebDetector {
	return c.detector
}

func (c *Container) Broadcaster() *batch.Broadcaster {
	return c.broadcaster
}

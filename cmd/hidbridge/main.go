// HID Climate Bridge
//
// This is the main entry point of the bridge. It links HID climate
// controllers announced over MQTT to climate entities of a home-automation
// platform:
//   - Snapshots of the climate entity are pushed to every linked controller
//   - Commands sent by a controller are executed against the climate entity
//   - Controllers that have not announced themselves yet are registered once
//     their discovery message arrives
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/hid-climate-bridge/migrations"

	"github.com/nerrad567/hid-climate-bridge/internal/api"
	"github.com/nerrad567/hid-climate-bridge/internal/bridges/hid"
	"github.com/nerrad567/hid-climate-bridge/internal/climate"
	"github.com/nerrad567/hid-climate-bridge/internal/device"
	"github.com/nerrad567/hid-climate-bridge/internal/entry"
	"github.com/nerrad567/hid-climate-bridge/internal/flow"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/config"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/database"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/hid-climate-bridge/internal/metrics"
	"github.com/nerrad567/hid-climate-bridge/internal/platform"
	"github.com/nerrad567/hid-climate-bridge/internal/throttle"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,funlen // Linear startup sequence
	log := logging.Default()
	log.Info("starting HID climate bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	entries := entry.NewSQLiteRepository(db.DB)

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	m.SetConnected(mqttClient.IsConnected())
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		m.SetConnected(true)
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
		m.SetConnected(false)
	})

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	topics := mqtt.NewTopics(cfg)
	mux := mqtt.NewMux(mqttClient, mqttClient.QoS(), log)

	plat := platform.New(platform.Options{Transport: mux, Topics: topics, Logger: log})
	if startErr := plat.Start(); startErr != nil {
		return fmt.Errorf("starting platform: %w", startErr)
	}
	defer plat.Stop()
	commands := climate.NewCommands(climate.NewService(plat))

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// The coordinator consults the flow manager's discovery cache, and the
	// flow manager drives the coordinator; flowManager is set before any
	// entry is set up.
	var flowManager *flow.Manager
	var coordinator *hid.Coordinator

	observers := []hid.SnapshotObserver{hub.SnapshotObserver()}
	var telemetry hid.Telemetry
	if influxClient != nil {
		telemetry = influxClient
		observers = append(observers, snapshotRecorder(influxClient, func(id string) []string {
			if b, ok := coordinator.Bridge(id); ok {
				return b.Controllers()
			}
			return nil
		}))
	}

	coordinator = hid.NewCoordinator(hid.CoordinatorOptions{
		Transport: mux,
		Stream:    plat,
		Topics:    topics,
		Entries:   entries,
		Devices:   deviceRegistry,
		Discovery: hid.DiscoveryCacheFunc(func(uniqueID string) (*hid.DiscoveryPayload, bool) {
			return flowManager.Discovered(uniqueID)
		}),
		Throttle:     throttle.New(cfg.ThrottleCooldown()),
		SuppressEcho: cfg.Controller.SuppressEcho,
		Observers:    observers,
		OnEntryUpdated: func(e *entry.Entry) {
			hub.Broadcast(api.ChannelEntryUpdated, e)
		},
		Logger:    log,
		Metrics:   m,
		Telemetry: telemetry,
	})
	coordinator.Init(commands)

	flowManager = flow.New(flow.Options{
		Entries:      entries,
		Devices:      deviceRegistry,
		Lifecycle:    coordinator,
		States:       plat,
		Transport:    mux,
		Topics:       topics,
		DiscoveryTTL: cfg.DiscoveryCacheTTL(),
		OnDiscovered: hub.BroadcastDiscovered,
		Logger:       log,
	})
	if startErr := flowManager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting config flow: %w", startErr)
	}

	loaded, err := flowManager.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading entries: %w", err)
	}
	log.Info("config entries set up", "loaded", loaded, "pending", coordinator.PendingCount())

	// Entries are unloaded before the MQTT connection goes away.
	defer func() {
		log.Info("unloading config entries")
		flowManager.Stop()
		if unloadErr := flowManager.UnloadAll(context.Background()); unloadErr != nil {
			log.Error("error unloading entries", "error", unloadErr)
		}
		coordinator.Shutdown()
	}()

	health := hid.NewHealthReporter(hid.HealthReporterConfig{
		BridgeID:  cfg.Bridge.ID,
		Version:   version,
		Interval:  cfg.HealthInterval(),
		Publisher: mqttClient,
		Topology:  coordinator,
		Topics:    topics,
		Logger:    log,
	})
	if pubErr := health.PublishStarting(); pubErr != nil {
		log.Warn("publishing starting health failed", "error", pubErr)
	}
	health.Start(ctx)
	defer health.Stop()

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Flow:     flowManager,
			Entries:  entries,
			Topology: coordinator,
			Devices:  deviceRegistry,
			MQTT:     mqttClient,
			DB:       db,
			Metrics:  m.Handler(),
			Hub:      hub,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, health reporter,
	// entries and coordinator, platform, InfluxDB, MQTT, database.
	log.Info("HID climate bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HIDBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HIDBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

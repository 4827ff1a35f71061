// Gray Logic IoT - device registry and temperature aggregation service.
//
// This is the main entry point. It wires the device worker hierarchy to
// SQLite (catalogue and query log), the MQTT sensor bridge, the REST/WebSocket
// API and the optional InfluxDB and Kafka sinks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	_ "github.com/nerrad567/gray-logic-iot/migrations"

	"github.com/nerrad567/gray-logic-iot/internal/api"
	"github.com/nerrad567/gray-logic-iot/internal/bridges/sensor"
	"github.com/nerrad567/gray-logic-iot/internal/device"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/kafka"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// pruneInterval is how often old query log rows are deleted.
	pruneInterval = time.Hour

	// shutdownTimeout bounds Kafka draining on exit.
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic IoT",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site_id", cfg.Site.ID,
		"level", cfg.Logging.Level,
	)

	// Database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	// Device hierarchy
	managerCfg := device.ManagerConfig{
		DefaultTimeout: cfg.Query.DefaultTimeout,
		MaxTimeout:     cfg.Query.MaxTimeout,
	}
	hierarchy := device.NewHierarchy(managerCfg, log.Component("device"))
	defer func() {
		log.Info("stopping device hierarchy")
		hierarchy.Stop()
	}()

	queryLog := device.NewSQLiteQueryLogRepository(db.DB)
	service := device.NewService(hierarchy)
	service.SetLogger(log.Component("device"))
	service.SetCatalog(device.NewSQLiteCatalogRepository(db.DB))
	service.SetQueryLog(queryLog)

	// Publishers must be registered before any traffic reaches the service.
	checks := map[string]api.HealthChecker{"database": db}

	influxClient, err := connectInfluxDB(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		service.SetMetrics(influxClient)
		checks["influxdb"] = influxClient
	}

	kafkaPublisher, err := startKafka(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	if kafkaPublisher != nil {
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := kafkaPublisher.Stop(stopCtx); stopErr != nil {
				log.Error("error stopping Kafka publisher", "error", stopErr)
			}
			delivered, failed, dropped := kafkaPublisher.Stats()
			log.Info("Kafka publisher stopped", "delivered", delivered, "failed", failed, "dropped", dropped)
		}()
		service.AddPublisher(kafkaEvents{publisher: kafkaPublisher, log: log})
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	service.AddPublisher(hub)

	restored, err := service.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring device catalog: %w", err)
	}
	log.Info("device service ready", "restored_devices", restored)

	// MQTT and the sensor bridge
	var mqttClient *mqtt.Client
	var bridge *sensor.Bridge
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker.ClientID == "" {
			cfg.MQTT.Broker.ClientID = "grayiot-" + uuid.NewString()[:8]
		}
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		if cfg.Sensor.Enabled {
			bridge, err = startSensorBridge(ctx, cfg, mqttClient, service, log)
			if err != nil {
				return err
			}
			defer func() {
				log.Info("stopping sensor bridge")
				bridge.Stop()
			}()
		}
	} else {
		log.Info("MQTT disabled")
	}

	// API
	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.Component("api"),
		Devices: service,
		Hub:     hub,
		Version: version,
		Checks:  checks,
		DB:      db,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if bridge != nil {
		deps.Bridge = bridge
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if cfg.Database.QueryLogRetention > 0 {
		go pruneQueryLog(ctx, queryLog, cfg.Database.QueryLogRetention, log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order: API, sensor bridge, MQTT,
	// Kafka, InfluxDB, device manager, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYIOT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYIOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck runs every component check and returns the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// connectInfluxDB returns nil when InfluxDB is disabled.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// startKafka returns nil when Kafka is disabled.
func startKafka(ctx context.Context, cfg config.KafkaConfig, log *logging.Logger) (*kafka.Publisher, error) {
	publisher, err := kafka.New(cfg)
	if errors.Is(err, kafka.ErrDisabled) {
		log.Info("Kafka disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating Kafka publisher: %w", err)
	}
	publisher.SetLogger(log.Component("kafka"))
	publisher.Start(ctx)
	log.Info("Kafka publisher started", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return publisher, nil
}

// startSensorBridge creates the bridge, registers it as an event publisher
// when configured, and subscribes it.
func startSensorBridge(ctx context.Context, cfg *config.Config, client *mqtt.Client, service *device.Service, log *logging.Logger) (*sensor.Bridge, error) {
	bridge, err := sensor.New(sensor.Options{
		MQTT:           client,
		Service:        service,
		Logger:         log.Component("sensor"),
		Version:        version,
		QoS:            byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		HealthInterval: cfg.Sensor.HealthInterval,
		PublishEvents:  cfg.Sensor.PublishEvents,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sensor bridge: %w", err)
	}
	if cfg.Sensor.PublishEvents {
		service.AddPublisher(bridge)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting sensor bridge: %w", err)
	}
	log.Info("sensor bridge started", "publish_events", cfg.Sensor.PublishEvents)
	return bridge, nil
}

// pruneQueryLog deletes query log rows older than retention, once at
// start and then every pruneInterval, until ctx is cancelled.
func pruneQueryLog(ctx context.Context, repo *device.SQLiteQueryLogRepository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		deleted, err := repo.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("query log prune failed", "error", err)
		case deleted > 0:
			log.Info("query log pruned", "deleted", deleted, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// kafkaEvents adapts the Kafka publisher to device.EventPublisher. Events
// are keyed by group so each group's events stay ordered on one partition.
type kafkaEvents struct {
	publisher *kafka.Publisher
	log       *logging.Logger
}

// Publish implements device.EventPublisher.
func (k kafkaEvents) Publish(_ context.Context, event device.Event) {
	if err := k.publisher.Publish(event.GroupID, event); err != nil {
		k.log.Warn("device event not queued for Kafka",
			"type", event.Type,
			"group_id", event.GroupID,
			"error", err,
		)
	}
}

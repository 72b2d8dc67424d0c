// Ostiary Core - Parcel Locker Occupation Engine
//
// This is the main entry point for the Ostiary Core application.
// Ostiary runs the door occupation and release engine for a residential
// smart parcel locker site:
//   - Door state machine with per-recipient pickup credentials
//   - Direct and queued hardware dispatch to door controllers
//   - Asynchronous sensor reconciliation over MQTT and HTTP
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/ostiary-io/ostiary-core/migrations"

	"github.com/ostiary-io/ostiary-core/internal/api"
	"github.com/ostiary-io/ostiary-core/internal/audit"
	"github.com/ostiary-io/ostiary-core/internal/auth"
	"github.com/ostiary-io/ostiary-core/internal/cabinet"
	"github.com/ostiary-io/ostiary-core/internal/door"
	"github.com/ostiary-io/ostiary-core/internal/hardware"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/config"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/database"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/influxdb"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/logging"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/mqtt"
	"github.com/ostiary-io/ostiary-core/internal/occupancy"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo,maintidx // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Ostiary Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories and registries
	cabinetRepo := cabinet.NewSQLiteRepository(db.DB)
	siteID, err := ensureSite(ctx, cabinetRepo, cfg, log)
	if err != nil {
		return fmt.Errorf("initialising site: %w", err)
	}

	doorRegistry := door.NewRegistry(door.NewSQLiteRepository(db.DB))
	doorRegistry.SetLogger(log)
	if refreshErr := doorRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading door registry: %w", refreshErr)
	}
	log.Info("door registry initialised", "doors", len(doorRegistry.List()))

	userRepo := auth.NewUserRepository(db.DB)
	tokenRepo := auth.NewTokenRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Seed the initial admin account on an empty user table
	if _, seedErr := auth.SeedAdmin(ctx, userRepo, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	// Connect to MQTT broker
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional, for the external reporting system)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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

	// Hardware dispatch pipeline
	tokenIssuer := hardware.NewTokenIssuer(
		cfg.Hardware.SharedSecret,
		cfg.Hardware.TokenMode,
		cfg.Hardware.GetTokenTTL(),
	)
	commandQueue := hardware.NewQueue(db.DB)
	dispatcher := hardware.NewDispatcher(
		commandQueue,
		tokenIssuer,
		cfg.Hardware.DefaultPulseMs,
		cfg.Hardware.GetDirectTimeout(),
		log,
	)
	if influxClient != nil {
		dispatcher.SetMetrics(influxClient)
	}
	log.Info("hardware dispatcher initialised",
		"token_mode", tokenIssuer.Mode(),
		"default_pulse_ms", cfg.Hardware.DefaultPulseMs,
	)

	// Occupation engine
	engine := occupancy.NewEngine(doorRegistry, dispatcher, commandQueue, cfg.Credentials.GetTTL())
	engine.SetLogger(log)
	if influxClient != nil {
		engine.SetMetrics(influxClient)
	}

	// Expired credential sweep
	go engine.RunSweeper(ctx, cfg.Credentials.GetSweepInterval())

	// API server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		SiteID:      siteID,
		Logger:      log,
		Doors:       doorRegistry,
		Engine:      engine,
		Queue:       commandQueue,
		Tokens:      tokenIssuer,
		CabinetRepo: cabinetRepo,
		UserRepo:    userRepo,
		TokenRepo:   tokenRepo,
		AuditRepo:   auditRepo,
		MQTT:        mqttClient,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Fan door state changes out to WebSocket clients and the bus
	engine.SetEvents(api.NewPublisher(server.Hub(), mqttClient, log))

	// Controller telemetry reconciliation
	reconciler := occupancy.NewReconciler(engine, mqttClient)
	reconciler.SetLogger(log)
	if startErr := reconciler.Start(); startErr != nil {
		return fmt.Errorf("starting reconciler: %w", startErr)
	}
	log.Info("controller telemetry reconciler started")

	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Announce presence on the bus; the broker holds the retained status
	// for dashboards that connect later
	topics := mqtt.Topics{}
	if pubErr := mqttClient.PublishRetained(topics.SystemStatus(), []byte("online")); pubErr != nil {
		log.Warn("failed to publish system status", "error", pubErr)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	if pubErr := mqttClient.PublishRetained(topics.SystemStatus(), []byte("offline")); pubErr != nil {
		log.Warn("failed to publish offline status", "error", pubErr)
	}

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("Ostiary Core stopped")
	return nil
}

// ensureSite creates the site record from configuration on first boot and
// returns its ID. An existing site wins over config; site identity must
// not silently change between restarts.
func ensureSite(ctx context.Context, repo cabinet.Repository, cfg *config.Config, log *logging.Logger) (string, error) {
	site, err := repo.GetAnySite(ctx)
	if err == nil {
		return site.ID, nil
	}
	if !errors.Is(err, cabinet.ErrSiteNotFound) {
		return "", fmt.Errorf("loading site: %w", err)
	}

	site = &cabinet.Site{
		ID:       cfg.Site.ID,
		Name:     cfg.Site.Name,
		Timezone: cfg.Site.Timezone,
	}
	if createErr := repo.CreateSite(ctx, site); createErr != nil {
		return "", createErr
	}

	log.Info("site created", "site_id", site.ID, "name", site.Name)
	return site.ID, nil
}

// getConfigPath returns the configuration file path.
// Uses OSTIARY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("OSTIARY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
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

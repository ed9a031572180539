// climatesync keeps a local mirror of a climate cloud installation.
//
// It logs in to the cloud account, discovers the selected installation,
// keeps device state current through the push channel with polling as a
// fallback, and republishes that state over HTTP, WebSocket, MQTT and
// InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/gray-logic-climate/internal/api"
	"github.com/nerrad567/gray-logic-climate/internal/audit"
	"github.com/nerrad567/gray-logic-climate/internal/auth"
	"github.com/nerrad567/gray-logic-climate/internal/bridge"
	"github.com/nerrad567/gray-logic-climate/internal/climate"
	"github.com/nerrad567/gray-logic-climate/internal/cloudapi"
	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-climate/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-climate/internal/orchestrator"
	"github.com/nerrad567/gray-logic-climate/internal/scheduler"
	"github.com/nerrad567/gray-logic-climate/internal/session"
	"github.com/nerrad567/gray-logic-climate/migrations"
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
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		if err := hashKey(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

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
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting climatesync",
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
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Database holds the cloud session only.
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
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	auditLog := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), log.Component("audit"))

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := orchestrator.NewMetrics(registry)

	// Cloud
	client := cloudapi.New(cloudapi.Options{
		BaseURL:  cfg.Cloud.BaseURL,
		Timeout:  cfg.GetCloudTimeout(),
		Logger:   log.Component("cloudapi"),
		Observer: metrics,
	})
	orch := orchestrator.New(client, orchestrator.Options{
		Email:                 cfg.Cloud.Email,
		Password:              cfg.Cloud.Password,
		MaxConcurrentRequests: cfg.Cloud.MaxConcurrentRequests,
		RequestsLimit:         cfg.Cloud.RequestsLimit,
		DeviceConfig:          cfg.Cloud.DeviceConfig,
		WebSockets:            cfg.Cloud.WebSockets,
		WebSocketURL:          cfg.Cloud.WebSocketURL,
		TokenRefreshPeriod:    cfg.GetTokenRefreshPeriod(),
		PushWait:              cfg.GetPushWait(),
		AliveWindow:           cfg.GetAliveWindow(),
		Logger:                log.Component("orchestrator"),
		Metrics:               metrics,
		Store:                 session.NewStore(db, cfg.Cloud.Email),
	})
	defer func() {
		log.Info("disconnecting push channels")
		orch.Close()
	}()
	orch.Subscribe(metrics.ObserveEntity)

	inst, err := startSession(ctx, orch, cfg.Cloud.InstallationID, log)
	if err != nil {
		return err
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
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
		mqttClient.SetLogger(log)
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		stateBridge, bridgeErr := bridge.New(bridge.Options{
			Client:     mqttClient,
			Controller: orch,
			Topics:     mqttClient.Topics(),
			QoS:        byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2 by config
			Logger:     log.Component("bridge"),
			Recorder:   auditLog,
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		// Retained state is lost with a broker restart.
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing state")
			stateBridge.ClearCache()
			stateBridge.PublishAll()
		})
		orch.Subscribe(stateBridge.Publish)
		if startErr := stateBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer stateBridge.Stop()
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		orch.Subscribe(func(e climate.Entity) {
			if s, ok := climateSample(e); ok {
				influxClient.WriteClimateMetric(s)
			}
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Scheduler
	schedOpts := scheduler.Options{
		UpdateInterval: cfg.GetUpdateInterval(),
		Logger:         log.Component("scheduler"),
	}
	if retention := cfg.GetAuditRetention(); retention > 0 {
		schedOpts.Housekeeping = func(ctx context.Context) error {
			n, pruneErr := auditLog.Prune(ctx, retention)
			if pruneErr == nil && n > 0 {
				log.Info("pruned audit log", "removed", n, "retention", retention)
			}
			return pruneErr
		}
	}
	sched, err := scheduler.New(orch, schedOpts)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.Component("api"),
			Controller: orch,
			Update:     sched.RunNow,
			Gatherer:   registry,
			Audit:      auditLog,
			Version:    version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		if cfg.API.Auth.KeyHash != "" {
			keys, keyErr := auth.NewVerifier(cfg.API.Auth.KeyHash)
			if keyErr != nil {
				return fmt.Errorf("api.auth.key_hash: %w", keyErr)
			}
			deps.Keys = keys
		} else {
			log.Warn("API key not configured, command routes are open")
		}
		srv, srvErr := api.New(deps)
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		orch.Subscribe(srv.Publish)
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if err := sched.RunNow(ctx); err != nil {
		// Not fatal: the next scheduled cycle retries.
		log.Warn("initial update failed", "error", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	log.Info("initialisation complete",
		"installation", inst.ID(),
		"devices", len(orch.Devices()),
		"update_interval", cfg.GetUpdateInterval(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// startSession restores or creates the cloud session, selects the
// installation and discovers its devices.
func startSession(ctx context.Context, orch *orchestrator.Orchestrator, installationID string, log *logging.Logger) (*climate.Installation, error) {
	restored, err := orch.RestoreSession(ctx)
	if err != nil {
		log.Warn("ignoring stored session", "error", err)
	}
	if !restored {
		if err := orch.Login(ctx); err != nil {
			return nil, fmt.Errorf("logging in: %w", err)
		}
		log.Info("logged in to cloud")
	}

	inst, err := orch.SelectInstallationByID(ctx, installationID)
	if err != nil && restored && cloudapi.IsAuthFailure(err) {
		// The stored token may have been revoked server side.
		if loginErr := orch.Login(ctx); loginErr != nil {
			return nil, fmt.Errorf("logging in: %w", loginErr)
		}
		inst, err = orch.SelectInstallationByID(ctx, installationID)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting installation: %w", err)
	}

	if err := orch.UpdateInstallation(ctx, inst); err != nil {
		return nil, fmt.Errorf("discovering installation %s: %w", inst.ID(), err)
	}
	log.Info("installation selected",
		"installation", inst.ID(),
		"name", inst.Name(),
		"devices", len(inst.Devices()),
		"groups", len(inst.Groups()),
	)
	return inst, nil
}

// hashKey generates an API key and writes it with its hash for
// api.auth.key_hash.
func hashKey(w io.Writer) error {
	key, err := auth.GenerateKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "key:      %s\nkey_hash: %s\n", key, hash)
	return err
}

// getConfigPath returns the configuration file path.
// Uses CLIMATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CLIMATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db == nil {
		return errors.New("database: not open")
	}
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// climateSample extracts the telemetry fields of a device. Entities
// without temperature, humidity, setpoint or power readings are skipped.
func climateSample(e climate.Entity) (influxdb.ClimateSample, bool) {
	switch d := e.(type) {
	case climate.Climatic:
		st := d.HVACState()
		s := influxdb.ClimateSample{
			DeviceID:       d.ID(),
			InstallationID: d.InstallationID(),
			Kind:           d.Kind().String(),
			Temperature:    st.Temperature(),
			Humidity:       st.Humidity,
			Setpoint:       st.TempSet(),
			Power:          st.Power,
			Time:           d.LastApplied(),
		}
		if st.Mode != nil {
			m := int(*st.Mode)
			s.Mode = &m
		}
		return s, true
	case *climate.HotWater:
		st := d.State()
		s := influxdb.ClimateSample{
			DeviceID:       d.ID(),
			InstallationID: d.InstallationID(),
			Kind:           d.Kind().String(),
			Temperature:    st.Temp,
			Power:          st.Power,
			Time:           d.LastApplied(),
		}
		if st.TempSet != nil {
			v := float64(*st.TempSet)
			s.Setpoint = &v
		}
		return s, true
	}
	return influxdb.ClimateSample{}, false
}

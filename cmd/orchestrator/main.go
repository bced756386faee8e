// Command orchestrator runs the test-orchestrator HTTP control surface:
// it loads every configured instrument, wires a driver.Registry and
// pool.Pool from them, and serves session lifecycle endpoints backed by
// storage.Repository and session.Registry (spec.md §6).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mfgtest/orchestrator/internal/aliasing"
	"github.com/mfgtest/orchestrator/internal/api"
	"github.com/mfgtest/orchestrator/internal/api/middleware"
	"github.com/mfgtest/orchestrator/internal/canonicalization"
	"github.com/mfgtest/orchestrator/internal/config"
	"github.com/mfgtest/orchestrator/internal/dispatch"
	"github.com/mfgtest/orchestrator/internal/driver"
	"github.com/mfgtest/orchestrator/internal/pool"
	"github.com/mfgtest/orchestrator/internal/report"
	"github.com/mfgtest/orchestrator/internal/session"
	"github.com/mfgtest/orchestrator/internal/storage"
	"github.com/mfgtest/orchestrator/internal/telemetry"
	"github.com/mfgtest/orchestrator/internal/transport"
)

const (
	repositoryRetryAttempts = 3
	// repositoryRetryBackoff is the base delay before the first retry;
	// each subsequent attempt doubles it (storage.WithRetry).
	repositoryRetryBackoff = 500 * time.Millisecond
	dispatchDefaultTimeout = 30 * time.Second
)

func main() {
	serverCfg := api.LoadServerConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: serverCfg.LogLevel}))

	dbCfg := storage.LoadConfig()
	if err := dbCfg.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbCfg)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	aliasCfg, err := aliasing.LoadConfigFromEnv()
	if err != nil {
		logger.Warn("failed to load field-alias config, continuing without aliases", slog.String("error", err.Error()))
	}

	resolver := aliasing.NewResolver(aliasCfg)

	var repo storage.Repository = storage.NewPostgresRepository(conn, logger, storage.WithFieldResolver(resolver))
	repo = storage.WithRetry(repo, repositoryRetryAttempts, repositoryRetryBackoff, logger)

	baseCtx := context.Background()

	instruments, err := repo.ListInstruments(baseCtx)
	if err != nil {
		logger.Error("failed to load instrument configs", slog.String("error", err.Error()))
		os.Exit(1)
	}

	driverRegistry, leases := buildInstruments(logger, instruments)

	instrumentPool := pool.New(leaseFactory(leases), logger)

	dispatcher := dispatch.New(driverRegistry, instrumentPool, dispatchDefaultTimeout, nil, nil)

	reportWriter := report.New(serverCfg.ReportRoot, logger)

	telemetryLogger := telemetry.NewLogger(logger, telemetryOptions(logger)...)

	sessionRegistry := session.NewRegistry(baseCtx, repo, dispatcher, reportWriter, telemetryLogger)

	// Client-key authentication is opt-in (SPEC_FULL.md §6 documents
	// ClientAuth as optional in the middleware chain): a nil apiKeyStore
	// disables middleware.WithAuthClient entirely, so the control surface
	// works out of the box. Operators that need it set
	// ORCHESTRATOR_AUTH_ENABLED=true and provision api_keys rows.
	var apiKeyStore storage.APIKeyStore

	if config.GetEnvBool("ORCHESTRATOR_AUTH_ENABLED", false) {
		apiKeyStore, err = storage.NewPersistentKeyStore(conn)
		if err != nil {
			logger.Error("failed to initialize API key store", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())
	defer rateLimiter.Close()

	server := api.NewServer(serverCfg, apiKeyStore, rateLimiter, repo, sessionRegistry)

	if err := server.Start(); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// instrumentLease pairs the transport/driver built for one instrument with
// a simulated flag set from the config's Enabled field (true when the
// instrument is disabled), so the pool.Factory closure below
// can hand the same instances back on every Get instead of rebuilding them.
type instrumentLease struct {
	transport transport.Transport
	driver    driver.Driver
	simulated bool
}

// buildInstruments constructs a (transport, driver) pair for every
// configured instrument, registers each driver for dispatch's schema
// lookups, and returns the built instances keyed by instrument ID for the
// pool.Factory to reuse.
func buildInstruments(
	logger *slog.Logger,
	instruments []storage.InstrumentConfig,
) (*driver.Registry, map[string]instrumentLease) {
	registry := driver.NewRegistry()
	leases := make(map[string]instrumentLease, len(instruments))

	for _, ic := range instruments {
		id := canonicalization.NormalizeInstrumentID(ic.ID)

		tr, d, err := buildDriver(ic)
		if err != nil {
			logger.Error("failed to build instrument driver, skipping",
				slog.String("instrument_id", id), slog.String("type", ic.Type), slog.String("error", err.Error()))

			continue
		}

		registry.Register(id, d)

		leases[id] = instrumentLease{transport: tr, driver: d, simulated: !ic.Enabled}
	}

	return registry, leases
}

// leaseFactory adapts the pre-built instrument map into a pool.Factory: the
// pool leases the same driver instance dispatch's registry already knows
// about, rather than opening a second connection per session.
func leaseFactory(leases map[string]instrumentLease) pool.Factory {
	return func(_ context.Context, instrumentID string, _ bool) (transport.Transport, driver.Driver, error) {
		lease, ok := leases[instrumentID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", pool.ErrInstrumentNotFound, instrumentID)
		}

		return lease.transport, lease.driver, nil
	}
}

// telemetryOptions wires an optional Kafka telemetry sink when
// ORCHESTRATOR_KAFKA_BROKERS is configured (spec.md §4.J).
func telemetryOptions(logger *slog.Logger) []telemetry.LoggerOption {
	brokers := config.GetEnvStr("ORCHESTRATOR_KAFKA_BROKERS", "")
	if brokers == "" {
		return nil
	}

	topic := config.GetEnvStr("ORCHESTRATOR_KAFKA_TOPIC", "orchestrator.telemetry")

	logger.Info("telemetry: forwarding events to Kafka",
		slog.String("brokers", brokers), slog.String("topic", topic))

	return []telemetry.LoggerOption{telemetry.WithSink(telemetry.NewKafkaSink([]string{brokers}, topic))}
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"cardroom/internal/bridge"
	"cardroom/internal/countdown"
	"cardroom/internal/dbconfig"
	"cardroom/internal/gateway"
	"cardroom/internal/membership"
	"cardroom/internal/ready"
)

// Services holds the wired application graph.
type Services struct {
	Handlers *gateway.Handlers
	Manager  *gateway.ConnectionManager
	Watcher  *gateway.Watcher
	Host     *gateway.CoordinatorHost

	natsConn *nats.Conn
	relay    *bridge.Relay
	pgBridge *bridge.Postgres
}

// setupServices wires the store, change feed, coordinator host, and HTTP
// surface: database layer, then bridge layer, then domain services,
// then gateway.
func setupServices(ctx context.Context, config *Config, database *sql.DB, dbCfg dbconfig.Config) (*Services, error) {
	services := &Services{}

	var store bridge.Store
	var sub bridge.Subscriber

	switch config.Storage {
	case "memory":
		mem := bridge.NewMemory()
		store = mem
		sub = mem
		log.Warn().Msg("using in-memory storage, rooms will not survive a restart")

	case "postgres":
		pgCfg := bridge.DefaultPostgresConfig(dbCfg.DSN())
		pgCfg.NotifyChannel = dbCfg.NotifyChannel
		pg, err := bridge.NewPostgres(database, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres bridge: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		go func() {
			if err := pg.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("bridge listener stopped")
			}
		}()
		services.pgBridge = pg
		store = pg
		sub = pg

	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Storage)
	}

	if config.NATS.Enabled {
		nc, err := bridge.ConnectNATS(config.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		services.natsConn = nc

		if config.Storage == "postgres" {
			relayCfg := bridge.DefaultRelayConfig(dbCfg.DSN())
			relayCfg.NotifyChannel = dbCfg.NotifyChannel
			if config.NATS.SubjectPrefix != "" {
				relayCfg.SubjectPrefix = config.NATS.SubjectPrefix
			}
			relay, err := bridge.NewRelay(nc, relayCfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create NATS relay: %w", err)
			}
			go func() {
				if err := relay.Start(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("NATS relay stopped")
				}
			}()
			services.relay = relay
		}
	}

	rooms := membership.NewManager(store)
	agg := ready.NewAggregator(store)

	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	go cm.Start(ctx)

	watcher := gateway.NewWatcher(store, sub, cm)

	step, err := config.stepInterval()
	if err != nil {
		return nil, err
	}
	settings := countdown.Settings{
		Start:        config.Game.CountdownStart,
		StepInterval: step,
	}
	host := gateway.NewCoordinatorHost(store, sub, settings, clockwork.NewRealClock())

	services.Manager = cm
	services.Watcher = watcher
	services.Host = host
	services.Handlers = gateway.NewHandlers(rooms, agg, store, watcher, host, cm, config.Game.MaxPlayers)
	return services, nil
}

// Close tears the graph down in reverse dependency order.
func (s *Services) Close() {
	if s.Host != nil {
		s.Host.Close()
	}
	if s.Watcher != nil {
		s.Watcher.Close()
	}
	if s.natsConn != nil {
		s.natsConn.Drain()
		// Drain is async; give in-flight messages a moment
		time.Sleep(100 * time.Millisecond)
		s.natsConn.Close()
	}
}

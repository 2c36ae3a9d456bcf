package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DefaultSubjectPrefix is the NATS subject prefix for relayed change
// notifications. The full subject is <prefix>.<roomID>.<table>.
const DefaultSubjectPrefix = "room.events"

// ConnectNATS dials NATS with reconnect handling.
func ConnectNATS(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// RelayConfig configures the Postgres-to-NATS change relay.
type RelayConfig struct {
	DatabaseURL          string
	NotifyChannel        string
	SubjectPrefix        string
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
}

// DefaultRelayConfig returns relay defaults for dsn.
func DefaultRelayConfig(dsn string) RelayConfig {
	return RelayConfig{
		DatabaseURL:          dsn,
		NotifyChannel:        "cardroom_events",
		SubjectPrefix:        DefaultSubjectPrefix,
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}

// Relay republishes the Postgres change feed onto NATS so processes
// without a database connection can subscribe to room changes. It runs
// one LISTEN connection and fans every envelope out to a per-room,
// per-table subject.
type Relay struct {
	listener *pq.Listener
	nc       *nats.Conn
	cfg      RelayConfig
}

// NewRelay wires a relay over an established NATS connection.
func NewRelay(nc *nats.Conn, cfg RelayConfig) (*Relay, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnectInterval,
		cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("relay listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen on channel %s: %w", cfg.NotifyChannel, err)
	}
	return &Relay{listener: l, nc: nc, cfg: cfg}, nil
}

// Start relays notifications until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	log.Info().
		Str("channel", r.cfg.NotifyChannel).
		Str("subject_prefix", r.cfg.SubjectPrefix).
		Msg("change relay started")

	pingTicker := time.NewTicker(r.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("change relay shutting down")
			return r.listener.Close()
		case note := <-r.listener.Notify:
			if note == nil {
				continue
			}
			change, err := decodeChange([]byte(note.Extra))
			if err != nil {
				log.Error().Err(err).Str("payload", note.Extra).Msg("bad change notification")
				continue
			}
			subject := changeSubject(r.cfg.SubjectPrefix, change)
			if err := r.nc.Publish(subject, []byte(note.Extra)); err != nil {
				log.Error().Err(err).Str("subject", subject).Msg("failed to relay change")
			}
		case <-pingTicker.C:
			if err := r.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping relay listener")
			}
		}
	}
}

// NATSSubscriber implements Subscriber over relayed NATS subjects.
type NATSSubscriber struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSubscriber returns a Subscriber reading the relay's subjects.
func NewNATSSubscriber(nc *nats.Conn, prefix string) *NATSSubscriber {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSubscriber{nc: nc, prefix: prefix}
}

// Subscribe registers callbacks for a room's relayed change feed.
func (n *NATSSubscriber) Subscribe(roomID string, onPlayersChanged, onStateChanged func()) (UnsubscribeFunc, error) {
	playersSub, err := n.nc.Subscribe(
		changeSubject(n.prefix, changeNotification{RoomID: roomID, Table: tablePlayers}),
		func(*nats.Msg) {
			if onPlayersChanged != nil {
				onPlayersChanged()
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to player changes: %w", err)
	}

	stateSub, err := n.nc.Subscribe(
		changeSubject(n.prefix, changeNotification{RoomID: roomID, Table: tableState}),
		func(*nats.Msg) {
			if onStateChanged != nil {
				onStateChanged()
			}
		},
	)
	if err != nil {
		_ = playersSub.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to state changes: %w", err)
	}

	return func() {
		if err := playersSub.Unsubscribe(); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to unsubscribe player changes")
		}
		if err := stateSub.Unsubscribe(); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to unsubscribe state changes")
		}
	}, nil
}

func changeSubject(prefix string, c changeNotification) string {
	return fmt.Sprintf("%s.%s.%s", prefix, c.RoomID, c.Table)
}

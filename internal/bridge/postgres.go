package bridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"cardroom/internal/models"
)

// Schema is the DDL the bridge owns. EnsureSchema applies it; external
// tooling writing these tables directly checks its statements against it.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL DEFAULT '',
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS roomplayers (
    room_id      TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    name         TEXT NOT NULL DEFAULT '',
    seat         INT NOT NULL DEFAULT 0,
    is_ready     BOOLEAN NOT NULL DEFAULT FALSE,
    is_connected BOOLEAN NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS roomstate (
    room_id         TEXT PRIMARY KEY,
    community_cards JSONB NOT NULL DEFAULT '[]',
    hands           JSONB,
    has_started     BOOLEAN NOT NULL DEFAULT FALSE,
    countdown       INT,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresConfig holds connection and notification settings for the
// Postgres bridge.
type PostgresConfig struct {
	DatabaseURL          string        // DSN, also used by the LISTEN connection
	NotifyChannel        string        // NOTIFY channel carrying change envelopes
	MinReconnectInterval time.Duration // pq.Listener reconnect backoff floor
	MaxReconnectInterval time.Duration // pq.Listener reconnect backoff ceiling
	PingInterval         time.Duration // how often to ping the LISTEN connection
}

// DefaultPostgresConfig returns sensible defaults for dsn.
func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DatabaseURL:          dsn,
		NotifyChannel:        "cardroom_events",
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}

// Postgres is the durable Bridge implementation. Records live in three
// tables; every write emits a NOTIFY on the configured channel inside the
// same transaction, and a pq.Listener dispatches those notifications to
// local subscribers. Remote processes get the same feed through the NATS
// relay.
type Postgres struct {
	db       *sql.DB
	listener *pq.Listener
	cfg      PostgresConfig

	mu      sync.Mutex
	subs    map[string][]*pgSub
	nextSub int
}

type pgSub struct {
	id        int
	onPlayers func()
	onState   func()
}

// NewPostgres wires a Postgres bridge over db. The caller owns db; the
// bridge owns the extra LISTEN connection. Run Start to begin dispatching
// notifications.
func NewPostgres(db *sql.DB, cfg PostgresConfig) (*Postgres, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnectInterval,
		cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("bridge listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen on channel %s: %w", cfg.NotifyChannel, err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for room change notifications")

	return &Postgres{
		db:       db,
		listener: l,
		cfg:      cfg,
		subs:     make(map[string][]*pgSub),
	}, nil
}

// EnsureSchema creates the bridge tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Start dispatches change notifications to subscribers until ctx is done.
func (p *Postgres) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(p.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("bridge listener shutting down")
			return p.listener.Close()
		case note := <-p.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established;
				// subscribers re-read on the next real notification anyway
				continue
			}
			change, err := decodeChange([]byte(note.Extra))
			if err != nil {
				log.Error().Err(err).Str("payload", note.Extra).Msg("bad change notification")
				continue
			}
			p.dispatch(change)
		case <-pingTicker.C:
			if err := p.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (p *Postgres) dispatch(change changeNotification) {
	p.mu.Lock()
	subs := append([]*pgSub(nil), p.subs[change.RoomID]...)
	p.mu.Unlock()

	for _, sub := range subs {
		switch change.Table {
		case tablePlayers:
			if sub.onPlayers != nil {
				sub.onPlayers()
			}
		case tableState:
			if sub.onState != nil {
				sub.onState()
			}
		}
	}
}

// Subscribe registers callbacks for a room's change feed.
func (p *Postgres) Subscribe(roomID string, onPlayersChanged, onStateChanged func()) (UnsubscribeFunc, error) {
	p.mu.Lock()
	p.nextSub++
	sub := &pgSub{id: p.nextSub, onPlayers: onPlayersChanged, onState: onStateChanged}
	p.subs[roomID] = append(p.subs[roomID], sub)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		subs := p.subs[roomID]
		for i, s := range subs {
			if s.id == sub.id {
				p.subs[roomID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(p.subs[roomID]) == 0 {
			delete(p.subs, roomID)
		}
	}, nil
}

func (p *Postgres) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := p.db.QueryRowContext(ctx,
		`SELECT id, owner_id, active, created_at FROM rooms WHERE id = $1`,
		roomID,
	).Scan(&room.ID, &room.OwnerID, &room.Active, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

func (p *Postgres) CreateRoom(ctx context.Context, roomID, ownerID string) (*models.Room, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO rooms (id, owner_id) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		roomID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRoomExists
	}
	return p.GetRoom(ctx, roomID)
}

func (p *Postgres) UpsertPlayer(ctx context.Context, roomID, userID string, fields PlayerFields) (*models.Player, error) {
	var player models.Player
	err := p.inTx(ctx, roomID, tablePlayers, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO roomplayers (room_id, user_id, name, seat, is_ready, is_connected)
			VALUES ($1, $2, COALESCE($3, ''), COALESCE($4, 0), COALESCE($5, FALSE), COALESCE($6, FALSE))
			ON CONFLICT (room_id, user_id) DO UPDATE SET
				name         = COALESCE($3, roomplayers.name),
				seat         = COALESCE($4, roomplayers.seat),
				is_ready     = COALESCE($5, roomplayers.is_ready),
				is_connected = COALESCE($6, roomplayers.is_connected)
			RETURNING room_id, user_id, name, seat, is_ready, is_connected, created_at`,
			roomID, userID, fields.Name, fields.Seat, fields.Ready, fields.Connected,
		).Scan(&player.RoomID, &player.UserID, &player.Name, &player.Seat,
			&player.Ready, &player.Connected, &player.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert player: %w", err)
	}
	return &player, nil
}

func (p *Postgres) DeletePlayer(ctx context.Context, roomID, userID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to delete player: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM roomplayers WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete player: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// absent row, nothing to notify
		_ = tx.Rollback()
		return nil
	}
	change := changeNotification{RoomID: roomID, Table: tablePlayers}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, p.cfg.NotifyChannel, change.encode()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete player: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) ListPlayers(ctx context.Context, roomID string) ([]models.Player, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT room_id, user_id, name, seat, is_ready, is_connected, created_at
		FROM roomplayers WHERE room_id = $1 ORDER BY seat ASC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var player models.Player
		if err := rows.Scan(&player.RoomID, &player.UserID, &player.Name, &player.Seat,
			&player.Ready, &player.Connected, &player.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, player)
	}
	return players, rows.Err()
}

func (p *Postgres) GetRoomState(ctx context.Context, roomID string) (*models.RoomState, error) {
	var (
		state     models.RoomState
		community []byte
		hands     []byte
		countdown sql.NullInt32
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT room_id, community_cards, hands, has_started, countdown, updated_at
		FROM roomstate WHERE room_id = $1`,
		roomID,
	).Scan(&state.RoomID, &community, &hands, &state.HasStarted, &countdown, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room state: %w", err)
	}
	return decodeState(state, community, hands, countdown)
}

func (p *Postgres) UpsertRoomState(ctx context.Context, roomID string, fields StateFields) (*models.RoomState, error) {
	var communityJSON, handsJSON []byte
	var err error
	if fields.CommunityCards != nil {
		if communityJSON, err = json.Marshal(fields.CommunityCards); err != nil {
			return nil, fmt.Errorf("failed to marshal community cards: %w", err)
		}
	}
	if fields.Hands != nil {
		if handsJSON, err = json.Marshal(fields.Hands); err != nil {
			return nil, fmt.Errorf("failed to marshal hands: %w", err)
		}
	}

	var (
		state     models.RoomState
		community []byte
		hands     []byte
		countdown sql.NullInt32
	)
	err = p.inTx(ctx, roomID, tableState, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO roomstate (room_id, community_cards, hands, has_started, countdown)
			VALUES ($1, COALESCE($2::jsonb, '[]'::jsonb), $3::jsonb, COALESCE($4, FALSE),
			        CASE WHEN $6 THEN NULL ELSE $5 END)
			ON CONFLICT (room_id) DO UPDATE SET
				community_cards = COALESCE($2::jsonb, roomstate.community_cards),
				hands           = COALESCE($3::jsonb, roomstate.hands),
				has_started     = COALESCE($4, roomstate.has_started),
				countdown       = CASE WHEN $6 THEN NULL ELSE COALESCE($5, roomstate.countdown) END,
				updated_at      = now()
			RETURNING room_id, community_cards, hands, has_started, countdown, updated_at`,
			roomID, nullBytes(communityJSON), nullBytes(handsJSON),
			fields.HasStarted, fields.Countdown, fields.ClearCountdown,
		).Scan(&state.RoomID, &community, &hands, &state.HasStarted, &countdown, &state.UpdatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert room state: %w", err)
	}
	return decodeState(state, community, hands, countdown)
}

// inTx runs fn in a transaction and emits the change notification on the
// same connection before commit, so subscribers never observe the NOTIFY
// without the row change.
func (p *Postgres) inTx(ctx context.Context, roomID string, table changeTable, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	change := changeNotification{RoomID: roomID, Table: table}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, p.cfg.NotifyChannel, change.encode()); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func decodeState(state models.RoomState, community, hands []byte, countdown sql.NullInt32) (*models.RoomState, error) {
	if len(community) > 0 {
		if err := json.Unmarshal(community, &state.CommunityCards); err != nil {
			return nil, fmt.Errorf("failed to unmarshal community cards: %w", err)
		}
	}
	if state.CommunityCards == nil {
		state.CommunityCards = []models.Card{}
	}
	if len(hands) > 0 {
		if err := json.Unmarshal(hands, &state.Hands); err != nil {
			return nil, fmt.Errorf("failed to unmarshal hands: %w", err)
		}
	}
	if countdown.Valid {
		n := int(countdown.Int32)
		state.Countdown = &n
	}
	return &state, nil
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

// Package membership owns room creation, seat allocation and the
// idempotent join/leave/kick operations. Seat indices are assigned
// lazily as "lowest unused"; a vacated seat is reusable by the next
// joiner. Seats are never compacted.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"cardroom/internal/bridge"
	"cardroom/internal/models"
)

// ErrNotRoomOwner is returned when a non-owner attempts an owner-only
// action. No state changes.
var ErrNotRoomOwner = errors.New("membership: requester is not the room owner")

// ErrRoomIDExhausted is returned when room id generation keeps colliding.
var ErrRoomIDExhausted = errors.New("membership: could not generate unique room id")

const createRetries = 10

// Manager performs membership operations against the bridge store.
type Manager struct {
	store bridge.Store
}

// NewManager returns a Manager over store.
func NewManager(store bridge.Store) *Manager {
	return &Manager{store: store}
}

// CreateRoom creates a room owned by ownerID under a freshly generated
// id, retrying on id collision, and ensures the room's state row exists.
func (m *Manager) CreateRoom(ctx context.Context, ownerID string) (*models.Room, error) {
	for range createRetries {
		roomID, err := NewRoomID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate room id: %w", err)
		}

		room, err := m.store.CreateRoom(ctx, roomID, ownerID)
		if errors.Is(err, bridge.ErrRoomExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create room: %w", err)
		}

		// First touch of the room: make sure the singleton state row is
		// there before anyone subscribes. Concurrent creators converge on
		// one row because this is an upsert.
		if _, err := m.store.UpsertRoomState(ctx, room.ID, bridge.StateFields{}); err != nil {
			return nil, fmt.Errorf("failed to init room state: %w", err)
		}

		log.Info().Str("room_id", room.ID).Str("owner_id", ownerID).Msg("room created")
		return room, nil
	}
	return nil, ErrRoomIDExhausted
}

// Join adds userID to the room, assigning the lowest unused seat.
// Re-joining is a no-op: the existing row is returned unchanged, same
// seat, no duplicate insert. The underlying write is an upsert keyed by
// (room, user), so near-simultaneous joins from one identity converge on
// a single row.
func (m *Manager) Join(ctx context.Context, roomID, userID, displayName string) (*models.Player, error) {
	if _, err := m.store.GetRoom(ctx, roomID); err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	players, err := m.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}

	for i := range players {
		if players[i].UserID == userID {
			return &players[i], nil
		}
	}

	seat := lowestFreeSeat(players)
	player, err := m.store.UpsertPlayer(ctx, roomID, userID, bridge.PlayerFields{
		Name:      bridge.String(displayName),
		Seat:      bridge.Int(seat),
		Ready:     bridge.Bool(false),
		Connected: bridge.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("user_id", userID).
		Int("seat", seat).
		Msg("player joined")
	return player, nil
}

// Leave removes userID from the room. Absent rows are a no-op. Other
// players keep their seats.
func (m *Manager) Leave(ctx context.Context, roomID, userID string) error {
	if err := m.store.DeletePlayer(ctx, roomID, userID); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}
	return nil
}

// Kick removes targetID from the room on behalf of requesterID. Only the
// room owner may kick; anyone else gets ErrNotRoomOwner and no state
// change.
func (m *Manager) Kick(ctx context.Context, roomID, targetID, requesterID string) error {
	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to get room: %w", err)
	}
	if room.OwnerID != requesterID {
		return ErrNotRoomOwner
	}

	if err := m.store.DeletePlayer(ctx, roomID, targetID); err != nil {
		return fmt.Errorf("failed to kick player: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("target_id", targetID).
		Str("requester_id", requesterID).
		Msg("player kicked")
	return nil
}

// ListPlayers returns the room's players ordered by seat ascending, the
// canonical ordering every other component consumes.
func (m *Manager) ListPlayers(ctx context.Context, roomID string) ([]models.Player, error) {
	return m.store.ListPlayers(ctx, roomID)
}

// lowestFreeSeat scans current occupants for the smallest unused index.
// Best-effort under concurrency: two truly simultaneous first joins can
// race the read-then-write and collide on a seat.
func lowestFreeSeat(players []models.Player) int {
	taken := make(map[int]bool, len(players))
	for _, p := range players {
		taken[p.Seat] = true
	}
	seat := 0
	for taken[seat] {
		seat++
	}
	return seat
}

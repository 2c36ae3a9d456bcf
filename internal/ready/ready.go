// Package ready derives a room's collective readiness from individual
// player flags.
package ready

import (
	"context"
	"errors"
	"fmt"

	"cardroom/internal/bridge"
	"cardroom/internal/models"
)

// MinPlayers is the minimum occupancy before a room can start. A lone
// occupant can never trigger a game.
const MinPlayers = 2

// ErrNotInRoom is returned by ToggleReady for a user without a player row.
var ErrNotInRoom = errors.New("ready: user is not in the room")

// AllReady reports whether the room can start: at least MinPlayers
// players and every one of them ready. Pure function of the player list;
// callers recompute it on every membership or readiness notification.
func AllReady(players []models.Player) bool {
	if len(players) < MinPlayers {
		return false
	}
	for _, p := range players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// Aggregator flips and reads readiness through the bridge store.
type Aggregator struct {
	store bridge.Store
}

// NewAggregator returns an Aggregator over store.
func NewAggregator(store bridge.Store) *Aggregator {
	return &Aggregator{store: store}
}

// ToggleReady flips userID's ready flag and writes it back. It is a
// toggle, not a set: repeated calls keep flipping.
func (a *Aggregator) ToggleReady(ctx context.Context, roomID, userID string) (*models.Player, error) {
	players, err := a.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}

	for _, p := range players {
		if p.UserID == userID {
			updated, err := a.store.UpsertPlayer(ctx, roomID, userID, bridge.PlayerFields{
				Ready: bridge.Bool(!p.Ready),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to toggle ready: %w", err)
			}
			return updated, nil
		}
	}
	return nil, ErrNotInRoom
}

// RoomReady reads the current player list and aggregates it.
func (a *Aggregator) RoomReady(ctx context.Context, roomID string) (bool, error) {
	players, err := a.store.ListPlayers(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to list players: %w", err)
	}
	return AllReady(players), nil
}

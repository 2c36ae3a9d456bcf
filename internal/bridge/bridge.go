// Package bridge is the realtime sync layer the coordination engine runs
// on: a durable record store for rooms, players and room state, plus a
// change-notification feed per room. Components never trust notification
// payloads; a notification only tells them to re-read.
package bridge

import (
	"context"
	"errors"

	"cardroom/internal/models"
)

var (
	// ErrRoomExists is returned by CreateRoom on a room id collision.
	ErrRoomExists = errors.New("bridge: room already exists")
	// ErrRoomNotFound is returned when a room id resolves to nothing.
	ErrRoomNotFound = errors.New("bridge: room not found")
	// ErrStateNotFound is returned by GetRoomState before the state row
	// has been created.
	ErrStateNotFound = errors.New("bridge: room state not found")
)

// PlayerFields is a partial update for a player row. Nil fields are left
// unchanged on update and take their zero value on first insert.
type PlayerFields struct {
	Name      *string
	Seat      *int
	Ready     *bool
	Connected *bool
}

// StateFields is a partial update for a room state row. Nil slices and
// maps are left unchanged; Countdown is only written when set, and
// ClearCountdown nulls it out.
type StateFields struct {
	CommunityCards []models.Card
	Hands          map[string]models.Hand
	HasStarted     *bool
	Countdown      *int
	ClearCountdown bool
}

// Store is the durable record store. Every write is a single-row upsert,
// update or delete; there are no cross-row transactions. Writes are safe
// to retry.
type Store interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	CreateRoom(ctx context.Context, roomID, ownerID string) (*models.Room, error)

	UpsertPlayer(ctx context.Context, roomID, userID string, fields PlayerFields) (*models.Player, error)
	DeletePlayer(ctx context.Context, roomID, userID string) error
	// ListPlayers returns the room's players ordered by seat ascending.
	// This ordering is the canonical seat-to-index mapping.
	ListPlayers(ctx context.Context, roomID string) ([]models.Player, error)

	GetRoomState(ctx context.Context, roomID string) (*models.RoomState, error)
	UpsertRoomState(ctx context.Context, roomID string, fields StateFields) (*models.RoomState, error)
}

// UnsubscribeFunc releases a subscription.
type UnsubscribeFunc func()

// Subscriber delivers change notifications for a room. Callbacks fire on
// any insert, update or delete to the corresponding table, at least once,
// with no ordering guarantee across tables.
type Subscriber interface {
	Subscribe(roomID string, onPlayersChanged, onStateChanged func()) (UnsubscribeFunc, error)
}

// Bridge is a store with a change feed.
type Bridge interface {
	Store
	Subscriber
}

// Bool returns a pointer to b, for building PlayerFields and StateFields.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// String returns a pointer to s.
func String(s string) *string { return &s }

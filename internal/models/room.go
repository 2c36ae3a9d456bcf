package models

import "time"

// Room represents a named multiplayer session container.
// OwnerID doubles as the leader identity: the single client authorized
// to drive countdown and deal side effects.
type Room struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Player is a (room, user) membership record with seat and readiness.
// At most one row exists per (RoomID, UserID).
type Player struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Seat      int       `json:"seat"`
	Ready     bool      `json:"is_ready"`
	Connected bool      `json:"is_connected"`
	CreatedAt time.Time `json:"created_at"`
}

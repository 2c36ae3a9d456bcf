package models

import "time"

// CommunityCardSlots is the number of community card positions on the table.
const CommunityCardSlots = 5

// RoomState is the per-room game progress record. Exactly one row exists
// per room, created lazily by idempotent upsert the first time the room
// is addressed.
type RoomState struct {
	RoomID         string          `json:"room_id"`
	CommunityCards []Card          `json:"community_cards"`
	Hands          map[string]Hand `json:"hands,omitempty"`
	HasStarted     bool            `json:"has_started"`
	Countdown      *int            `json:"countdown,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CountingDown reports whether a countdown is in progress.
func (s *RoomState) CountingDown() bool {
	return s.Countdown != nil
}

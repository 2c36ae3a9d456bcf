// Package events defines the envelope and payloads pushed to connected
// clients when a room changes.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"cardroom/internal/models"
)

// RoomEvent is the base structure for all room events.
type RoomEvent struct {
	ID        string          `json:"id"`        // Event UUID
	RoomID    string          `json:"room_id"`   // Room id
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of room event.
type EventType string

const (
	EventTypePlayersChanged EventType = "PlayersChanged"
	EventTypeStateChanged   EventType = "StateChanged"
	EventTypeCountdownTick  EventType = "CountdownTick"
	EventTypeGameStarted    EventType = "GameStarted"
)

// PlayersChangedPayload carries the full seat-ordered player list. Clients
// replace their local list rather than patching it.
type PlayersChangedPayload struct {
	Players []models.Player `json:"players"`
}

// StateChangedPayload carries a room state snapshot.
type StateChangedPayload struct {
	State models.RoomState `json:"state"`
}

// CountdownTickPayload mirrors the persisted countdown value so every
// client displays the same number.
type CountdownTickPayload struct {
	Value int `json:"value"`
}

// GameStartedPayload announces the deal. Hands ship in the state
// snapshot; this event just marks the transition.
type GameStartedPayload struct {
	StartedAt time.Time `json:"started_at"`
}

// New wraps payload in an addressed envelope. Marshal errors are
// programming errors (payload types are all local structs) and surface
// as an empty Data field.
func New(roomID string, eventType EventType, payload any) *RoomEvent {
	data, _ := json.Marshal(payload)
	return &RoomEvent{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// ParsePayload decodes event data into the matching payload struct.
func ParsePayload(event *RoomEvent) (any, error) {
	switch event.Type {
	case EventTypePlayersChanged:
		var payload PlayersChangedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeStateChanged:
		var payload StateChangedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeCountdownTick:
		var payload CountdownTickPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeGameStarted:
		var payload GameStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // unknown event type
	}
}

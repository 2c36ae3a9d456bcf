package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cardroom/internal/bridge"
	"cardroom/internal/events"
)

// Watcher turns per-room change notifications into client events.
// Notifications carry no payload, so every callback re-reads the store
// and broadcasts a fresh snapshot.
type Watcher struct {
	store bridge.Store
	sub   bridge.Subscriber
	cm    *ConnectionManager

	mu      sync.Mutex
	unsubs  map[string]bridge.UnsubscribeFunc
	ticks   map[string]int  // last countdown value broadcast per room
	started map[string]bool // rooms that already announced GameStarted
}

// NewWatcher creates a watcher fanning store changes out through cm.
func NewWatcher(store bridge.Store, sub bridge.Subscriber, cm *ConnectionManager) *Watcher {
	return &Watcher{
		store:   store,
		sub:     sub,
		cm:      cm,
		unsubs:  make(map[string]bridge.UnsubscribeFunc),
		ticks:   make(map[string]int),
		started: make(map[string]bool),
	}
}

// Watch subscribes to a room's change feed. Calling it again for the
// same room is a no-op.
func (w *Watcher) Watch(ctx context.Context, roomID string) error {
	w.mu.Lock()
	if _, ok := w.unsubs[roomID]; ok {
		w.mu.Unlock()
		return nil
	}
	// reserve the slot so concurrent Watch calls don't double-subscribe
	w.unsubs[roomID] = nil
	w.mu.Unlock()

	unsub, err := w.sub.Subscribe(roomID,
		func() { w.onPlayersChanged(ctx, roomID) },
		func() { w.onStateChanged(ctx, roomID) },
	)
	if err != nil {
		w.mu.Lock()
		delete(w.unsubs, roomID)
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	if _, ok := w.unsubs[roomID]; !ok {
		// Unwatch won the race while we were subscribing; nobody wants
		// this room anymore, release immediately.
		w.mu.Unlock()
		unsub()
		return nil
	}
	w.unsubs[roomID] = unsub
	w.mu.Unlock()

	log.Info().Str("room_id", roomID).Msg("watching room")

	// push the current picture to whoever triggered the watch
	w.onPlayersChanged(ctx, roomID)
	w.onStateChanged(ctx, roomID)
	return nil
}

// Unwatch drops a room's subscription and bookkeeping.
func (w *Watcher) Unwatch(roomID string) {
	w.mu.Lock()
	unsub := w.unsubs[roomID]
	delete(w.unsubs, roomID)
	delete(w.ticks, roomID)
	delete(w.started, roomID)
	w.mu.Unlock()

	if unsub != nil {
		unsub()
		log.Info().Str("room_id", roomID).Msg("stopped watching room")
	}
}

// Close drops every subscription.
func (w *Watcher) Close() {
	w.mu.Lock()
	unsubs := w.unsubs
	w.unsubs = make(map[string]bridge.UnsubscribeFunc)
	w.ticks = make(map[string]int)
	w.started = make(map[string]bool)
	w.mu.Unlock()

	for roomID, unsub := range unsubs {
		if unsub != nil {
			unsub()
		}
		log.Debug().Str("room_id", roomID).Msg("subscription closed")
	}
}

func (w *Watcher) onPlayersChanged(ctx context.Context, roomID string) {
	players, err := w.store.ListPlayers(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to list players after change")
		return
	}
	w.cm.BroadcastToRoom(roomID, events.New(roomID, events.EventTypePlayersChanged,
		events.PlayersChangedPayload{Players: players}))
}

func (w *Watcher) onStateChanged(ctx context.Context, roomID string) {
	state, err := w.store.GetRoomState(ctx, roomID)
	if err != nil {
		if errors.Is(err, bridge.ErrStateNotFound) {
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to read room state after change")
		return
	}

	w.cm.BroadcastToRoom(roomID, events.New(roomID, events.EventTypeStateChanged,
		events.StateChangedPayload{State: *state}))

	if state.Countdown != nil {
		w.mu.Lock()
		last, seen := w.ticks[roomID]
		changed := !seen || last != *state.Countdown
		w.ticks[roomID] = *state.Countdown
		w.mu.Unlock()

		if changed {
			w.cm.BroadcastToRoom(roomID, events.New(roomID, events.EventTypeCountdownTick,
				events.CountdownTickPayload{Value: *state.Countdown}))
		}
	} else {
		w.mu.Lock()
		delete(w.ticks, roomID)
		w.mu.Unlock()
	}

	if state.HasStarted {
		w.mu.Lock()
		announced := w.started[roomID]
		w.started[roomID] = true
		w.mu.Unlock()

		if !announced {
			w.cm.BroadcastToRoom(roomID, events.New(roomID, events.EventTypeGameStarted,
				events.GameStartedPayload{StartedAt: time.Now()}))
			log.Info().Str("room_id", roomID).Msg("game started")
		}
	}
}

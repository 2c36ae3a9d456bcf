package gateway

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"cardroom/internal/bridge"
	"cardroom/internal/countdown"
)

// CoordinatorHost runs one countdown coordinator per room on behalf of
// the room owner. Coordinators start lazily when a room first sees
// traffic and stop when the host closes.
type CoordinatorHost struct {
	store    bridge.Store
	sub      bridge.Subscriber
	settings countdown.Settings
	clock    clockwork.Clock

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCoordinatorHost creates a host. Pass clockwork.NewRealClock()
// outside of tests.
func NewCoordinatorHost(store bridge.Store, sub bridge.Subscriber, settings countdown.Settings, clock clockwork.Clock) *CoordinatorHost {
	return &CoordinatorHost{
		store:    store,
		sub:      sub,
		settings: settings,
		clock:    clock,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Ensure starts a coordinator for roomID if one is not already running.
// The coordinator acts with the room owner's identity, so only the
// owning room's host instance triggers countdowns and deals.
func (h *CoordinatorHost) Ensure(ctx context.Context, roomID string) error {
	h.mu.Lock()
	if _, running := h.cancels[roomID]; running {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	room, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, running := h.cancels[roomID]; running {
		return nil
	}

	coordCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancels[roomID] = cancel

	coord := countdown.NewCoordinator(h.store, roomID, room.OwnerID, h.settings, h.clock)
	go func() {
		if err := coord.Run(coordCtx, h.sub); err != nil && coordCtx.Err() == nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("countdown coordinator exited")
		}
		h.mu.Lock()
		delete(h.cancels, roomID)
		h.mu.Unlock()
	}()

	log.Info().
		Str("room_id", roomID).
		Str("owner_id", room.OwnerID).
		Msg("countdown coordinator started")
	return nil
}

// Stop halts the coordinator for one room.
func (h *CoordinatorHost) Stop(roomID string) {
	h.mu.Lock()
	cancel := h.cancels[roomID]
	delete(h.cancels, roomID)
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		log.Info().Str("room_id", roomID).Msg("countdown coordinator stopped")
	}
}

// Close halts every running coordinator.
func (h *CoordinatorHost) Close() {
	h.mu.Lock()
	cancels := h.cancels
	h.cancels = make(map[string]context.CancelFunc)
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

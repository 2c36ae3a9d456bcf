package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"cardroom/internal/bridge"
	"cardroom/internal/membership"
	"cardroom/internal/models"
	"cardroom/internal/ready"
)

// Identity headers set by the auth proxy in front of this service.
const (
	headerUserID   = "X-User-ID"
	headerUserName = "X-User-Name"
)

// DefaultMaxPlayers caps room size; poker tables seat nine.
const DefaultMaxPlayers = 9

// Handlers exposes the room lobby over HTTP plus a WebSocket event feed.
type Handlers struct {
	rooms      *membership.Manager
	ready      *ready.Aggregator
	store      bridge.Store
	watcher    *Watcher
	host       *CoordinatorHost
	cm         *ConnectionManager
	maxPlayers int
}

// NewHandlers wires the lobby services into an HTTP surface.
func NewHandlers(rooms *membership.Manager, agg *ready.Aggregator, store bridge.Store, watcher *Watcher, host *CoordinatorHost, cm *ConnectionManager, maxPlayers int) *Handlers {
	if maxPlayers <= 0 {
		maxPlayers = DefaultMaxPlayers
	}
	h := &Handlers{
		rooms:      rooms,
		ready:      agg,
		store:      store,
		watcher:    watcher,
		host:       host,
		cm:         cm,
		maxPlayers: maxPlayers,
	}
	cm.OnDisconnect = h.onDisconnect
	return h
}

// Register attaches all routes to mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rooms", h.createRoom)
	mux.HandleFunc("GET /rooms/{id}", h.getRoom)
	mux.HandleFunc("POST /rooms/{id}/join", h.joinRoom)
	mux.HandleFunc("POST /rooms/{id}/leave", h.leaveRoom)
	mux.HandleFunc("POST /rooms/{id}/ready", h.toggleReady)
	mux.HandleFunc("POST /rooms/{id}/kick", h.kickPlayer)
	mux.HandleFunc("GET /rooms/{id}/ws", h.serveWS)
	mux.HandleFunc("GET /healthz", h.health)
}

type roomSnapshot struct {
	Room    *models.Room      `json:"room"`
	Players []models.Player   `json:"players"`
	State   *models.RoomState `json:"state,omitempty"`
}

type kickRequest struct {
	TargetID string `json:"target_id"`
}

func (h *Handlers) createRoom(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	room, err := h.rooms.CreateRoom(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to create room")
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	if err := h.watcher.Watch(context.WithoutCancel(r.Context()), room.ID); err != nil {
		log.Error().Err(err).Str("room_id", room.ID).Msg("failed to watch new room")
	}
	if err := h.host.Ensure(r.Context(), room.ID); err != nil {
		log.Error().Err(err).Str("room_id", room.ID).Msg("failed to start coordinator")
	}

	log.Info().Str("room_id", room.ID).Str("owner_id", userID).Msg("room created")
	writeJSON(w, http.StatusCreated, room)
}

func (h *Handlers) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, bridge.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room")
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	players, err := h.store.ListPlayers(r.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to list players")
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	snapshot := roomSnapshot{Room: room, Players: players}
	state, err := h.store.GetRoomState(r.Context(), roomID)
	if err == nil {
		snapshot.State = state
	} else if !errors.Is(err, bridge.ErrStateNotFound) {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room state")
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handlers) joinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	name := r.Header.Get(headerUserName)
	if name == "" {
		name = userID
	}

	players, err := h.store.ListPlayers(r.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to list players")
		writeError(w, http.StatusInternalServerError, "failed to join room")
		return
	}
	seated := false
	for _, p := range players {
		if p.UserID == userID {
			seated = true
			break
		}
	}
	if !seated && len(players) >= h.maxPlayers {
		writeError(w, http.StatusConflict, "room is full")
		return
	}

	player, err := h.rooms.Join(r.Context(), roomID, userID, name)
	if err != nil {
		if errors.Is(err, bridge.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		log.Error().Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Msg("failed to join room")
		writeError(w, http.StatusInternalServerError, "failed to join room")
		return
	}

	if err := h.watcher.Watch(context.WithoutCancel(r.Context()), roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to watch room")
	}
	if err := h.host.Ensure(r.Context(), roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to start coordinator")
	}

	writeJSON(w, http.StatusOK, player)
}

func (h *Handlers) leaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	if err := h.rooms.Leave(r.Context(), roomID, userID); err != nil {
		log.Error().Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Msg("failed to leave room")
		writeError(w, http.StatusInternalServerError, "failed to leave room")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) toggleReady(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	player, err := h.ready.ToggleReady(r.Context(), roomID, userID)
	if err != nil {
		if errors.Is(err, ready.ErrNotInRoom) {
			writeError(w, http.StatusNotFound, "player not in room")
			return
		}
		log.Error().Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Msg("failed to toggle ready")
		writeError(w, http.StatusInternalServerError, "failed to toggle ready")
		return
	}

	writeJSON(w, http.StatusOK, player)
}

func (h *Handlers) kickPlayer(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req kickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetID == "" {
		writeError(w, http.StatusBadRequest, "missing target_id")
		return
	}

	if err := h.rooms.Kick(r.Context(), roomID, req.TargetID, userID); err != nil {
		switch {
		case errors.Is(err, membership.ErrNotRoomOwner):
			writeError(w, http.StatusForbidden, "only the room owner can kick players")
		case errors.Is(err, bridge.ErrRoomNotFound):
			writeError(w, http.StatusNotFound, "room not found")
		default:
			log.Error().Err(err).
				Str("room_id", roomID).
				Str("target_id", req.TargetID).
				Msg("failed to kick player")
			writeError(w, http.StatusInternalServerError, "failed to kick player")
		}
		return
	}

	log.Info().
		Str("room_id", roomID).
		Str("target_id", req.TargetID).
		Str("requester_id", userID).
		Msg("player kicked")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) serveWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		// browsers can't set headers on WebSocket requests
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	if _, err := h.store.GetRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, bridge.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to load room")
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return
	}

	if err := h.watcher.Watch(context.WithoutCancel(r.Context()), roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to watch room")
		writeError(w, http.StatusInternalServerError, "failed to subscribe to room")
		return
	}
	if err := h.host.Ensure(r.Context(), roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to start coordinator")
	}

	// Spectators may watch without a seat; only members get the
	// connected flag.
	h.setConnected(r.Context(), roomID, userID, true)

	if err := h.cm.UpgradeConnection(w, r, userID, roomID); err != nil {
		// UpgradeConnection already wrote the handshake failure
		return
	}
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// onDisconnect flips the connected flag when a player's last socket in
// a room closes.
func (h *Handlers) onDisconnect(roomID, userID string) {
	if h.cm.UserConnectionCount(roomID, userID) > 0 {
		return
	}
	h.setConnected(context.Background(), roomID, userID, false)
}

// setConnected flips a member's connected flag. Non-members are left
// alone so a bare socket does not conjure a seat.
func (h *Handlers) setConnected(ctx context.Context, roomID, userID string, connected bool) {
	players, err := h.store.ListPlayers(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to list players")
		return
	}
	for _, p := range players {
		if p.UserID != userID {
			continue
		}
		if _, err := h.store.UpsertPlayer(ctx, roomID, userID, bridge.PlayerFields{
			Connected: bridge.Bool(connected),
		}); err != nil {
			log.Warn().Err(err).
				Str("room_id", roomID).
				Str("user_id", userID).
				Bool("connected", connected).
				Msg("failed to update connected flag")
		}
		return
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

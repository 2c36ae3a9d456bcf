package bridge

import (
	"context"
	"sort"
	"sync"
	"time"

	"cardroom/internal/models"
)

// Memory is an in-process Bridge used by tests and local single-process
// runs. Notifications are delivered synchronously after the write that
// caused them, outside the store lock, so callbacks may call back into
// the store.
type Memory struct {
	mu      sync.Mutex
	rooms   map[string]models.Room
	players map[string]map[string]models.Player // roomID -> userID -> player
	states  map[string]models.RoomState
	subs    map[string][]*memorySub
	nextSub int
}

type memorySub struct {
	id        int
	roomID    string
	onPlayers func()
	onState   func()
}

// NewMemory returns an empty in-memory bridge.
func NewMemory() *Memory {
	return &Memory{
		rooms:   make(map[string]models.Room),
		players: make(map[string]map[string]models.Player),
		states:  make(map[string]models.RoomState),
		subs:    make(map[string][]*memorySub),
	}
}

func (m *Memory) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &room, nil
}

func (m *Memory) CreateRoom(ctx context.Context, roomID, ownerID string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rooms[roomID]; exists {
		return nil, ErrRoomExists
	}
	room := models.Room{ID: roomID, OwnerID: ownerID, Active: true, CreatedAt: time.Now()}
	m.rooms[roomID] = room
	return &room, nil
}

func (m *Memory) UpsertPlayer(ctx context.Context, roomID, userID string, fields PlayerFields) (*models.Player, error) {
	m.mu.Lock()
	if m.players[roomID] == nil {
		m.players[roomID] = make(map[string]models.Player)
	}
	p, exists := m.players[roomID][userID]
	if !exists {
		p = models.Player{RoomID: roomID, UserID: userID, CreatedAt: time.Now()}
	}
	if fields.Name != nil {
		p.Name = *fields.Name
	}
	if fields.Seat != nil {
		p.Seat = *fields.Seat
	}
	if fields.Ready != nil {
		p.Ready = *fields.Ready
	}
	if fields.Connected != nil {
		p.Connected = *fields.Connected
	}
	m.players[roomID][userID] = p
	m.mu.Unlock()

	m.notify(roomID, tablePlayers)
	return &p, nil
}

func (m *Memory) DeletePlayer(ctx context.Context, roomID, userID string) error {
	m.mu.Lock()
	_, existed := m.players[roomID][userID]
	delete(m.players[roomID], userID)
	m.mu.Unlock()

	if existed {
		m.notify(roomID, tablePlayers)
	}
	return nil
}

func (m *Memory) ListPlayers(ctx context.Context, roomID string) ([]models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	players := make([]models.Player, 0, len(m.players[roomID]))
	for _, p := range m.players[roomID] {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Seat < players[j].Seat })
	return players, nil
}

func (m *Memory) GetRoomState(ctx context.Context, roomID string) (*models.RoomState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[roomID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return copyState(state), nil
}

func (m *Memory) UpsertRoomState(ctx context.Context, roomID string, fields StateFields) (*models.RoomState, error) {
	m.mu.Lock()
	state, exists := m.states[roomID]
	if !exists {
		state = models.RoomState{RoomID: roomID, CommunityCards: []models.Card{}}
	}
	if fields.CommunityCards != nil {
		state.CommunityCards = append([]models.Card(nil), fields.CommunityCards...)
	}
	if fields.Hands != nil {
		state.Hands = make(map[string]models.Hand, len(fields.Hands))
		for id, h := range fields.Hands {
			state.Hands[id] = append(models.Hand(nil), h...)
		}
	}
	if fields.HasStarted != nil {
		state.HasStarted = *fields.HasStarted
	}
	if fields.ClearCountdown {
		state.Countdown = nil
	} else if fields.Countdown != nil {
		n := *fields.Countdown
		state.Countdown = &n
	}
	state.UpdatedAt = time.Now()
	m.states[roomID] = state
	m.mu.Unlock()

	m.notify(roomID, tableState)
	return copyState(state), nil
}

func (m *Memory) Subscribe(roomID string, onPlayersChanged, onStateChanged func()) (UnsubscribeFunc, error) {
	m.mu.Lock()
	m.nextSub++
	sub := &memorySub{id: m.nextSub, roomID: roomID, onPlayers: onPlayersChanged, onState: onStateChanged}
	m.subs[roomID] = append(m.subs[roomID], sub)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[roomID]
		for i, s := range subs {
			if s.id == sub.id {
				m.subs[roomID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}, nil
}

func (m *Memory) notify(roomID string, table changeTable) {
	m.mu.Lock()
	subs := append([]*memorySub(nil), m.subs[roomID]...)
	m.mu.Unlock()

	for _, sub := range subs {
		switch table {
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

func copyState(s models.RoomState) *models.RoomState {
	out := s
	out.CommunityCards = append([]models.Card(nil), s.CommunityCards...)
	if s.Hands != nil {
		out.Hands = make(map[string]models.Hand, len(s.Hands))
		for id, h := range s.Hands {
			out.Hands[id] = append(models.Hand(nil), h...)
		}
	}
	if s.Countdown != nil {
		n := *s.Countdown
		out.Countdown = &n
	}
	return &out
}

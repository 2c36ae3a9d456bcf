package bridge

import (
	"context"
	"testing"

	"cardroom/internal/models"
)

func TestMemory_CreateRoom(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	room, err := m.CreateRoom(ctx, "abc123", "u0")
	if err != nil {
		t.Fatal(err)
	}
	if room.ID != "abc123" || room.OwnerID != "u0" {
		t.Errorf("room = %+v", room)
	}

	if _, err := m.CreateRoom(ctx, "abc123", "u1"); err != ErrRoomExists {
		t.Errorf("duplicate create err = %v, want ErrRoomExists", err)
	}

	got, err := m.GetRoom(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if got.OwnerID != "u0" {
		t.Errorf("owner = %q, want u0 (conflict must not reassign)", got.OwnerID)
	}

	if _, err := m.GetRoom(ctx, "nope"); err != ErrRoomNotFound {
		t.Errorf("missing room err = %v, want ErrRoomNotFound", err)
	}
}

func TestMemory_UpsertPlayer_PartialFields(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	p, err := m.UpsertPlayer(ctx, "r1", "u1", PlayerFields{
		Name: String("Alice"), Seat: Int(0), Connected: Bool(true),
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Alice" || p.Seat != 0 || p.Ready || !p.Connected {
		t.Errorf("player = %+v", p)
	}

	// Only the ready flag set; everything else must survive.
	p, err = m.UpsertPlayer(ctx, "r1", "u1", PlayerFields{Ready: Bool(true)})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Alice" || p.Seat != 0 || !p.Ready || !p.Connected {
		t.Errorf("partial upsert clobbered fields: %+v", p)
	}
}

func TestMemory_ListPlayers_SeatOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.UpsertPlayer(ctx, "r1", "u2", PlayerFields{Seat: Int(2)})
	m.UpsertPlayer(ctx, "r1", "u0", PlayerFields{Seat: Int(0)})
	m.UpsertPlayer(ctx, "r1", "u1", PlayerFields{Seat: Int(1)})

	players, err := m.ListPlayers(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(players) != 3 {
		t.Fatalf("got %d players, want 3", len(players))
	}
	for i, p := range players {
		if p.Seat != i {
			t.Errorf("position %d has seat %d", i, p.Seat)
		}
	}
}

func TestMemory_RoomState_Countdown(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.GetRoomState(ctx, "r1"); err != ErrStateNotFound {
		t.Errorf("missing state err = %v, want ErrStateNotFound", err)
	}

	state, err := m.UpsertRoomState(ctx, "r1", StateFields{Countdown: Int(3)})
	if err != nil {
		t.Fatal(err)
	}
	if state.Countdown == nil || *state.Countdown != 3 {
		t.Errorf("countdown = %v, want 3", state.Countdown)
	}

	state, err = m.UpsertRoomState(ctx, "r1", StateFields{ClearCountdown: true})
	if err != nil {
		t.Fatal(err)
	}
	if state.Countdown != nil {
		t.Errorf("countdown = %v, want nil after clear", *state.Countdown)
	}
	if state.HasStarted {
		t.Error("clearing countdown must not start the game")
	}
}

func TestMemory_RoomState_DealCommit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	hands := map[string]models.Hand{
		"u0": {"AS", "KS"},
		"u1": {"QH", "JH"},
	}
	state, err := m.UpsertRoomState(ctx, "r1", StateFields{
		Hands:          hands,
		CommunityCards: []models.Card{},
		HasStarted:     Bool(true),
		ClearCountdown: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !state.HasStarted || state.Countdown != nil {
		t.Errorf("state = %+v", state)
	}
	if len(state.Hands) != 2 || len(state.Hands["u0"]) != 2 {
		t.Errorf("hands = %v", state.Hands)
	}
}

func TestMemory_Subscribe(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var playerNotes, stateNotes int
	unsub, err := m.Subscribe("r1",
		func() { playerNotes++ },
		func() { stateNotes++ },
	)
	if err != nil {
		t.Fatal(err)
	}

	m.UpsertPlayer(ctx, "r1", "u1", PlayerFields{Seat: Int(0)})
	m.UpsertRoomState(ctx, "r1", StateFields{Countdown: Int(3)})
	m.UpsertPlayer(ctx, "r2", "u1", PlayerFields{Seat: Int(0)}) // other room

	if playerNotes != 1 {
		t.Errorf("player notifications = %d, want 1", playerNotes)
	}
	if stateNotes != 1 {
		t.Errorf("state notifications = %d, want 1", stateNotes)
	}

	// Deleting an absent player is a no-op and must not notify.
	m.DeletePlayer(ctx, "r1", "ghost")
	if playerNotes != 1 {
		t.Errorf("no-op delete notified: %d", playerNotes)
	}

	unsub()
	m.UpsertPlayer(ctx, "r1", "u2", PlayerFields{Seat: Int(1)})
	if playerNotes != 1 {
		t.Errorf("notification after unsubscribe: %d", playerNotes)
	}
}

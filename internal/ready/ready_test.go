package ready

import (
	"context"
	"errors"
	"testing"

	"cardroom/internal/bridge"
	"cardroom/internal/models"
)

func players(ready ...bool) []models.Player {
	out := make([]models.Player, len(ready))
	for i, r := range ready {
		out[i] = models.Player{UserID: string(rune('a' + i)), Seat: i, Ready: r}
	}
	return out
}

func TestAllReady(t *testing.T) {
	tests := []struct {
		name    string
		players []models.Player
		want    bool
	}{
		{"empty room", nil, false},
		{"single ready player", players(true), false},
		{"two ready", players(true, true), true},
		{"two, one unready", players(true, false), false},
		{"five, one unready", players(true, true, true, false, true), false},
		{"five ready", players(true, true, true, true, true), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AllReady(tt.players); got != tt.want {
				t.Errorf("AllReady() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregator_ToggleReady(t *testing.T) {
	store := bridge.NewMemory()
	a := NewAggregator(store)
	ctx := context.Background()

	store.UpsertPlayer(ctx, "r", "u1", bridge.PlayerFields{Seat: bridge.Int(0)})

	p, err := a.ToggleReady(ctx, "r", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Ready {
		t.Error("first toggle should set ready")
	}

	p, err = a.ToggleReady(ctx, "r", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Ready {
		t.Error("second toggle should clear ready")
	}
}

func TestAggregator_ToggleReady_NotInRoom(t *testing.T) {
	a := NewAggregator(bridge.NewMemory())

	if _, err := a.ToggleReady(context.Background(), "r", "ghost"); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("err = %v, want ErrNotInRoom", err)
	}
}

func TestAggregator_RoomReady(t *testing.T) {
	store := bridge.NewMemory()
	a := NewAggregator(store)
	ctx := context.Background()

	store.UpsertPlayer(ctx, "r", "u1", bridge.PlayerFields{Seat: bridge.Int(0), Ready: bridge.Bool(true)})

	ok, err := a.RoomReady(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("single occupant must never be room-ready")
	}

	store.UpsertPlayer(ctx, "r", "u2", bridge.PlayerFields{Seat: bridge.Int(1), Ready: bridge.Bool(true)})
	ok, err = a.RoomReady(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("two ready players should be room-ready")
	}
}

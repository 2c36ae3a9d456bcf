package countdown

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"cardroom/internal/bridge"
	"cardroom/internal/membership"
	"cardroom/internal/models"
	"cardroom/internal/ready"
)

const room = "abc123"

type fixture struct {
	store *bridge.Memory
	clock *clockwork.FakeClock
	coord *Coordinator

	values  chan int
	started chan struct{}
}

// newFixture wires a coordinator for identity against a fresh room owned
// by u0, with a recorder subscription capturing every persisted countdown
// value and the started flag.
func newFixture(t *testing.T, identity string) (*fixture, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := bridge.NewMemory()
	if _, err := store.CreateRoom(ctx, room, "u0"); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		store:   store,
		clock:   clockwork.NewFakeClock(),
		values:  make(chan int, 16),
		started: make(chan struct{}, 1),
	}
	f.coord = NewCoordinator(store, room, identity, DefaultSettings(), f.clock)

	if _, err := store.Subscribe(room, nil, func() {
		state, err := store.GetRoomState(ctx, room)
		if err != nil {
			return
		}
		if state.Countdown != nil {
			f.values <- *state.Countdown
		}
		if state.HasStarted {
			select {
			case f.started <- struct{}{}:
			default:
			}
		}
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Subscribe(room,
		func() { f.coord.HandlePlayersChanged(ctx) },
		func() { f.coord.HandleStateChanged(ctx) },
	); err != nil {
		t.Fatal(err)
	}

	return f, ctx
}

func (f *fixture) join(ctx context.Context, t *testing.T, userID string, seat int, isReady bool) {
	t.Helper()
	_, err := f.store.UpsertPlayer(ctx, room, userID, bridge.PlayerFields{
		Name:      bridge.String(userID),
		Seat:      bridge.Int(seat),
		Ready:     bridge.Bool(isReady),
		Connected: bridge.Bool(true),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) waitValue(t *testing.T) int {
	t.Helper()
	select {
	case v := <-f.values:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for countdown value")
		return -1
	}
}

func (f *fixture) expectNoValue(t *testing.T) {
	t.Helper()
	select {
	case v := <-f.values:
		t.Fatalf("unexpected countdown value %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *fixture) step(t *testing.T) {
	t.Helper()
	f.clock.BlockUntil(1)
	f.clock.Advance(time.Second)
}

func TestCoordinator_CountdownSequence(t *testing.T) {
	f, ctx := newFixture(t, "u0")

	f.join(ctx, t, "u0", 0, true)
	if f.coord.Phase() != PhaseIdle {
		t.Fatal("single ready player must not trigger a countdown")
	}
	f.join(ctx, t, "u1", 1, true)

	if got := f.waitValue(t); got != 3 {
		t.Fatalf("first value = %d, want 3", got)
	}
	for _, want := range []int{2, 1, 0} {
		f.step(t)
		if got := f.waitValue(t); got != want {
			t.Fatalf("countdown value = %d, want %d", got, want)
		}
	}

	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("game never started")
	}

	if f.coord.Phase() != PhaseDealt {
		t.Errorf("phase = %s, want %s", f.coord.Phase(), PhaseDealt)
	}

	state, err := f.store.GetRoomState(ctx, room)
	if err != nil {
		t.Fatal(err)
	}
	if !state.HasStarted || state.Countdown != nil {
		t.Errorf("final state = %+v", state)
	}
	if len(state.Hands) != 2 {
		t.Errorf("hands for %d players, want 2", len(state.Hands))
	}
	for id, hand := range state.Hands {
		if len(hand) != models.HandSize {
			t.Errorf("hand for %s = %v", id, hand)
		}
	}
	if len(state.CommunityCards) != 0 {
		t.Errorf("community cards dealt early: %v", state.CommunityCards)
	}
}

func TestCoordinator_NonLeaderNeverActs(t *testing.T) {
	f, ctx := newFixture(t, "u1") // not the owner

	f.join(ctx, t, "u0", 0, true)
	f.join(ctx, t, "u1", 1, true)

	f.expectNoValue(t)
	if f.coord.Phase() != PhaseIdle {
		t.Errorf("follower phase = %s, want %s", f.coord.Phase(), PhaseIdle)
	}
	if _, err := f.store.GetRoomState(ctx, room); err != bridge.ErrStateNotFound {
		t.Errorf("follower wrote room state: err = %v", err)
	}
}

func TestCoordinator_Cancellation(t *testing.T) {
	f, ctx := newFixture(t, "u0")

	f.join(ctx, t, "u0", 0, true)
	f.join(ctx, t, "u1", 1, true)

	if got := f.waitValue(t); got != 3 {
		t.Fatalf("first value = %d, want 3", got)
	}
	f.step(t)
	if got := f.waitValue(t); got != 2 {
		t.Fatalf("value = %d, want 2", got)
	}

	// A player un-readies at Counting(2): back to Idle, countdown nulled.
	f.join(ctx, t, "u1", 1, false)

	if f.coord.Phase() != PhaseIdle {
		t.Fatalf("phase after cancel = %s, want %s", f.coord.Phase(), PhaseIdle)
	}
	state, err := f.store.GetRoomState(ctx, room)
	if err != nil {
		t.Fatal(err)
	}
	if state.Countdown != nil || state.HasStarted {
		t.Errorf("state after cancel = %+v", state)
	}

	// The already-scheduled step fires late; it must not deal.
	f.clock.Advance(time.Second)
	time.Sleep(50 * time.Millisecond)

	state, err = f.store.GetRoomState(ctx, room)
	if err != nil {
		t.Fatal(err)
	}
	if state.HasStarted || len(state.Hands) != 0 {
		t.Errorf("late step dealt: %+v", state)
	}
	f.expectNoValue(t)
}

func TestCoordinator_RestartAfterCancel(t *testing.T) {
	f, ctx := newFixture(t, "u0")

	f.join(ctx, t, "u0", 0, true)
	f.join(ctx, t, "u1", 1, true)
	if got := f.waitValue(t); got != 3 {
		t.Fatalf("value = %d, want 3", got)
	}

	f.join(ctx, t, "u1", 1, false) // cancel
	if f.coord.Phase() != PhaseIdle {
		t.Fatal("expected Idle after cancel")
	}

	// Readiness returns: a whole new countdown starts from the top.
	f.join(ctx, t, "u1", 1, true)
	if got := f.waitValue(t); got != 3 {
		t.Fatalf("restarted value = %d, want 3", got)
	}
	if f.coord.Phase() != PhaseCounting {
		t.Errorf("phase = %s, want %s", f.coord.Phase(), PhaseCounting)
	}
}

func TestCoordinator_DuplicateTriggerIsNoOp(t *testing.T) {
	f, ctx := newFixture(t, "u0")

	f.join(ctx, t, "u0", 0, true)
	f.join(ctx, t, "u1", 1, true)
	if got := f.waitValue(t); got != 3 {
		t.Fatalf("value = %d, want 3", got)
	}

	// Overlapping deliveries of the same all-ready observation.
	f.coord.HandlePlayersChanged(ctx)
	f.coord.HandlePlayersChanged(ctx)
	f.expectNoValue(t)
}

func TestCoordinator_NoRedealAfterStart(t *testing.T) {
	f, ctx := newFixture(t, "u0")

	f.join(ctx, t, "u0", 0, true)
	f.join(ctx, t, "u1", 1, true)

	if got := f.waitValue(t); got != 3 {
		t.Fatal("countdown did not start")
	}
	for range 3 {
		f.step(t)
		f.waitValue(t)
	}
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("game never started")
	}

	first, err := f.store.GetRoomState(ctx, room)
	if err != nil {
		t.Fatal(err)
	}

	// More all-ready notifications arrive after the deal; the terminal
	// phase must swallow them.
	f.coord.HandlePlayersChanged(ctx)
	f.expectNoValue(t)

	second, err := f.store.GetRoomState(ctx, room)
	if err != nil {
		t.Fatal(err)
	}
	for id, hand := range first.Hands {
		if second.Hands[id][0] != hand[0] || second.Hands[id][1] != hand[1] {
			t.Errorf("hand for %s changed after duplicate trigger", id)
		}
	}
}

func TestCoordinator_MirrorsStartedState(t *testing.T) {
	f, ctx := newFixture(t, "u1") // follower

	// Some other process dealt already.
	if _, err := f.store.UpsertRoomState(ctx, room, bridge.StateFields{
		HasStarted: bridge.Bool(true),
	}); err != nil {
		t.Fatal(err)
	}

	if f.coord.Phase() != PhaseDealt {
		t.Errorf("phase = %s, want %s after observing has_started", f.coord.Phase(), PhaseDealt)
	}
}

// The lobby flow end to end through the public operations: create a
// room, join through the membership manager, toggle readiness through
// the aggregator, and let the leader coordinator drive the countdown
// and deal over the shared in-memory store.
func TestCoordinator_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := bridge.NewMemory()
	mgr := membership.NewManager(store)
	agg := ready.NewAggregator(store)

	created, err := mgr.CreateRoom(ctx, "u0")
	if err != nil {
		t.Fatal(err)
	}

	clock := clockwork.NewFakeClock()
	coord := NewCoordinator(store, created.ID, "u0", DefaultSettings(), clock)

	values := make(chan int, 16)
	started := make(chan struct{}, 1)
	if _, err := store.Subscribe(created.ID, nil, func() {
		state, err := store.GetRoomState(ctx, created.ID)
		if err != nil {
			return
		}
		if state.Countdown != nil {
			values <- *state.Countdown
		}
		if state.HasStarted {
			select {
			case started <- struct{}{}:
			default:
			}
		}
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Subscribe(created.ID,
		func() { coord.HandlePlayersChanged(ctx) },
		func() { coord.HandleStateChanged(ctx) },
	); err != nil {
		t.Fatal(err)
	}

	p0, err := mgr.Join(ctx, created.ID, "u0", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	p1, err := mgr.Join(ctx, created.ID, "u1", "Bob")
	if err != nil {
		t.Fatal(err)
	}
	if p0.Seat != 0 || p1.Seat != 1 {
		t.Fatalf("seats = %d,%d, want 0,1", p0.Seat, p1.Seat)
	}

	if _, err := agg.ToggleReady(ctx, created.ID, "u0"); err != nil {
		t.Fatal(err)
	}
	if coord.Phase() != PhaseIdle {
		t.Fatal("one ready player of two must not trigger a countdown")
	}
	if _, err := agg.ToggleReady(ctx, created.ID, "u1"); err != nil {
		t.Fatal(err)
	}

	waitValue := func() int {
		t.Helper()
		select {
		case v := <-values:
			return v
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for countdown value")
			return -1
		}
	}

	if got := waitValue(); got != 3 {
		t.Fatalf("first value = %d, want 3", got)
	}
	for _, want := range []int{2, 1, 0} {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
		if got := waitValue(); got != want {
			t.Fatalf("countdown value = %d, want %d", got, want)
		}
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("game never started")
	}

	state, err := store.GetRoomState(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !state.HasStarted || state.Countdown != nil {
		t.Fatalf("final state = %+v", state)
	}
	if len(state.Hands) != 2 {
		t.Fatalf("hands for %d players, want 2", len(state.Hands))
	}
	dealt := make(map[models.Card]bool)
	for _, id := range []string{"u0", "u1"} {
		hand, ok := state.Hands[id]
		if !ok {
			t.Fatalf("no hand for %s", id)
		}
		if len(hand) != models.HandSize {
			t.Fatalf("hand for %s = %v", id, hand)
		}
		for _, card := range hand {
			if dealt[card] {
				t.Errorf("card %s dealt twice", card)
			}
			dealt[card] = true
		}
	}
	if len(state.CommunityCards) != 0 {
		t.Errorf("community cards dealt early: %v", state.CommunityCards)
	}
}

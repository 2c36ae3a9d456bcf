// Package countdown drives the lobby-to-table transition: a per-room
// state machine stepping Idle -> Counting(3..0) -> Dealt. Every client
// runs a Coordinator and mirrors the persisted countdown, but only the
// room's leader (the client whose identity equals the room owner)
// executes side effects. That single rule is what makes the transition
// race-free: many clients observe "all ready" at the same time, one is
// allowed to act on it.
package countdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"cardroom/internal/bridge"
	"cardroom/internal/dealer"
	"cardroom/internal/models"
	"cardroom/internal/ready"
)

// Phase is the coordinator's position in the lobby state machine.
type Phase string

const (
	// PhaseIdle means no countdown is in progress.
	PhaseIdle Phase = "IDLE"
	// PhaseCounting means the leader is stepping the countdown down.
	PhaseCounting Phase = "COUNTING"
	// PhaseDealt is terminal for the game instance: hands are out.
	PhaseDealt Phase = "DEALT"
)

// Settings tune the countdown sequence.
type Settings struct {
	Start        int           // first persisted countdown value
	StepInterval time.Duration // real-time delay between steps
}

// DefaultSettings returns the standard 3-2-1-0 second countdown.
func DefaultSettings() Settings {
	return Settings{Start: 3, StepInterval: time.Second}
}

// Coordinator reacts to change notifications for one room on behalf of
// one client identity. Handle methods are safe for concurrent calls;
// overlapping notification deliveries collapse onto one transition.
type Coordinator struct {
	store    bridge.Store
	roomID   string
	identity string
	settings Settings
	clock    clockwork.Clock

	mu         sync.Mutex
	phase      Phase
	cancelStep context.CancelFunc
}

// NewCoordinator returns an Idle coordinator for roomID acting as
// identity. Pass clockwork.NewRealClock outside tests.
func NewCoordinator(store bridge.Store, roomID, identity string, settings Settings, clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		store:    store,
		roomID:   roomID,
		identity: identity,
		settings: settings,
		clock:    clock,
		phase:    PhaseIdle,
	}
}

// Phase returns the coordinator's current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Run subscribes the coordinator to the room's change feed and blocks
// until ctx is done. It performs one initial sync so a coordinator
// joining mid-game lands in the right phase.
func (c *Coordinator) Run(ctx context.Context, sub bridge.Subscriber) error {
	unsub, err := sub.Subscribe(c.roomID,
		func() { c.HandlePlayersChanged(ctx) },
		func() { c.HandleStateChanged(ctx) },
	)
	if err != nil {
		return err
	}
	defer unsub()

	c.HandleStateChanged(ctx)
	c.HandlePlayersChanged(ctx)

	<-ctx.Done()
	return nil
}

// HandlePlayersChanged re-derives readiness from a fresh player read and
// advances the state machine. Notification payloads are never trusted.
func (c *Coordinator) HandlePlayersChanged(ctx context.Context) {
	players, err := c.store.ListPlayers(ctx, c.roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to read players")
		return
	}
	allReady := ready.AllReady(players)

	switch {
	case allReady && c.Phase() == PhaseIdle:
		c.maybeStart(ctx)
	case !allReady && c.Phase() == PhaseCounting:
		c.cancelCountdown(ctx)
	}
}

// HandleStateChanged mirrors the persisted state. Its one transition is
// detecting has_started written elsewhere and locking into Dealt so any
// late local trigger becomes a no-op.
func (c *Coordinator) HandleStateChanged(ctx context.Context) {
	state, err := c.store.GetRoomState(ctx, c.roomID)
	if errors.Is(err, bridge.ErrStateNotFound) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to read room state")
		return
	}
	if !state.HasStarted {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseDealt {
		return
	}
	c.phase = PhaseDealt
	if c.cancelStep != nil {
		c.cancelStep()
		c.cancelStep = nil
	}
}

// maybeStart begins the countdown if this client is the leader and the
// machine is still Idle. The phase check under the lock is the
// in-process guard against duplicate deliveries of the same trigger.
func (c *Coordinator) maybeStart(ctx context.Context) {
	room, err := c.store.GetRoom(ctx, c.roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to read room")
		return
	}
	if room.OwnerID != c.identity {
		// follower: mirror only
		return
	}

	state, err := c.store.GetRoomState(ctx, c.roomID)
	if err != nil && !errors.Is(err, bridge.ErrStateNotFound) {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to read room state")
		return
	}
	if state != nil && state.HasStarted {
		c.mu.Lock()
		c.phase = PhaseDealt
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return
	}
	stepCtx, cancel := context.WithCancel(ctx)
	c.phase = PhaseCounting
	c.cancelStep = cancel
	c.mu.Unlock()

	if _, err := c.store.UpsertRoomState(ctx, c.roomID, bridge.StateFields{
		Countdown: bridge.Int(c.settings.Start),
	}); err != nil {
		// write failed, so the transition did not happen; the next
		// notification retries it
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to start countdown")
		c.cancelCountdown(ctx)
		return
	}

	log.Info().
		Str("room_id", c.roomID).
		Int("countdown", c.settings.Start).
		Msg("countdown started")

	go c.runSteps(stepCtx)
}

// runSteps advances the persisted countdown one value per interval and
// deals at zero. Each step re-checks readiness with a fresh read and
// aborts the sequence if readiness was lost.
func (c *Coordinator) runSteps(ctx context.Context) {
	timer := c.clock.NewTimer(c.settings.StepInterval)
	defer timer.Stop()

	for n := c.settings.Start - 1; n >= 0; n-- {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		}

		players, err := c.store.ListPlayers(ctx, c.roomID)
		if err != nil {
			log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to read players mid-countdown")
			c.cancelCountdown(ctx)
			return
		}
		if !ready.AllReady(players) {
			c.cancelCountdown(ctx)
			return
		}

		if _, err := c.store.UpsertRoomState(ctx, c.roomID, bridge.StateFields{
			Countdown: bridge.Int(n),
		}); err != nil {
			log.Error().Err(err).Str("room_id", c.roomID).Int("countdown", n).Msg("failed to write countdown step")
			c.cancelCountdown(ctx)
			return
		}

		if n == 0 {
			c.deal(ctx, players)
			return
		}
		timer.Reset(c.settings.StepInterval)
	}
}

// deal distributes hands and commits the started state in one durable
// update. It is the sole path that populates hands, and the terminal
// has_started flag makes any late duplicate a no-op.
func (c *Coordinator) deal(ctx context.Context, players []models.Player) {
	state, err := c.store.GetRoomState(ctx, c.roomID)
	if err != nil && !errors.Is(err, bridge.ErrStateNotFound) {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to read state before deal")
		c.cancelCountdown(ctx)
		return
	}
	if state != nil && state.HasStarted {
		c.mu.Lock()
		c.phase = PhaseDealt
		c.cancelStep = nil
		c.mu.Unlock()
		return
	}

	deck := dealer.Shuffle(dealer.NewDeck())
	hands, _, err := dealer.Deal(deck, players)
	if err != nil {
		// caller misconfiguration (too many players for the deck)
		log.Error().Err(err).Str("room_id", c.roomID).Int("players", len(players)).Msg("deal failed")
		c.cancelCountdown(ctx)
		return
	}

	if _, err := c.store.UpsertRoomState(ctx, c.roomID, bridge.StateFields{
		Hands:          hands,
		CommunityCards: []models.Card{},
		HasStarted:     bridge.Bool(true),
		ClearCountdown: true,
	}); err != nil {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to commit deal")
		c.cancelCountdown(ctx)
		return
	}

	c.mu.Lock()
	c.phase = PhaseDealt
	c.cancelStep = nil
	c.mu.Unlock()

	log.Info().
		Str("room_id", c.roomID).
		Int("players", len(players)).
		Msg("hands dealt, game started")
}

// cancelCountdown returns the machine to Idle and nulls the persisted
// countdown. The clearing write is an unconditional overwrite, so firing
// it from several paths at once is harmless.
func (c *Coordinator) cancelCountdown(ctx context.Context) {
	c.mu.Lock()
	if c.phase != PhaseCounting {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseIdle
	cancel := c.cancelStep
	c.cancelStep = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if _, err := c.store.UpsertRoomState(context.WithoutCancel(ctx), c.roomID, bridge.StateFields{
		ClearCountdown: true,
	}); err != nil {
		log.Error().Err(err).Str("room_id", c.roomID).Msg("failed to clear countdown")
		return
	}

	log.Info().Str("room_id", c.roomID).Msg("countdown cancelled")
}

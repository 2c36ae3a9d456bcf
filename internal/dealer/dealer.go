// Package dealer holds the pure card logic: deck construction, shuffling
// and hand distribution. It keeps no state; every function is deterministic
// given its inputs (and, for Shuffle, the random source).
package dealer

import (
	"errors"
	"fmt"
	"math/rand"

	"cardroom/internal/models"
)

// ErrDeckTooSmall reports a deal requested with fewer than HandSize cards
// per player available. This is a caller bug, not a runtime condition.
var ErrDeckTooSmall = errors.New("dealer: deck too small for requested players")

// NewDeck returns the 52 standard card codes in canonical order:
// suits S, H, D, C, ranks 2 through A within each suit.
func NewDeck() []models.Card {
	deck := make([]models.Card, 0, models.DeckSize)
	for _, s := range models.Suits {
		for _, r := range models.Ranks {
			deck = append(deck, models.Card(r+s))
		}
	}
	return deck
}

// Shuffle returns a uniformly random permutation of deck using the shared
// math/rand source. The input is not modified.
func Shuffle(deck []models.Card) []models.Card {
	return ShuffleWith(rand.Int63n, deck)
}

// ShuffleWith returns a permutation of deck drawn with intn, a function
// returning a uniform value in [0, n). Passing a seeded source makes the
// permutation reproducible. The shuffle is Fisher-Yates: walk i from the
// last index down to 1 and swap with a uniform j in [0, i].
func ShuffleWith(intn func(n int64) int64, deck []models.Card) []models.Card {
	out := make([]models.Card, len(deck))
	copy(out, deck)
	for i := len(out) - 1; i > 0; i-- {
		j := intn(int64(i + 1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Deal assigns each player, in the given order, the next HandSize undealt
// cards from deck and returns the per-player hands plus the undealt
// remainder. Callers must pass players sorted by seat so repeated deals
// from the same deck are seat-consistent.
func Deal(deck []models.Card, players []models.Player) (map[string]models.Hand, []models.Card, error) {
	need := models.HandSize * len(players)
	if len(deck) < need {
		return nil, nil, fmt.Errorf("%w: %d cards for %d players", ErrDeckTooSmall, len(deck), len(players))
	}

	hands := make(map[string]models.Hand, len(players))
	pos := 0
	for _, p := range players {
		hand := make(models.Hand, models.HandSize)
		copy(hand, deck[pos:pos+models.HandSize])
		hands[p.UserID] = hand
		pos += models.HandSize
	}
	return hands, deck[pos:], nil
}

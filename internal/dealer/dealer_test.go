package dealer

import (
	"math/rand"
	"testing"

	"cardroom/internal/models"
)

func TestNewDeck(t *testing.T) {
	deck := NewDeck()
	if len(deck) != models.DeckSize {
		t.Fatalf("deck has %d cards, want %d", len(deck), models.DeckSize)
	}

	seen := make(map[models.Card]bool, len(deck))
	for _, c := range deck {
		if seen[c] {
			t.Errorf("duplicate card %q", c)
		}
		seen[c] = true
	}

	// Canonical order: suits outer, ranks inner.
	if deck[0] != "2S" || deck[12] != "AS" || deck[13] != "2H" || deck[51] != "AC" {
		t.Errorf("unexpected canonical order: %v ... %v", deck[:3], deck[49:])
	}
}

func TestShuffle_Permutation(t *testing.T) {
	deck := NewDeck()
	for trial := 0; trial < 100; trial++ {
		shuffled := Shuffle(deck)
		if len(shuffled) != len(deck) {
			t.Fatalf("shuffle changed length: %d", len(shuffled))
		}
		seen := make(map[models.Card]bool, len(shuffled))
		for _, c := range shuffled {
			if seen[c] {
				t.Fatalf("trial %d: duplicate card %q", trial, c)
			}
			seen[c] = true
		}
	}
}

func TestShuffle_DoesNotModifyInput(t *testing.T) {
	deck := NewDeck()
	before := make([]models.Card, len(deck))
	copy(before, deck)

	Shuffle(deck)

	for i := range deck {
		if deck[i] != before[i] {
			t.Fatalf("input deck modified at index %d", i)
		}
	}
}

func TestShuffleWith_Deterministic(t *testing.T) {
	deck := NewDeck()

	a := ShuffleWith(rand.New(rand.NewSource(42)).Int63n, deck)
	b := ShuffleWith(rand.New(rand.NewSource(42)).Int63n, deck)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different permutations at index %d: %q vs %q", i, a[i], b[i])
		}
	}
}

// Over many trials each card should land in position 0 roughly uniformly.
// The bound is loose on purpose; this guards against a broken shuffle, not
// statistical perfection.
func TestShuffle_PositionalUniformity(t *testing.T) {
	const trials = 5200 // 100 expected hits per card
	deck := NewDeck()

	counts := make(map[models.Card]int, models.DeckSize)
	for i := 0; i < trials; i++ {
		shuffled := Shuffle(deck)
		counts[shuffled[0]]++
	}

	for _, c := range deck {
		n := counts[c]
		if n < 40 || n > 200 {
			t.Errorf("card %q appeared %d times at position 0, expected around 100", c, n)
		}
	}
}

func testPlayers(ids ...string) []models.Player {
	players := make([]models.Player, len(ids))
	for i, id := range ids {
		players[i] = models.Player{RoomID: "r", UserID: id, Seat: i}
	}
	return players
}

func TestDeal_KnownDeck(t *testing.T) {
	deck := NewDeck() // 2S 3S 4S 5S 6S 7S ...
	players := testPlayers("p1", "p2", "p3")

	hands, remaining, err := Deal(deck, players)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]models.Hand{
		"p1": {"2S", "3S"},
		"p2": {"4S", "5S"},
		"p3": {"6S", "7S"},
	}
	for id, hand := range want {
		got := hands[id]
		if len(got) != 2 || got[0] != hand[0] || got[1] != hand[1] {
			t.Errorf("hand for %s = %v, want %v", id, got, hand)
		}
	}

	if len(remaining) != models.DeckSize-6 {
		t.Errorf("remainder has %d cards, want %d", len(remaining), models.DeckSize-6)
	}
	if remaining[0] != deck[6] {
		t.Errorf("remainder starts at %q, want %q", remaining[0], deck[6])
	}
}

func TestDeal_Deterministic(t *testing.T) {
	deck := ShuffleWith(rand.New(rand.NewSource(7)).Int63n, NewDeck())
	players := testPlayers("a", "b")

	h1, r1, err := Deal(deck, players)
	if err != nil {
		t.Fatal(err)
	}
	h2, r2, err := Deal(deck, players)
	if err != nil {
		t.Fatal(err)
	}

	for id := range h1 {
		if h1[id][0] != h2[id][0] || h1[id][1] != h2[id][1] {
			t.Errorf("repeated deal differs for %s: %v vs %v", id, h1[id], h2[id])
		}
	}
	if len(r1) != len(r2) {
		t.Errorf("remainder lengths differ: %d vs %d", len(r1), len(r2))
	}
}

func TestDeal_DeckTooSmall(t *testing.T) {
	deck := NewDeck()[:3]
	players := testPlayers("a", "b")

	_, _, err := Deal(deck, players)
	if err == nil {
		t.Fatal("expected error for undersized deck")
	}
}

func TestDeal_HandsDisjoint(t *testing.T) {
	deck := Shuffle(NewDeck())
	players := testPlayers("a", "b", "c", "d")

	hands, remaining, err := Deal(deck, players)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[models.Card]string)
	for id, hand := range hands {
		for _, c := range hand {
			if owner, dup := seen[c]; dup {
				t.Errorf("card %q dealt to both %s and %s", c, owner, id)
			}
			seen[c] = id
		}
	}
	for _, c := range remaining {
		if owner, dup := seen[c]; dup {
			t.Errorf("card %q in remainder but dealt to %s", c, owner)
		}
	}
}

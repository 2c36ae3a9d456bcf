package models

// Card is a short card code: rank symbol followed by suit symbol,
// e.g. "AS" (ace of spades) or "10H" (ten of hearts).
type Card string

// Suits in canonical deck order.
var Suits = []string{"S", "H", "D", "C"}

// Ranks in canonical deck order.
var Ranks = []string{"2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K", "A"}

// DeckSize is the number of cards in a standard deck.
const DeckSize = 52

// HandSize is the number of hole cards dealt to each player.
const HandSize = 2

// Hand is a player's hole cards in deal order.
type Hand []Card

// Rank returns the rank portion of the card code.
func (c Card) Rank() string {
	return string(c[:len(c)-1])
}

// Suit returns the suit portion of the card code.
func (c Card) Suit() string {
	return string(c[len(c)-1:])
}
